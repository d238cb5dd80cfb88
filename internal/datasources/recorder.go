package datasources

import "time"

// Recorder receives datasource telemetry. The metrics registry implements it.
type Recorder interface {
	CacheResult(source, result string)
	FetchObserved(source string, elapsed time.Duration, code string)
	BreakerState(source string, state string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) CacheResult(string, string)                  {}
func (NopRecorder) FetchObserved(string, time.Duration, string) {}
func (NopRecorder) BreakerState(string, string)                 {}
