package datasources

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when a source's breaker rejects the call.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitConfig defines when a source's breaker trips.
type CircuitConfig struct {
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	MaxHalfOpen         uint32
}

// DefaultCircuitConfig trips after 5 straight failures or a 50% error rate.
var DefaultCircuitConfig = CircuitConfig{
	ConsecutiveFailures: 5,
	FailureRatio:        0.5,
	MinRequests:         10,
	Interval:            2 * time.Minute,
	Timeout:             time.Minute,
	MaxHalfOpen:         1,
}

// CircuitManager holds one gobreaker per source, created on first use.
type CircuitManager struct {
	config   CircuitConfig
	breakers map[string]*gobreaker.CircuitBreaker
	recorder Recorder
	mu       sync.Mutex
}

// NewCircuitManager creates a manager with config applied to every source.
func NewCircuitManager(config CircuitConfig, recorder Recorder) *CircuitManager {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &CircuitManager{
		config:   config,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		recorder: recorder,
	}
}

// Execute runs fn through the source's breaker. Rejections map to ErrCircuitOpen.
func (cm *CircuitManager) Execute(source string, fn func() error) error {
	_, err := cm.breaker(source).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State returns the source's breaker state name.
func (cm *CircuitManager) State(source string) string {
	return cm.breaker(source).State().String()
}

// States returns every known breaker state.
func (cm *CircuitManager) States() map[string]string {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	states := make(map[string]string, len(cm.breakers))
	for name, b := range cm.breakers {
		states[name] = b.State().String()
	}
	return states
}

func (cm *CircuitManager) breaker(source string) *gobreaker.CircuitBreaker {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if b, ok := cm.breakers[source]; ok {
		return b
	}

	cfg := cm.config
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        source,
		MaxRequests: cfg.MaxHalfOpen,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests >= cfg.MinRequests && cfg.FailureRatio > 0 {
				if float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio {
					return true
				}
			}
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("component", "circuit").
				Str("source", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			cm.recorder.BreakerState(name, to.String())
		},
	})
	cm.breakers[source] = b
	cm.recorder.BreakerState(source, b.State().String())
	return b
}
