package datasources

import (
	"context"
	"errors"
	"time"
)

// ErrorCoder is implemented by errors that carry a stable code for metrics.
type ErrorCoder interface {
	ErrorCode() string
}

// Guard wraps every upstream call with a rate limiter, a circuit breaker and
// a per-call timeout, and records the outcome.
type Guard struct {
	limits   *LimitManager
	circuits *CircuitManager
	health   *HealthManager
	recorder Recorder
	timeout  time.Duration
}

// NewGuard assembles a guard. timeout bounds each call, not the whole request.
func NewGuard(limits *LimitManager, circuits *CircuitManager, health *HealthManager, recorder Recorder, timeout time.Duration) *Guard {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Guard{
		limits:   limits,
		circuits: circuits,
		health:   health,
		recorder: recorder,
		timeout:  timeout,
	}
}

// Do runs fn for source. Limiter and breaker rejections are returned as
// ErrRateLimited and ErrCircuitOpen; fn's own error is returned unchanged.
func (g *Guard) Do(ctx context.Context, source string, fn func(ctx context.Context) error) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if g.limits != nil {
		if err := g.limits.Wait(ctx, source); err != nil {
			g.recorder.FetchObserved(source, 0, "RATE_LIMIT")
			return err
		}
	}

	run := func() error {
		start := time.Now()
		err := fn(ctx)
		elapsed := time.Since(start)

		if err != nil {
			if g.health != nil {
				g.health.RecordFailure(source, elapsed, err)
			}
			g.recorder.FetchObserved(source, elapsed, codeOf(err))
			return err
		}
		if g.health != nil {
			g.health.RecordSuccess(source, elapsed)
		}
		g.recorder.FetchObserved(source, elapsed, "")
		return nil
	}

	if g.circuits == nil {
		return run()
	}
	err := g.circuits.Execute(source, run)
	if err == ErrCircuitOpen {
		g.recorder.FetchObserved(source, 0, "CIRCUIT_OPEN")
	}
	return err
}

// Health exposes the guard's health manager.
func (g *Guard) Health() *HealthManager {
	return g.health
}

func codeOf(err error) string {
	var c ErrorCoder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return "ERROR"
}
