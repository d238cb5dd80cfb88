package datasources

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a source's token bucket cannot admit a call
// before the context deadline.
var ErrRateLimited = errors.New("rate limited")

// ProviderLimits is the token bucket for one source.
type ProviderLimits struct {
	RequestsPerSec float64
	BurstLimit     int
}

// DefaultLimits applies to sources without explicit limits.
var DefaultLimits = ProviderLimits{RequestsPerSec: 5, BurstLimit: 10}

// LimitManager holds one rate.Limiter per source.
type LimitManager struct {
	configured map[string]ProviderLimits
	limiters   map[string]*rate.Limiter
	mu         sync.Mutex
}

// NewLimitManager creates limiters for the given sources; others use DefaultLimits.
func NewLimitManager(limits map[string]ProviderLimits) *LimitManager {
	lm := &LimitManager{
		configured: make(map[string]ProviderLimits, len(limits)),
		limiters:   make(map[string]*rate.Limiter),
	}
	for name, l := range limits {
		lm.configured[name] = l
	}
	return lm
}

// Wait blocks until the source admits a call or ctx ends.
func (lm *LimitManager) Wait(ctx context.Context, source string) error {
	if err := lm.limiter(source).Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRateLimited, source, err)
	}
	return nil
}

// Allow reports whether a call may proceed now without waiting.
func (lm *LimitManager) Allow(source string) bool {
	return lm.limiter(source).Allow()
}

func (lm *LimitManager) limiter(source string) *rate.Limiter {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if l, ok := lm.limiters[source]; ok {
		return l
	}
	cfg, ok := lm.configured[source]
	if !ok {
		cfg = DefaultLimits
	}
	l := rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.BurstLimit)
	lm.limiters[source] = l
	return l
}
