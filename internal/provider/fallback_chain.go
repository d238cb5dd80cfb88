package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Strategy is one data source in an ordered fallback chain.
type Strategy[T any] struct {
	Name  string
	Fetch func(ctx context.Context) ([]T, error)
}

// Attempt records how one strategy fared.
type Attempt struct {
	Strategy string        `json:"strategy"`
	Err      string        `json:"error,omitempty"`
	Empty    bool          `json:"empty,omitempty"`
	Items    int           `json:"items"`
	Latency  time.Duration `json:"latency"`
}

// ChainResult is the outcome of Run: the winning strategy's items plus the
// attempts made before it.
type ChainResult[T any] struct {
	Items    []T       `json:"items"`
	Source   string    `json:"source"`
	Attempts []Attempt `json:"attempts"`
}

// AllEmpty reports whether every attempt succeeded with no items.
func (r ChainResult[T]) AllEmpty() bool {
	if len(r.Attempts) == 0 {
		return false
	}
	for _, a := range r.Attempts {
		if !a.Empty {
			return false
		}
	}
	return true
}

// Chain tries strategies in order and short-circuits on the first one that
// returns a non-empty result.
type Chain[T any] struct {
	name       string
	strategies []Strategy[T]
}

// NewChain creates a chain. It panics on an empty strategy list.
func NewChain[T any](name string, strategies ...Strategy[T]) *Chain[T] {
	if len(strategies) == 0 {
		panic("fallback chain must have at least one strategy")
	}
	return &Chain[T]{name: name, strategies: strategies}
}

// Run executes the chain. An empty success is treated as a miss and the next
// strategy is tried.
func (c *Chain[T]) Run(ctx context.Context) (ChainResult[T], error) {
	var (
		result  ChainResult[T]
		lastErr error
	)

	for i, s := range c.strategies {
		start := time.Now()
		items, err := s.Fetch(ctx)
		attempt := Attempt{Strategy: s.Name, Items: len(items), Latency: time.Since(start)}

		switch {
		case err != nil:
			attempt.Err = err.Error()
			lastErr = err
		case len(items) == 0:
			attempt.Err = "empty result"
			attempt.Empty = true
			lastErr = fmt.Errorf("%s: empty result", s.Name)
		default:
			result.Attempts = append(result.Attempts, attempt)
			result.Items = items
			result.Source = s.Name
			if i > 0 {
				log.Warn().
					Str("component", "fallback").
					Str("chain", c.name).
					Str("strategy", s.Name).
					Int("attempts", i+1).
					Msg("served from fallback strategy")
			}
			return result, nil
		}

		result.Attempts = append(result.Attempts, attempt)
		log.Debug().
			Str("component", "fallback").
			Str("chain", c.name).
			Str("strategy", s.Name).
			Str("error", attempt.Err).
			Msg("strategy failed")
	}

	return result, &FetchError{
		Source:  c.name,
		Code:    ErrCodeAPIError,
		Message: fmt.Sprintf("all strategies in chain failed, last error: %v", lastErr),
		Cause:   lastErr,
	}
}
