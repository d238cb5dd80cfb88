// Package provider holds the upstream client adapters. Each adapter fetches
// and shapes only its own raw payload; normalization happens elsewhere.
package provider

import (
	"context"
	"errors"

	"github.com/sawpanic/yieldrun/internal/datasources"
	"github.com/sawpanic/yieldrun/internal/infrastructure/httpclient"
)

// Source names used for guards, cache keys and metrics.
const (
	SourceDefiLlama = "defillama"
	SourceCoinGecko = "coingecko"
	SourceOnChain   = "onchain"
	SourceArchive   = "archive"
	SourceStatic    = "static"
)

// Upstream is the shared transport for adapters: the pooled HTTP client plus
// the guard that applies rate limits, breakers and the per-call timeout.
type Upstream struct {
	client *httpclient.ClientPool
	guard  *datasources.Guard
}

// NewUpstream creates the shared transport. guard may be nil in tests.
func NewUpstream(client *httpclient.ClientPool, guard *datasources.Guard) *Upstream {
	return &Upstream{client: client, guard: guard}
}

func (u *Upstream) getJSON(ctx context.Context, source, url string, headers map[string]string, out interface{}) error {
	return u.call(ctx, source, func(ctx context.Context) error {
		return u.client.GetJSON(ctx, url, headers, out)
	})
}

func (u *Upstream) postJSON(ctx context.Context, source, url string, body, out interface{}) error {
	return u.call(ctx, source, func(ctx context.Context) error {
		return u.client.PostJSON(ctx, url, body, out)
	})
}

// call runs fn under the guard. fn's failures are classified before the guard
// sees them so metrics carry their code; only limiter and breaker rejections
// are classified afterwards.
func (u *Upstream) call(ctx context.Context, source string, fn func(context.Context) error) error {
	coded := func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return classify(source, err)
		}
		return nil
	}
	if u.guard == nil {
		return coded(ctx)
	}

	err := u.guard.Do(ctx, source, coded)
	var fe *FetchError
	if err == nil || errors.As(err, &fe) {
		return err
	}
	return classify(source, err)
}
