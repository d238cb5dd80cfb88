package datasources

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type codedErr struct{ code string }

func (e codedErr) Error() string     { return e.code }
func (e codedErr) ErrorCode() string { return e.code }

type fetchRecorder struct {
	NopRecorder
	codes []string
}

func (r *fetchRecorder) FetchObserved(_ string, _ time.Duration, code string) {
	r.codes = append(r.codes, code)
}

func TestGuard_Do(t *testing.T) {
	rec := &fetchRecorder{}
	circuits := NewCircuitManager(CircuitConfig{ConsecutiveFailures: 2, MinRequests: 100, Timeout: time.Minute}, nil)
	health := NewHealthManager(circuits)
	g := NewGuard(NewLimitManager(nil), circuits, health, rec, time.Second)
	ctx := context.Background()

	require.NoError(t, g.Do(ctx, "defillama", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok, "per-call timeout applied")
		return nil
	}))

	bad := fmt.Errorf("fetch pools: %w", codedErr{code: "HTTP_STATUS"})
	assert.ErrorIs(t, g.Do(ctx, "defillama", func(context.Context) error { return bad }), bad)
	assert.Error(t, g.Do(ctx, "defillama", func(context.Context) error { return bad }))
	assert.ErrorIs(t, g.Do(ctx, "defillama", func(context.Context) error { return nil }), ErrCircuitOpen)

	assert.Equal(t, []string{"", "HTTP_STATUS", "HTTP_STATUS", "CIRCUIT_OPEN"}, rec.codes)
	assert.Equal(t, "unhealthy", health.Snapshot().Sources["defillama"].Status)
}
