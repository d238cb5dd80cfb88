package datasources

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthManager_Snapshot(t *testing.T) {
	hm := NewHealthManager(NewCircuitManager(DefaultCircuitConfig, nil))

	for i := 1; i <= 10; i++ {
		hm.RecordSuccess("defillama", time.Duration(i)*10*time.Millisecond)
	}
	hm.RecordSuccess("coingecko", 50*time.Millisecond)
	hm.RecordFailure("coingecko", 15*time.Second, errors.New("deadline exceeded"))

	snap := hm.Snapshot()

	llama := snap.Sources["defillama"]
	assert.Equal(t, "healthy", llama.Status)
	assert.Equal(t, int64(10), llama.Successes)
	assert.Equal(t, 60*time.Millisecond, llama.LatencyP50)
	assert.Equal(t, 100*time.Millisecond, llama.LatencyP95)

	cg := snap.Sources["coingecko"]
	assert.Equal(t, "degraded", cg.Status)
	assert.Equal(t, "deadline exceeded", cg.LastError)
	assert.Equal(t, "degraded", snap.OverallHealth)
}

func TestHealthManager_EmptyIsHealthy(t *testing.T) {
	assert.Equal(t, "healthy", NewHealthManager(nil).Snapshot().OverallHealth)
}
