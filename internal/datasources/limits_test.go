package datasources

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimitManager_Burst(t *testing.T) {
	lm := NewLimitManager(map[string]ProviderLimits{
		"coingecko": {RequestsPerSec: 0.1, BurstLimit: 2},
	})

	assert.True(t, lm.Allow("coingecko"))
	assert.True(t, lm.Allow("coingecko"))
	assert.False(t, lm.Allow("coingecko"))

	// unknown sources get the default bucket
	assert.True(t, lm.Allow("onchain"))
}

func TestLimitManager_WaitRespectsDeadline(t *testing.T) {
	lm := NewLimitManager(map[string]ProviderLimits{
		"coingecko": {RequestsPerSec: 0.01, BurstLimit: 1},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.NoError(t, lm.Wait(ctx, "coingecko"))
	err := lm.Wait(ctx, "coingecko")
	assert.ErrorIs(t, err, ErrRateLimited)
}
