package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisabledLimiter_AlwaysAllows(t *testing.T) {
	l := New(Config{Enabled: false})

	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("did-hash-1", "trust-ping/2.0/ping"))
	}
	assert.Equal(t, 0, l.Count())
}

func TestPerDIDBucket_ExhaustsAndBlocks(t *testing.T) {
	l := New(Config{Enabled: true, PerDIDRPS: 1, PerDIDBurst: 2})

	assert.True(t, l.Allow("did-hash-1", ""))
	assert.True(t, l.Allow("did-hash-1", ""))
	assert.False(t, l.Allow("did-hash-1", ""))
}

func TestPerDIDBucket_IsolatedAcrossDIDs(t *testing.T) {
	l := New(Config{Enabled: true, PerDIDRPS: 1, PerDIDBurst: 1})

	assert.True(t, l.Allow("did-hash-1", ""))
	assert.True(t, l.Allow("did-hash-2", ""))
	assert.False(t, l.Allow("did-hash-1", ""))
}

func TestMethodLimitOverride_TakesPrecedenceOverPerDID(t *testing.T) {
	l := New(Config{
		Enabled:     true,
		PerDIDRPS:   100,
		PerDIDBurst: 100,
		MethodLimits: map[string]MethodLimit{
			"trust-ping/2.0/ping": {RPS: 1, Burst: 1},
		},
	})

	assert.True(t, l.Allow("did-hash-1", "trust-ping/2.0/ping"))
	assert.False(t, l.Allow("did-hash-1", "trust-ping/2.0/ping"))
	assert.True(t, l.Allow("did-hash-1", "other-method"))
}

func TestGlobalLimiter_UsedWhenNoDIDHash(t *testing.T) {
	l := New(Config{Enabled: true, GlobalRPS: 1, GlobalBurst: 1})

	assert.True(t, l.Allow("", ""))
	assert.False(t, l.Allow("", ""))
}

func TestCount_TracksDistinctKeys(t *testing.T) {
	l := New(Config{Enabled: true, PerDIDRPS: 10, PerDIDBurst: 10})

	l.Allow("did-hash-1", "")
	l.Allow("did-hash-2", "")
	l.Allow("did-hash-1", "")

	assert.Equal(t, 2, l.Count())
}
