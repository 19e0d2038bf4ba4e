package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_RelayDeliversToLiveSession(t *testing.T) {
	b := New()

	ch := b.Register("did-hash-1")
	assert.True(t, b.IsLive("did-hash-1"))

	ok := b.Relay("did-hash-1", []byte("envelope"))
	assert.True(t, ok)

	select {
	case ev := <-ch:
		assert.Equal(t, EventDeliver, ev.Kind)
		assert.Equal(t, []byte("envelope"), ev.Envelope)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestRelay_NoSessionReturnsFalse(t *testing.T) {
	b := New()

	assert.False(t, b.Relay("did-hash-unknown", []byte("x")))
}

func TestRegister_EvictsPriorSessionForSameDID(t *testing.T) {
	b := New()

	oldCh := b.Register("did-hash-1")
	newCh := b.Register("did-hash-1")

	require.NotEqual(t, oldCh, newCh)

	select {
	case ev, ok := <-oldCh:
		require.True(t, ok)
		assert.Equal(t, EventClose, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for eviction close event")
	}

	_, stillOpen := <-oldCh
	assert.False(t, stillOpen)

	assert.Equal(t, 1, b.SessionCount())
}

func TestUnregister_StaleChannelDoesNotClobberNewerSession(t *testing.T) {
	b := New()

	oldCh := b.Register("did-hash-1")
	newCh := b.Register("did-hash-1")
	<-oldCh // drain the eviction close event

	b.Unregister("did-hash-1", oldCh)

	assert.True(t, b.IsLive("did-hash-1"))
	assert.Equal(t, 1, b.SessionCount())

	_ = newCh
}

func TestUnregister_RemovesCurrentSession(t *testing.T) {
	b := New()

	ch := b.Register("did-hash-1")
	b.Unregister("did-hash-1", ch)

	assert.False(t, b.IsLive("did-hash-1"))
	assert.Equal(t, 0, b.SessionCount())
}
