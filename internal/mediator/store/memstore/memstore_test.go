package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affinidi-community/tdk-core/internal/mediator/store"
)

func TestAccount_UpsertAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.GetAccount(ctx, "did-hash-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.UpsertAccount(ctx, &store.Account{DIDHash: "did-hash-1", AccountType: store.AccountStandard}))

	got, err := s.GetAccount(ctx, "did-hash-1")
	require.NoError(t, err)
	assert.Equal(t, store.AccountStandard, got.AccountType)
}

func TestListAdminDIDHashes_OnlyAdminsAndRootAdmins(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertAccount(ctx, &store.Account{DIDHash: "standard", AccountType: store.AccountStandard}))
	require.NoError(t, s.UpsertAccount(ctx, &store.Account{DIDHash: "admin", AccountType: store.AccountAdmin}))
	require.NoError(t, s.UpsertAccount(ctx, &store.Account{DIDHash: "root", AccountType: store.AccountRootAdmin}))

	admins, err := s.ListAdminDIDHashes(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"admin", "root"}, admins)
}

func TestSession_PutGetDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.PutSession(ctx, &store.Session{SessionID: "sess-1", DIDHash: "did-hash-1"}))

	got, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "did-hash-1", got.DIDHash)

	require.NoError(t, s.DeleteSession(ctx, "sess-1"))
	_, err = s.GetSession(ctx, "sess-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOOBInvite_PutGetDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.PutOOBInvite(ctx, &store.OOBInvite{ID: "oob-1"}))

	got, err := s.GetOOBInvite(ctx, "oob-1")
	require.NoError(t, err)
	assert.Equal(t, "oob-1", got.ID)

	require.NoError(t, s.DeleteOOBInvite(ctx, "oob-1"))
	_, err = s.GetOOBInvite(ctx, "oob-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInbox_EnqueueListCountAck(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, s.Enqueue(ctx, &store.QueuedMessage{ID: id, RecipientDIDHash: "did-hash-1"}))
	}

	count, err := s.CountInbox(ctx, "did-hash-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	msgs, err := s.ListInbox(ctx, "did-hash-1", 2)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	require.NoError(t, s.AckMessages(ctx, "did-hash-1", []string{"m1", "m3"}))

	remaining, err := s.ListInbox(ctx, "did-hash-1", 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "m2", remaining[0].ID)
}

func TestInbox_CountForUnknownDIDIsZero(t *testing.T) {
	s := New()

	count, err := s.CountInbox(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
