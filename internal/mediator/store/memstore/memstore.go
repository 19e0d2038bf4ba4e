// Package memstore is an in-memory store.Store implementation for tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/affinidi-community/tdk-core/internal/mediator/store"
)

// Store is a mutex-guarded, map-backed store.Store.
type Store struct {
	mu       sync.Mutex
	accounts map[string]store.Account
	sessions map[string]store.Session
	invites  map[string]store.OOBInvite
	inbox    map[string][]store.QueuedMessage
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts: make(map[string]store.Account),
		sessions: make(map[string]store.Session),
		invites:  make(map[string]store.OOBInvite),
		inbox:    make(map[string][]store.QueuedMessage),
	}
}

func (s *Store) GetAccount(_ context.Context, didHash string) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[didHash]
	if !ok {
		return nil, store.ErrNotFound
	}

	return &a, nil
}

func (s *Store) UpsertAccount(_ context.Context, account *store.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[account.DIDHash] = *account

	return nil
}

func (s *Store) ListAdminDIDHashes(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string

	for hash, a := range s.accounts {
		if a.AccountType == store.AccountAdmin || a.AccountType == store.AccountRootAdmin {
			out = append(out, hash)
		}
	}

	sort.Strings(out)

	return out, nil
}

func (s *Store) PutSession(_ context.Context, session *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.SessionID] = *session

	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID string) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}

	return &sess, nil
}

func (s *Store) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)

	return nil
}

func (s *Store) PutOOBInvite(_ context.Context, invite *store.OOBInvite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invites[invite.ID] = *invite

	return nil
}

func (s *Store) GetOOBInvite(_ context.Context, id string) (*store.OOBInvite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invites[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	return &inv, nil
}

func (s *Store) DeleteOOBInvite(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.invites, id)

	return nil
}

func (s *Store) Enqueue(_ context.Context, msg *store.QueuedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inbox[msg.RecipientDIDHash] = append(s.inbox[msg.RecipientDIDHash], *msg)

	return nil
}

func (s *Store) ListInbox(_ context.Context, didHash string, limit int) ([]store.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.inbox[didHash]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}

	out := make([]store.QueuedMessage, len(msgs))
	copy(out, msgs)

	return out, nil
}

func (s *Store) CountInbox(_ context.Context, didHash string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.inbox[didHash]), nil
}

func (s *Store) AckMessages(_ context.Context, didHash string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	toDelete := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		toDelete[id] = struct{}{}
	}

	remaining := s.inbox[didHash][:0]

	for _, m := range s.inbox[didHash] {
		if _, dead := toDelete[m.ID]; !dead {
			remaining = append(remaining, m)
		}
	}

	s.inbox[didHash] = remaining

	return nil
}

var _ store.Store = (*Store)(nil)
