// Package store defines the mediator's persistence contract of spec
// §4.6/§8: accounts with access-list-gated ACLs, authenticated sessions,
// the store-and-forward inbox queue, and the OOB invite store. Two
// implementations satisfy Store: gormstore (SQLite via glebarez/sqlite,
// grounded on the teacher's server/database/gorm) and memstore (in-memory,
// for tests).
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrNotFound is returned by single-entity lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// HashDID returns the hex-encoded SHA-256 digest of a fragment-stripped
// DID, the `digest(sender)`/`did_hash` used throughout the mediator for
// account keys, ACL membership, and session identity, per spec §3/§8.
func HashDID(did string) string {
	if i := strings.IndexByte(did, '#'); i >= 0 {
		did = did[:i]
	}

	sum := sha256.Sum256([]byte(did))

	return hex.EncodeToString(sum[:])
}

// AccountType is the mediator's three-tier account classification, per
// spec §3.
type AccountType string

const (
	AccountStandard  AccountType = "standard"
	AccountAdmin     AccountType = "admin"
	AccountRootAdmin AccountType = "root-admin"
)

// ACLMode selects how an account's peer list is interpreted, per spec §3.
type ACLMode string

const (
	// ACLExplicitAllow permits only peers present in the list.
	ACLExplicitAllow ACLMode = "explicit-allow"
	// ACLExplicitDeny permits every peer except those present in the list.
	ACLExplicitDeny ACLMode = "explicit-deny"
)

// Account is one mediator-hosted recipient, per spec §3.
type Account struct {
	DIDHash            string
	AccountType        AccountType
	ACLMode            ACLMode
	ACLPeerDIDHashes   []string
	SendQueueLimit     int
	ReceiveQueueLimit  int
}

// Allows reports whether peerDIDHash may send to this account, per spec
// §8's access-list invariant:
// (mode=Allow ∧ peer∈list) ∨ (mode=Deny ∧ peer∉list).
func (a *Account) Allows(peerDIDHash string) bool {
	inList := false

	for _, h := range a.ACLPeerDIDHashes {
		if h == peerDIDHash {
			inList = true

			break
		}
	}

	if a.ACLMode == ACLExplicitAllow {
		return inList
	}

	return !inList
}

// Session is one authenticated mediator connection, per spec §3.
type Session struct {
	SessionID   string
	DID         string
	DIDHash     string
	AccountType AccountType
	ExpiresAt   int64 // unix seconds
}

// OOBInvite is a stored out-of-band invitation, per spec §4.6.
type OOBInvite struct {
	ID           string
	Envelope     []byte
	OwnerDIDHash string
	ExpiresAt    int64 // unix seconds
}

// QueuedMessage is one store-and-forward inbox entry, per spec §4.6.
type QueuedMessage struct {
	ID               string
	RecipientDIDHash string
	Envelope         []byte
	CreatedAt        int64 // unix seconds
	ExpiresAt        int64 // unix seconds, 0 = no expiry
}

// Store is the mediator's persistence contract. All methods are safe for
// concurrent use.
type Store interface {
	// Accounts.
	GetAccount(ctx context.Context, didHash string) (*Account, error)
	UpsertAccount(ctx context.Context, account *Account) error
	ListAdminDIDHashes(ctx context.Context) ([]string, error)

	// Sessions.
	PutSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// OOB invites.
	PutOOBInvite(ctx context.Context, invite *OOBInvite) error
	GetOOBInvite(ctx context.Context, id string) (*OOBInvite, error)
	DeleteOOBInvite(ctx context.Context, id string) error

	// Inbox (store-and-forward) queue.
	Enqueue(ctx context.Context, msg *QueuedMessage) error
	ListInbox(ctx context.Context, didHash string, limit int) ([]QueuedMessage, error)
	CountInbox(ctx context.Context, didHash string) (int, error)
	AckMessages(ctx context.Context, didHash string, ids []string) error
}
