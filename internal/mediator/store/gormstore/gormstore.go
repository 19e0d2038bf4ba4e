// Package gormstore implements store.Store over SQLite via glebarez/sqlite,
// grounded on the teacher's server/database/gorm package: one struct per
// table, AutoMigrate at open, CRUD methods wrapping a *gorm.DB.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/affinidi-community/tdk-core/internal/mediator/store"
	"github.com/affinidi-community/tdk-core/internal/obslog"
)

var logger = obslog.Logger("mediator/store")

// accountRow is the Account table, ACLPeerDIDHashes flattened to a
// comma-joined column since SQLite has no native array type and this
// store has no need for per-peer indexing.
type accountRow struct {
	DIDHash           string `gorm:"column:did_hash;primaryKey"`
	AccountType       string `gorm:"column:account_type;not null"`
	ACLMode           string `gorm:"column:acl_mode;not null"`
	ACLPeerDIDHashes  string `gorm:"column:acl_peer_did_hashes"`
	SendQueueLimit    int    `gorm:"column:send_queue_limit"`
	ReceiveQueueLimit int    `gorm:"column:receive_queue_limit"`
}

func (accountRow) TableName() string { return "accounts" }

type sessionRow struct {
	SessionID   string `gorm:"column:session_id;primaryKey"`
	DID         string `gorm:"column:did;not null"`
	DIDHash     string `gorm:"column:did_hash;not null;index"`
	AccountType string `gorm:"column:account_type;not null"`
	ExpiresAt   int64  `gorm:"column:expires_at;not null"`
}

func (sessionRow) TableName() string { return "sessions" }

type oobInviteRow struct {
	ID           string `gorm:"column:id;primaryKey"`
	Envelope     []byte `gorm:"column:envelope"`
	OwnerDIDHash string `gorm:"column:owner_did_hash;not null;index"`
	ExpiresAt    int64  `gorm:"column:expires_at;not null"`
}

func (oobInviteRow) TableName() string { return "oob_invites" }

type queuedMessageRow struct {
	ID               string `gorm:"column:id;primaryKey"`
	RecipientDIDHash string `gorm:"column:recipient_did_hash;not null;index"`
	Envelope         []byte `gorm:"column:envelope"`
	CreatedAt        int64  `gorm:"column:created_at;not null"`
	ExpiresAt        int64  `gorm:"column:expires_at"`
}

func (queuedMessageRow) TableName() string { return "queued_messages" }

// Store is a SQLite-backed store.Store.
type Store struct {
	db *gorm.DB
}

// Open connects to a SQLite database at path (":memory:" for an ephemeral
// store) and runs migrations.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open: %w", err)
	}

	if err := db.AutoMigrate(&accountRow{}, &sessionRow{}, &oobInviteRow{}, &queuedMessageRow{}); err != nil {
		return nil, fmt.Errorf("gormstore: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) GetAccount(ctx context.Context, didHash string) (*store.Account, error) {
	var row accountRow

	if err := s.db.WithContext(ctx).Where("did_hash = ?", didHash).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}

		return nil, fmt.Errorf("gormstore: get account: %w", err)
	}

	return fromAccountRow(row), nil
}

func (s *Store) UpsertAccount(ctx context.Context, account *store.Account) error {
	row := toAccountRow(account)

	err := s.db.WithContext(ctx).Save(&row).Error
	if err != nil {
		return fmt.Errorf("gormstore: upsert account: %w", err)
	}

	logger.Debug("account upserted", "did_hash", account.DIDHash, "account_type", account.AccountType)

	return nil
}

func (s *Store) ListAdminDIDHashes(ctx context.Context) ([]string, error) {
	var rows []accountRow

	err := s.db.WithContext(ctx).
		Where("account_type IN ?", []string{string(store.AccountAdmin), string(store.AccountRootAdmin)}).
		Order("did_hash ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: list admins: %w", err)
	}

	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.DIDHash
	}

	return out, nil
}

func (s *Store) PutSession(ctx context.Context, session *store.Session) error {
	row := sessionRow{
		SessionID:   session.SessionID,
		DID:         session.DID,
		DIDHash:     session.DIDHash,
		AccountType: string(session.AccountType),
		ExpiresAt:   session.ExpiresAt,
	}

	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("gormstore: put session: %w", err)
	}

	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	var row sessionRow

	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}

		return nil, fmt.Errorf("gormstore: get session: %w", err)
	}

	return &store.Session{
		SessionID:   row.SessionID,
		DID:         row.DID,
		DIDHash:     row.DIDHash,
		AccountType: store.AccountType(row.AccountType),
		ExpiresAt:   row.ExpiresAt,
	}, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.db.WithContext(ctx).Delete(&sessionRow{}, "session_id = ?", sessionID).Error; err != nil {
		return fmt.Errorf("gormstore: delete session: %w", err)
	}

	return nil
}

func (s *Store) PutOOBInvite(ctx context.Context, invite *store.OOBInvite) error {
	row := oobInviteRow{
		ID:           invite.ID,
		Envelope:     invite.Envelope,
		OwnerDIDHash: invite.OwnerDIDHash,
		ExpiresAt:    invite.ExpiresAt,
	}

	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("gormstore: put oob invite: %w", err)
	}

	return nil
}

func (s *Store) GetOOBInvite(ctx context.Context, id string) (*store.OOBInvite, error) {
	var row oobInviteRow

	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}

		return nil, fmt.Errorf("gormstore: get oob invite: %w", err)
	}

	return &store.OOBInvite{
		ID:           row.ID,
		Envelope:     row.Envelope,
		OwnerDIDHash: row.OwnerDIDHash,
		ExpiresAt:    row.ExpiresAt,
	}, nil
}

func (s *Store) DeleteOOBInvite(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&oobInviteRow{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("gormstore: delete oob invite: %w", err)
	}

	return nil
}

func (s *Store) Enqueue(ctx context.Context, msg *store.QueuedMessage) error {
	row := queuedMessageRow{
		ID:               msg.ID,
		RecipientDIDHash: msg.RecipientDIDHash,
		Envelope:         msg.Envelope,
		CreatedAt:        msg.CreatedAt,
		ExpiresAt:        msg.ExpiresAt,
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("gormstore: enqueue: %w", err)
	}

	return nil
}

func (s *Store) ListInbox(ctx context.Context, didHash string, limit int) ([]store.QueuedMessage, error) {
	q := s.db.WithContext(ctx).
		Where("recipient_did_hash = ?", didHash).
		Where("expires_at = 0 OR expires_at > ?", time.Now().Unix()).
		Order("created_at ASC")

	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []queuedMessageRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list inbox: %w", err)
	}

	out := make([]store.QueuedMessage, len(rows))
	for i, r := range rows {
		out[i] = store.QueuedMessage{
			ID:               r.ID,
			RecipientDIDHash: r.RecipientDIDHash,
			Envelope:         r.Envelope,
			CreatedAt:        r.CreatedAt,
			ExpiresAt:        r.ExpiresAt,
		}
	}

	return out, nil
}

func (s *Store) CountInbox(ctx context.Context, didHash string) (int, error) {
	var n int64

	err := s.db.WithContext(ctx).Model(&queuedMessageRow{}).
		Where("recipient_did_hash = ?", didHash).
		Where("expires_at = 0 OR expires_at > ?", time.Now().Unix()).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("gormstore: count inbox: %w", err)
	}

	return int(n), nil
}

func (s *Store) AckMessages(ctx context.Context, didHash string, ids []string) error {
	err := s.db.WithContext(ctx).
		Where("recipient_did_hash = ? AND id IN ?", didHash, ids).
		Delete(&queuedMessageRow{}).Error
	if err != nil {
		return fmt.Errorf("gormstore: ack messages: %w", err)
	}

	return nil
}

func toAccountRow(a *store.Account) accountRow {
	return accountRow{
		DIDHash:           a.DIDHash,
		AccountType:       string(a.AccountType),
		ACLMode:           string(a.ACLMode),
		ACLPeerDIDHashes:  strings.Join(a.ACLPeerDIDHashes, ","),
		SendQueueLimit:    a.SendQueueLimit,
		ReceiveQueueLimit: a.ReceiveQueueLimit,
	}
}

func fromAccountRow(r accountRow) *store.Account {
	var peers []string
	if r.ACLPeerDIDHashes != "" {
		peers = strings.Split(r.ACLPeerDIDHashes, ",")
	}

	return &store.Account{
		DIDHash:           r.DIDHash,
		AccountType:       store.AccountType(r.AccountType),
		ACLMode:           store.ACLMode(r.ACLMode),
		ACLPeerDIDHashes:  peers,
		SendQueueLimit:    r.SendQueueLimit,
		ReceiveQueueLimit: r.ReceiveQueueLimit,
	}
}

var _ store.Store = (*Store)(nil)
