package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/affinidi-community/tdk-core/internal/mediator/authz"
	"github.com/affinidi-community/tdk-core/internal/mediator/store"
)

// ErrOOBNotFound is returned by GetOOBInvite for an unknown or expired id.
var ErrOOBNotFound = errors.New("handlers: oob invite not found")

// ErrOOBForbidden is returned by DeleteOOBInvite when the caller is
// neither the owner nor an admin.
var ErrOOBForbidden = errors.New("handlers: not permitted to delete this oob invite")

// shortIDBytes sizes the opaque `_oobid` query parameter.
const shortIDBytes = 16

// PutOOBInvite implements spec §4.6's OOB discovery `POST /oob`: stores a
// plaintext OOB invitation keyed by an opaque short ID with TTL from
// config, returning that ID.
func (p *Pipeline) PutOOBInvite(ctx context.Context, ownerDIDHash string, envelope []byte) (string, error) {
	id, err := newShortID()
	if err != nil {
		return "", fmt.Errorf("handlers: generate oob id: %w", err)
	}

	expiresAt := int64(0)
	if p.Policy.OOBInviteTTL > 0 {
		expiresAt = p.now().Unix() + p.Policy.OOBInviteTTL
	}

	invite := &store.OOBInvite{
		ID:           id,
		Envelope:     envelope,
		OwnerDIDHash: ownerDIDHash,
		ExpiresAt:    expiresAt,
	}

	if err := p.Store.PutOOBInvite(ctx, invite); err != nil {
		return "", fmt.Errorf("handlers: put oob invite: %w", err)
	}

	return id, nil
}

// GetOOBInvite implements spec §4.6's unauthenticated `GET /oob`.
func (p *Pipeline) GetOOBInvite(ctx context.Context, id string) (*store.OOBInvite, error) {
	invite, err := p.Store.GetOOBInvite(ctx, id)
	if err != nil {
		return nil, ErrOOBNotFound
	}

	if invite.ExpiresAt != 0 && invite.ExpiresAt < p.now().Unix() {
		_ = p.Store.DeleteOOBInvite(ctx, id)

		return nil, ErrOOBNotFound
	}

	return invite, nil
}

// DeleteOOBInvite implements spec §4.6's `DELETE /oob`: only the owner or
// an admin may delete.
func (p *Pipeline) DeleteOOBInvite(ctx context.Context, sess Session, id string) error {
	invite, err := p.Store.GetOOBInvite(ctx, id)
	if err != nil {
		return ErrOOBNotFound
	}

	if invite.OwnerDIDHash != sess.DIDHash && p.Authz.RoleOf(sess.DIDHash) == authz.RoleStandard {
		return ErrOOBForbidden
	}

	if err := p.Store.DeleteOOBInvite(ctx, id); err != nil {
		return fmt.Errorf("handlers: delete oob invite: %w", err)
	}

	return nil
}

func newShortID() (string, error) {
	buf := make([]byte, shortIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
