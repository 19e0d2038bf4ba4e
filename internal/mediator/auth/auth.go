// Package auth implements the mediator's side of the DID-Auth handshake
// of spec §4.7/§6.3: issuing challenges, verifying the caller's signed
// response, and minting the bearer session internal/mediator/server's
// middleware chain consumes.
//
// Grounded on internal/didauth (the caller side of the same protocol) for
// the wire shapes, and on internal/authcache.Tokens for the token pair
// returned to the caller. The mediator implements the Complex wire
// variant; see DESIGN.md for why the Simple variant is caller-side only.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/affinidi-community/tdk-core/internal/didcomm"
	"github.com/affinidi-community/tdk-core/internal/errs"
	"github.com/affinidi-community/tdk-core/internal/mediator/handlers"
	"github.com/affinidi-community/tdk-core/internal/mediator/store"
)

// ChallengeExpiry is how long a pending challenge remains valid, per
// spec §4.7's `expires_time = now+60`.
const ChallengeExpiry = 60 * time.Second

// AccessTokenTTL and RefreshTokenTTL size the tokens minted on a
// successful handshake.
const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 24 * time.Hour
)

const authenticateMessageType = "https://affinidi.com/atm/1.0/authenticate"

type pendingChallenge struct {
	did       string
	challenge string
	expiresAt time.Time
}

// Authenticator runs the mediator's server side of the DID-Auth
// handshake and resolves bearer tokens back to sessions.
type Authenticator struct {
	MediatorDID string
	DIDComm     *didcomm.Engine
	Store       store.Store

	mu       sync.Mutex
	pending  map[string]pendingChallenge
	bearers  map[string]string // bearer token -> session id
}

// New builds an Authenticator.
func New(mediatorDID string, engine *didcomm.Engine, st store.Store) *Authenticator {
	return &Authenticator{
		MediatorDID: mediatorDID,
		DIDComm:     engine,
		Store:       st,
		pending:     make(map[string]pendingChallenge),
		bearers:     make(map[string]string),
	}
}

// challengeResponse is the Complex wire variant's `POST /challenge` reply,
// per spec §4.7.
type challengeResponse struct {
	SessionID string        `json:"session_id"`
	Data      challengeData `json:"data"`
}

type challengeData struct {
	Challenge string `json:"challenge"`
}

// Challenge issues a fresh challenge for did, per spec §6.3.
func (a *Authenticator) Challenge(did string) (*challengeResponse, error) {
	challenge, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("auth: generate challenge: %w", err)
	}

	sessionID := uuid.NewString()

	a.mu.Lock()
	a.pending[sessionID] = pendingChallenge{did: did, challenge: challenge, expiresAt: time.Now().Add(ChallengeExpiry)}
	a.mu.Unlock()

	return &challengeResponse{SessionID: sessionID, Data: challengeData{Challenge: challenge}}, nil
}

type tokensResponse struct {
	SessionID string     `json:"session_id"`
	Data      tokensData `json:"data"`
}

type tokensData struct {
	AccessToken      string `json:"access_token"`
	AccessExpiresAt  int64  `json:"access_expires_at"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresAt int64  `json:"refresh_expires_at"`
}

// Authenticate implements spec §6.3's `POST /` leg of the Complex
// variant: the request body is the packed authenticate envelope itself
// (no outer wrapper); the session_id correlating it to a prior challenge
// travels inside the encrypted DIDComm body, per spec §4.7 step 2.
func (a *Authenticator) Authenticate(ctx context.Context, packedEnvelope []byte) (*tokensResponse, error) {
	msg, meta, err := a.DIDComm.Unpack(ctx, packedEnvelope)
	if err != nil {
		return nil, errs.New(errs.KindMalformed, "mediator/auth", "unpack authenticate message", err)
	}

	if msg.Type != authenticateMessageType {
		return nil, errs.New(errs.KindMalformed, "mediator/auth", "unexpected message type", nil)
	}

	if meta.Anonymous {
		return nil, errs.New(errs.KindACLDenied, "mediator/auth", "authenticate message must be signed", nil)
	}

	var body struct {
		Challenge string `json:"challenge"`
		SessionID string `json:"session_id"`
	}

	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return nil, errs.New(errs.KindMalformed, "mediator/auth", "decode authenticate body", err)
	}

	a.mu.Lock()
	pc, ok := a.pending[body.SessionID]
	delete(a.pending, body.SessionID)
	a.mu.Unlock()

	if !ok || time.Now().After(pc.expiresAt) {
		return nil, errs.New(errs.KindACLDenied, "mediator/auth", "challenge expired or unknown session", nil)
	}

	if body.Challenge != pc.challenge {
		return nil, errs.New(errs.KindACLDenied, "mediator/auth", "challenge mismatch", nil)
	}

	signerDID := stripFragment(meta.SignFrom)
	if signerDID == "" || signerDID != pc.did {
		return nil, errs.New(errs.KindACLDenied, "mediator/auth", "signer does not match challenged DID", nil)
	}

	account, err := a.Store.GetAccount(ctx, store.HashDID(signerDID))
	if err != nil {
		account = &store.Account{DIDHash: store.HashDID(signerDID), AccountType: store.AccountStandard, ACLMode: store.ACLExplicitDeny}

		if err := a.Store.UpsertAccount(ctx, account); err != nil {
			return nil, fmt.Errorf("auth: provision account: %w", err)
		}
	}

	now := time.Now()

	session := &store.Session{
		SessionID:   uuid.NewString(),
		DID:         signerDID,
		DIDHash:     account.DIDHash,
		AccountType: account.AccountType,
		ExpiresAt:   now.Add(AccessTokenTTL).Unix(),
	}

	if err := a.Store.PutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("auth: put session: %w", err)
	}

	access, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("auth: generate access token: %w", err)
	}

	refresh, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("auth: generate refresh token: %w", err)
	}

	a.mu.Lock()
	a.bearers[access] = session.SessionID
	a.mu.Unlock()

	return &tokensResponse{
		SessionID: body.SessionID,
		Data: tokensData{
			AccessToken:      access,
			AccessExpiresAt:  now.Add(AccessTokenTTL).Unix(),
			RefreshToken:     refresh,
			RefreshExpiresAt: now.Add(RefreshTokenTTL).Unix(),
		},
	}, nil
}

// SessionFromBearer implements server.SessionAuthenticator.
func (a *Authenticator) SessionFromBearer(ctx context.Context, token string) (*handlers.Session, error) {
	a.mu.Lock()
	sessionID, ok := a.bearers[token]
	a.mu.Unlock()

	if !ok {
		return nil, errs.New(errs.KindACLDenied, "mediator/auth", "unknown bearer token", nil)
	}

	sess, err := a.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, errs.New(errs.KindACLDenied, "mediator/auth", "session not found", err)
	}

	if time.Now().Unix() > sess.ExpiresAt {
		a.mu.Lock()
		delete(a.bearers, token)
		a.mu.Unlock()

		return nil, errs.New(errs.KindACLDenied, "mediator/auth", "session expired", nil)
	}

	return &handlers.Session{
		SessionID:   sess.SessionID,
		DID:         sess.DID,
		DIDHash:     sess.DIDHash,
		AccountType: sess.AccountType,
		ExpiresAt:   sess.ExpiresAt,
	}, nil
}

func stripFragment(kidOrDID string) string {
	for i, c := range kidOrDID {
		if c == '#' {
			return kidOrDID[:i]
		}
	}

	return kidOrDID
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
