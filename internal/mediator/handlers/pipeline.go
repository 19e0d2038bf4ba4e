package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/affinidi-community/tdk-core/internal/didcomm"
	"github.com/affinidi-community/tdk-core/internal/didcomm/jose"
	"github.com/affinidi-community/tdk-core/internal/mediator/authz"
	"github.com/affinidi-community/tdk-core/internal/mediator/store"
	"github.com/affinidi-community/tdk-core/internal/mediator/stream"
	"github.com/affinidi-community/tdk-core/internal/obslog"
)

var logger = obslog.Logger("mediator/handlers")

// Session is the caller's authenticated context, established by DID-Auth
// before the inbound pipeline runs, per spec §4.6 step 1.
type Session struct {
	SessionID   string
	DID         string
	DIDHash     string
	AccountType store.AccountType
	ExpiresAt   int64 // unix seconds, the JWT-expiry the WS loop's timer watches

	// ViaWebSocket is true when this pipeline invocation runs over the
	// live WebSocket connection opened with the handshake's bearer
	// session, false for a standalone `/inbound` HTTP POST presenting
	// that same bearer token later, decoupled from the connection that
	// completed DID-Auth. Set by the server per transport, per spec
	// §4.6's admin policy.
	ViaWebSocket bool
}

// Policy holds the mediator's configurable behaviour switches, per spec
// §6.5's security.* options.
type Policy struct {
	BlockAnonymousOuterEnvelope bool
	ForceSessionDIDMatch        bool
	LocalDirectDeliveryAllowed  bool
	AdminMessagesExpiry         int64 // seconds
	BlockRemoteAdminMsgs        bool
	MessageExpirySecondsCap     int64
	OOBInviteTTL                int64
	BlockedForwarding           map[string]struct{}
}

// InboundOutcome is the result of HandleInbound, per spec §6.1's
// InboundMessageResponse sum.
type InboundOutcome struct {
	Kind     InboundOutcomeKind
	Stored   []string // recipient DID hashes a copy was queued for
	Errors   []string
	Reply    *didcomm.Message // set when Kind == OutcomeEphemeral or OutcomeProblemReport
	Forward  *store.Account   // set when Kind == OutcomeForwarded (the next hop)
}

type InboundOutcomeKind int

const (
	OutcomeStored InboundOutcomeKind = iota
	OutcomeForwarded
	OutcomeEphemeral
	OutcomeProblemReport
)

// Pipeline wires the mediator's inbound pipeline and protocol handlers to
// their dependencies, per spec §4.6.
type Pipeline struct {
	MediatorDID string
	DIDComm     *didcomm.Engine
	Store       store.Store
	Authz       *authz.Authorizer
	Stream      *stream.Bus
	Policy      Policy

	now func() time.Time
}

// NewPipeline builds a Pipeline; now defaults to time.Now.
func NewPipeline(mediatorDID string, engine *didcomm.Engine, st store.Store, az *authz.Authorizer, bus *stream.Bus, policy Policy) *Pipeline {
	return &Pipeline{
		MediatorDID: mediatorDID,
		DIDComm:     engine,
		Store:       st,
		Authz:       az,
		Stream:      bus,
		Policy:      policy,
		now:         time.Now,
	}
}

// HandleInbound runs spec §4.6's pipeline over one envelope received on
// HTTP /inbound or a WebSocket frame.
func (p *Pipeline) HandleInbound(ctx context.Context, sess Session, envelopeRaw []byte) (*InboundOutcome, error) {
	var envelope jose.Message
	if err := json.Unmarshal(envelopeRaw, &envelope); err != nil {
		return p.problemOutcome("", ScopeMessage, SeverityError, "message.envelope.read", err.Error(), 400), nil
	}

	if envelopeAddressesMediator(&envelope, p.MediatorDID) {
		return p.handleAsProtocolMessage(ctx, sess, envelopeRaw)
	}

	recipientDID := outerRecipientDID(&envelope)
	if recipientDID == "" {
		return p.problemOutcome("", ScopeMessage, SeverityError, "message.envelope.read", "no resolvable recipient kid", 400), nil
	}

	return p.directDelivery(ctx, sess, envelopeRaw, recipientDID)
}

// envelopeAddressesMediator reports whether any outer-envelope recipient
// kid belongs to the mediator's own DID, per spec §4.6 step 3.
func envelopeAddressesMediator(envelope *jose.Message, mediatorDID string) bool {
	for _, rec := range envelope.Recipients {
		if stripFragment(rec.Header.Kid) == mediatorDID {
			return true
		}
	}

	return false
}

// outerRecipientDID returns the fragment-stripped DID of the first
// recipient kid, the "to" the route decision uses for a non-mediator
// envelope.
func outerRecipientDID(envelope *jose.Message) string {
	if len(envelope.Recipients) == 0 {
		return ""
	}

	return stripFragment(envelope.Recipients[0].Header.Kid)
}

// directDelivery implements spec §4.6 step 3's else-branch: the envelope
// is stored for a local recipient without being unwrapped.
func (p *Pipeline) directDelivery(ctx context.Context, sess Session, envelopeRaw []byte, toHint string) (*InboundOutcome, error) {
	if !p.Policy.LocalDirectDeliveryAllowed {
		return p.problemOutcome("", ScopeMessage, SeverityError, "delivery.direct.disabled", "direct delivery is disabled", 403), nil
	}

	recipientHash := store.HashDID(toHint)

	account, err := p.Store.GetAccount(ctx, recipientHash)
	if err != nil {
		return p.problemOutcome("", ScopeMessage, SeverityError, "delivery.recipient.unknown", "recipient has no local account", 404), nil
	}

	if !account.Allows(sess.DIDHash) {
		logger.Warn("access-list denied direct delivery", "sender", sess.DIDHash, "recipient", recipientHash)

		return p.problemOutcome("", ScopeMessage, SeverityError, "authorization.access_list.denied", "sender is not permitted to deliver to this recipient", 403), nil
	}

	if err := p.storeMessage(ctx, recipientHash, envelopeRaw, 0); err != nil {
		return nil, err
	}

	return &InboundOutcome{Kind: OutcomeStored, Stored: []string{recipientHash}}, nil
}

// handleAsProtocolMessage implements spec §4.6 step 3's if-branch: unpack
// and dispatch to a protocol handler, applying the anonymous/session-DID/
// admin policies first.
func (p *Pipeline) handleAsProtocolMessage(ctx context.Context, sess Session, envelopeRaw []byte) (*InboundOutcome, error) {
	msg, meta, err := p.DIDComm.Unpack(ctx, envelopeRaw)
	if err != nil {
		return p.problemOutcome("", ScopeMessage, SeverityError, "message.envelope.read", err.Error(), 400), nil
	}

	if fwd := didcomm.TryParseForward(msg); fwd != nil {
		return p.handleForward(ctx, sess, fwd)
	}

	if p.Policy.BlockAnonymousOuterEnvelope && meta.Anonymous {
		return p.problemOutcome(msg.ID, ScopeMessage, SeverityError, "message.anonymous", "anonymous outer envelopes are not accepted", 400), nil
	}

	if p.Policy.ForceSessionDIDMatch && !meta.Anonymous {
		signerDID := stripFragment(meta.SignFrom)
		if signerDID != "" && signerDID != sess.DID {
			logger.Warn("session/signer DID mismatch", "session_did", sess.DID, "signer_did", signerDID)

			return p.problemOutcome(msg.ID, ScopeMessage, SeverityError, "authorization.did.session_mismatch", "signing DID does not match the session DID", 400), nil
		}
	}

	if isAdminMessageType(msg.Type) {
		return p.handleAdminMessage(ctx, sess, msg)
	}

	switch {
	case isPickupType(msg.Type):
		return p.handlePickup(ctx, sess, msg)
	case msg.Type == DiscoverFeaturesQueryType:
		return p.handleDiscoverFeatures(msg)
	case msg.Type == TrustPingType:
		return p.handleTrustPing(msg, meta)
	default:
		return p.problemOutcome(msg.ID, ScopeProtocol, SeverityError, "protocol.unsupported", fmt.Sprintf("unsupported message type %q", msg.Type), 400), nil
	}
}

// handleForward implements spec §4.6's Forward handling: next-hop
// existence, access-list check, blocked-forwarding list, store without
// recursive unwrap.
func (p *Pipeline) handleForward(ctx context.Context, sess Session, fwd *didcomm.ParsedForward) (*InboundOutcome, error) {
	nextHash := store.HashDID(fwd.Next)

	if _, blocked := p.Policy.BlockedForwarding[nextHash]; blocked {
		return p.problemOutcome("", ScopeMessage, SeverityError, "forwarding.next_hop.blocked", "forwarding to this hop is blocked", 403), nil
	}

	account, err := p.Store.GetAccount(ctx, nextHash)
	if err != nil {
		return p.problemOutcome("", ScopeMessage, SeverityError, "forwarding.next_hop.unknown", "next hop has no local account", 404), nil
	}

	if !account.Allows(sess.DIDHash) {
		return p.problemOutcome("", ScopeMessage, SeverityError, "authorization.access_list.denied", "sender is not permitted to forward to this hop", 403), nil
	}

	if err := p.storeMessage(ctx, nextHash, fwd.ForwardedMsg, 0); err != nil {
		return nil, err
	}

	return &InboundOutcome{Kind: OutcomeForwarded, Stored: []string{nextHash}}, nil
}

// storeMessage implements spec §4.6's store_message: queue one copy for
// recipientHash with a TTL capped by config, and push it live if the
// recipient has an active WebSocket subscription.
func (p *Pipeline) storeMessage(ctx context.Context, recipientHash string, envelope []byte, messageExpiresAt int64) error {
	expiresAt := messageExpiresAt
	if p.Policy.MessageExpirySecondsCap > 0 {
		cap := p.now().Unix() + p.Policy.MessageExpirySecondsCap
		if expiresAt == 0 || expiresAt > cap {
			expiresAt = cap
		}
	}

	msg := &store.QueuedMessage{
		ID:               newID(),
		RecipientDIDHash: recipientHash,
		Envelope:         envelope,
		CreatedAt:        p.now().Unix(),
		ExpiresAt:        expiresAt,
	}

	if err := p.Store.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("handlers: enqueue: %w", err)
	}

	if p.Stream != nil {
		p.Stream.Relay(recipientHash, envelope)
	}

	return nil
}

func (p *Pipeline) problemOutcome(thid string, scope ProblemScope, severity ProblemSeverity, code, comment string, httpStatus int) *InboundOutcome {
	pr := NewProblemReport(thid, scope, severity, code, comment, httpStatus)

	return &InboundOutcome{Kind: OutcomeProblemReport, Reply: pr.Message, Errors: []string{pr.Code}}
}

func stripFragment(kidOrDID string) string {
	for i, c := range kidOrDID {
		if c == '#' {
			return kidOrDID[:i]
		}
	}

	return kidOrDID
}

func newID() string { return uuid.NewString() }
