package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/affinidi-community/tdk-core/internal/didcomm"
	"github.com/affinidi-community/tdk-core/internal/mediator/authz"
	"github.com/affinidi-community/tdk-core/internal/mediator/store"
)

// Admin protocol types, per spec §4.6. These are not a published DIDComm
// protocol family; the mediator's own affinidi.com namespace.
const (
	AdminListType          = "https://affinidi.com/atm/1.0/admin-list"
	AdminListResponseType  = "https://affinidi.com/atm/1.0/admin-list-response"
	AdminAddType           = "https://affinidi.com/atm/1.0/admin-add"
	AdminStripType         = "https://affinidi.com/atm/1.0/admin-strip"
	ConfigurationType      = "https://affinidi.com/atm/1.0/configuration"
	ConfigurationResponseType = "https://affinidi.com/atm/1.0/configuration-response"
	adminOKResponseType    = "https://affinidi.com/atm/1.0/admin-ok"
)

// MediatorVersion is reported by the Configuration response.
const MediatorVersion = "tdk-mediator/1.0"

func isAdminMessageType(t string) bool {
	switch t {
	case AdminListType, AdminAddType, AdminStripType, ConfigurationType:
		return true
	default:
		return false
	}
}

type adminListBody struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type adminListResponseBody struct {
	DIDHashes []string `json:"did_hashes"`
	Cursor    string   `json:"cursor,omitempty"`
}

type adminAddBody struct {
	DIDs []string `json:"dids"`
}

type adminStripBody struct {
	DIDs []string `json:"dids"`
}

type configurationResponseBody struct {
	Version string         `json:"version"`
	Config  map[string]any `json:"config"`
}

func adminObjectFor(msgType string) string {
	switch msgType {
	case AdminListType:
		return authz.ObjAdminList
	case AdminAddType:
		return authz.ObjAdminAdd
	case AdminStripType:
		return authz.ObjAdminStrip
	case ConfigurationType:
		return authz.ObjConfiguration
	default:
		return ""
	}
}

// handleAdminMessage implements spec §4.6's admin protocol: every message
// requires the session DID to hold a role authorizing the corresponding
// object, and the message's created_time must fall within the configured
// staleness window.
func (p *Pipeline) handleAdminMessage(ctx context.Context, sess Session, msg *didcomm.Message) (*InboundOutcome, error) {
	if p.Policy.BlockRemoteAdminMsgs && !sess.ViaWebSocket {
		return p.problemOutcome(msg.ID, ScopeMessage, SeverityError, "authorization.admin.remote_blocked", "admin messages are not accepted on this session", 403), nil
	}

	if p.Policy.AdminMessagesExpiry > 0 {
		if msg.CreatedTime == nil || p.now().Unix()-*msg.CreatedTime > p.Policy.AdminMessagesExpiry {
			return p.problemOutcome(msg.ID, ScopeMessage, SeverityError, "authorization.admin.stale_message", "admin message outside the allowed time window", 400), nil
		}
	}

	obj := adminObjectFor(msg.Type)

	allowed, err := p.Authz.Authorize(sess.DIDHash, obj)
	if err != nil {
		return nil, fmt.Errorf("handlers: authorize admin message: %w", err)
	}

	if !allowed {
		return p.problemOutcome(msg.ID, ScopeMessage, SeverityError, "authorization.admin.denied", "session is not authorized for this admin operation", 403), nil
	}

	switch msg.Type {
	case AdminListType:
		return p.handleAdminList(ctx, msg)
	case AdminAddType:
		return p.handleAdminAdd(ctx, msg)
	case AdminStripType:
		return p.handleAdminStrip(ctx, msg)
	case ConfigurationType:
		return p.handleConfiguration(msg)
	default:
		return p.problemOutcome(msg.ID, ScopeProtocol, SeverityError, "protocol.unsupported", "unrecognised admin message", 400), nil
	}
}

func (p *Pipeline) handleAdminList(ctx context.Context, msg *didcomm.Message) (*InboundOutcome, error) {
	hashes, err := p.Store.ListAdminDIDHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("handlers: list admins: %w", err)
	}

	var req adminListBody
	_ = json.Unmarshal(msg.Body, &req)

	page := paginate(hashes, req.Cursor, req.Limit)

	body, _ := json.Marshal(adminListResponseBody{DIDHashes: page.items, Cursor: page.nextCursor})

	reply := &didcomm.Message{ID: newID(), Type: AdminListResponseType, Thid: msg.ID, Body: body}

	return &InboundOutcome{Kind: OutcomeEphemeral, Reply: reply}, nil
}

func (p *Pipeline) handleAdminAdd(ctx context.Context, msg *didcomm.Message) (*InboundOutcome, error) {
	var req adminAddBody
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		return p.problemOutcome(msg.ID, ScopeMessage, SeverityError, "message.admin.malformed", err.Error(), 400), nil
	}

	for _, did := range req.DIDs {
		hash := store.HashDID(did)

		if err := p.Authz.GrantRole(hash, authz.RoleAdmin); err != nil {
			return nil, fmt.Errorf("handlers: grant admin role: %w", err)
		}

		account, err := p.Store.GetAccount(ctx, hash)
		if err != nil {
			account = &store.Account{DIDHash: hash, ACLMode: store.ACLExplicitDeny}
		}

		account.AccountType = store.AccountAdmin

		if err := p.Store.UpsertAccount(ctx, account); err != nil {
			return nil, fmt.Errorf("handlers: upsert admin account: %w", err)
		}
	}

	reply := &didcomm.Message{ID: newID(), Type: adminOKResponseType, Thid: msg.ID, Body: json.RawMessage(`{}`)}

	return &InboundOutcome{Kind: OutcomeEphemeral, Reply: reply}, nil
}

// handleAdminStrip implements spec §4.6's AdminStrip: forbids stripping
// the root-admin or the mediator's own DID.
func (p *Pipeline) handleAdminStrip(ctx context.Context, msg *didcomm.Message) (*InboundOutcome, error) {
	var req adminStripBody
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		return p.problemOutcome(msg.ID, ScopeMessage, SeverityError, "message.admin.malformed", err.Error(), 400), nil
	}

	for _, did := range req.DIDs {
		if did == p.MediatorDID {
			return p.problemOutcome(msg.ID, ScopeMessage, SeverityError, "authorization.admin.protected", "cannot strip the mediator's own DID", 400), nil
		}

		hash := store.HashDID(did)

		if p.Authz.RoleOf(hash) == authz.RoleRootAdmin {
			return p.problemOutcome(msg.ID, ScopeMessage, SeverityError, "authorization.admin.protected", "cannot strip the root admin", 400), nil
		}
	}

	for _, did := range req.DIDs {
		hash := store.HashDID(did)

		if err := p.Authz.RevokeRole(hash); err != nil {
			return nil, fmt.Errorf("handlers: revoke admin role: %w", err)
		}

		if account, err := p.Store.GetAccount(ctx, hash); err == nil {
			account.AccountType = store.AccountStandard

			if err := p.Store.UpsertAccount(ctx, account); err != nil {
				return nil, fmt.Errorf("handlers: downgrade admin account: %w", err)
			}
		}
	}

	reply := &didcomm.Message{ID: newID(), Type: adminOKResponseType, Thid: msg.ID, Body: json.RawMessage(`{}`)}

	return &InboundOutcome{Kind: OutcomeEphemeral, Reply: reply}, nil
}

func (p *Pipeline) handleConfiguration(msg *didcomm.Message) (*InboundOutcome, error) {
	sanitised := map[string]any{
		"block_anonymous_outer_envelope": p.Policy.BlockAnonymousOuterEnvelope,
		"force_session_did_match":        p.Policy.ForceSessionDIDMatch,
		"local_direct_delivery_allowed":  p.Policy.LocalDirectDeliveryAllowed,
		"block_remote_admin_msgs":        p.Policy.BlockRemoteAdminMsgs,
	}

	body, _ := json.Marshal(configurationResponseBody{Version: MediatorVersion, Config: sanitised})

	reply := &didcomm.Message{ID: newID(), Type: ConfigurationResponseType, Thid: msg.ID, Body: body}

	return &InboundOutcome{Kind: OutcomeEphemeral, Reply: reply}, nil
}

type page struct {
	items      []string
	nextCursor string
}

// paginate is a simple offset-cursor paginator: cursor is the last-seen
// element (sorted order from ListAdminDIDHashes), limit defaults to all.
func paginate(all []string, cursor string, limit int) page {
	start := 0

	if cursor != "" {
		for i, h := range all {
			if h == cursor {
				start = i + 1

				break
			}
		}
	}

	if start >= len(all) {
		return page{}
	}

	end := len(all)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	out := page{items: all[start:end]}
	if end < len(all) {
		out.nextCursor = all[end-1]
	}

	return out
}
