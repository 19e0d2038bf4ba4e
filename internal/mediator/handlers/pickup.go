package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/affinidi-community/tdk-core/internal/didcomm"
)

// Message pickup 3.0 types, per spec §4.6.
const (
	StatusRequestType   = "https://didcomm.org/messagepickup/3.0/status-request"
	StatusType          = "https://didcomm.org/messagepickup/3.0/status"
	DeliveryRequestType = "https://didcomm.org/messagepickup/3.0/delivery-request"
	DeliveryType        = "https://didcomm.org/messagepickup/3.0/delivery"
	MessagesReceivedType = "https://didcomm.org/messagepickup/3.0/messages-received"
)

// DefaultDeliveryBatchSize bounds one delivery-request's response when the
// caller's `limit` is absent or non-positive.
const DefaultDeliveryBatchSize = 10

func isPickupType(t string) bool {
	switch t {
	case StatusRequestType, DeliveryRequestType, MessagesReceivedType:
		return true
	default:
		return false
	}
}

type statusBody struct {
	RecipientDID  string `json:"recipient_did,omitempty"`
	MessageCount  int    `json:"message_count"`
}

type deliveryRequestBody struct {
	Limit int `json:"limit,omitempty"`
}

type messagesReceivedBody struct {
	MessageIDTags []string `json:"message_id_list"`
}

func (p *Pipeline) handlePickup(ctx context.Context, sess Session, msg *didcomm.Message) (*InboundOutcome, error) {
	switch msg.Type {
	case StatusRequestType:
		return p.handleStatusRequest(ctx, sess, msg)
	case DeliveryRequestType:
		return p.handleDeliveryRequest(ctx, sess, msg)
	case MessagesReceivedType:
		return p.handleMessagesReceived(ctx, sess, msg)
	default:
		return p.problemOutcome(msg.ID, ScopeProtocol, SeverityError, "protocol.unsupported", "unrecognised pickup message", 400), nil
	}
}

func (p *Pipeline) handleStatusRequest(ctx context.Context, sess Session, msg *didcomm.Message) (*InboundOutcome, error) {
	count, err := p.Store.CountInbox(ctx, sess.DIDHash)
	if err != nil {
		return nil, fmt.Errorf("handlers: count inbox: %w", err)
	}

	body, _ := json.Marshal(statusBody{MessageCount: count})

	reply := &didcomm.Message{ID: newID(), Type: StatusType, Thid: msg.ID, Body: body}

	return &InboundOutcome{Kind: OutcomeEphemeral, Reply: reply}, nil
}

func (p *Pipeline) handleDeliveryRequest(ctx context.Context, sess Session, msg *didcomm.Message) (*InboundOutcome, error) {
	var req deliveryRequestBody
	_ = json.Unmarshal(msg.Body, &req)

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultDeliveryBatchSize
	}

	queued, err := p.Store.ListInbox(ctx, sess.DIDHash, limit)
	if err != nil {
		return nil, fmt.Errorf("handlers: list inbox: %w", err)
	}

	if len(queued) == 0 {
		body, _ := json.Marshal(statusBody{MessageCount: 0})

		return &InboundOutcome{Kind: OutcomeEphemeral, Reply: &didcomm.Message{ID: newID(), Type: StatusType, Thid: msg.ID, Body: body}}, nil
	}

	attachments := make([]didcomm.Attachment, 0, len(queued))

	for _, q := range queued {
		attachments = append(attachments, didcomm.Attachment{
			ID:        q.ID,
			MediaType: "application/didcomm-envelope-enc",
			Data:      didcomm.AttachmentData{JSON: json.RawMessage(q.Envelope)},
		})
	}

	reply := &didcomm.Message{
		ID:          newID(),
		Type:        DeliveryType,
		Thid:        msg.ID,
		Attachments: attachments,
	}

	return &InboundOutcome{Kind: OutcomeEphemeral, Reply: reply}, nil
}

func (p *Pipeline) handleMessagesReceived(ctx context.Context, sess Session, msg *didcomm.Message) (*InboundOutcome, error) {
	var req messagesReceivedBody
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		return p.problemOutcome(msg.ID, ScopeMessage, SeverityError, "message.pickup.malformed", err.Error(), 400), nil
	}

	if err := p.Store.AckMessages(ctx, sess.DIDHash, req.MessageIDTags); err != nil {
		return nil, fmt.Errorf("handlers: ack messages: %w", err)
	}

	count, err := p.Store.CountInbox(ctx, sess.DIDHash)
	if err != nil {
		return nil, fmt.Errorf("handlers: count inbox: %w", err)
	}

	body, _ := json.Marshal(statusBody{MessageCount: count})

	reply := &didcomm.Message{ID: newID(), Type: StatusType, Thid: msg.ID, Body: body}

	return &InboundOutcome{Kind: OutcomeEphemeral, Reply: reply}, nil
}
