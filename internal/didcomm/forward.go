package didcomm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/affinidi-community/tdk-core/internal/diddoc"
	"github.com/affinidi-community/tdk-core/internal/didcomm/jose"
	"github.com/affinidi-community/tdk-core/internal/errs"
)

// ForwardMessageType is the DIDComm routing protocol's forward type, per
// spec §4.5.
const ForwardMessageType = "https://didcomm.org/routing/2.0/forward"

// ForwardBody is the body of a forward message: the next hop's DID.
type ForwardBody struct {
	Next string `json:"next"`
}

// ParsedForward is the result of TryParseForward.
type ParsedForward struct {
	Next          string
	ForwardedMsg  json.RawMessage
}

// TryParseForward returns a non-nil ParsedForward iff msg is a forward
// envelope: type matches, body carries a `next` string, and the first
// attachment carries inline JSON data, per spec §4.5.
func TryParseForward(msg *Message) *ParsedForward {
	if msg.Type != ForwardMessageType {
		return nil
	}

	var body ForwardBody
	if err := json.Unmarshal(msg.Body, &body); err != nil || body.Next == "" {
		return nil
	}

	if len(msg.Attachments) == 0 || len(msg.Attachments[0].Data.JSON) == 0 {
		return nil
	}

	return &ParsedForward{Next: body.Next, ForwardedMsg: msg.Attachments[0].Data.JSON}
}

// routingKeys extracts a DIDCommMessaging service's declared routingKeys,
// the mediator chain a forward envelope must wrap through.
func routingKeys(doc *diddoc.Document) []string {
	for _, svc := range doc.DIDCommServiceEndpoints() {
		if svc.Endpoint.Map == nil {
			continue
		}

		raw, ok := svc.Endpoint.Map["routingKeys"].([]any)
		if !ok {
			continue
		}

		keys := make([]string, 0, len(raw))

		for _, k := range raw {
			if s, ok := k.(string); ok {
				keys = append(keys, s)
			}
		}

		return keys
	}

	return nil
}

// wrapForward implements spec §4.5 step 6: wrap envelope in a chain of
// Forward messages, one per declared routing key, outermost addressed to
// the first mediator and anoncrypted to each hop in turn.
func (e *Engine) wrapForward(ctx context.Context, envelope *jose.Message, toDoc *diddoc.Document) (*jose.Message, error) {
	hops := routingKeys(toDoc)
	if len(hops) == 0 {
		return envelope, nil
	}

	inner, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("didcomm: marshal inner envelope: %w", err)
	}

	for i := len(hops) - 1; i >= 0; i-- {
		hopDID := hops[i]

		hopDoc, err := e.Resolver.ResolveDocument(ctx, hopDID)
		if err != nil {
			return nil, errs.New(errs.KindDIDNotResolved, "didcomm", "resolve routing hop", err)
		}

		recipients, err := e.recipientKeys(hopDoc)
		if err != nil {
			return nil, err
		}

		next := toDoc.ID
		if i+1 < len(hops) {
			next = hops[i+1]
		}

		fwdMsg := &Message{
			ID:   fmt.Sprintf("forward-%d", i),
			Type: ForwardMessageType,
			Body: mustMarshal(ForwardBody{Next: next}),
			Attachments: []Attachment{{
				Data: AttachmentData{JSON: inner},
			}},
		}

		plaintext, err := json.Marshal(fwdMsg)
		if err != nil {
			return nil, fmt.Errorf("didcomm: marshal forward message: %w", err)
		}

		wrapped, err := jose.Encrypt(plaintext, jose.EncA256GCM, recipients, "", nil)
		if err != nil {
			return nil, errs.New(errs.KindInvalidState, "didcomm", "encrypt forward layer", err)
		}

		inner, err = json.Marshal(wrapped)
		if err != nil {
			return nil, fmt.Errorf("didcomm: marshal wrapped forward: %w", err)
		}
	}

	var out jose.Message
	if err := json.Unmarshal(inner, &out); err != nil {
		return nil, fmt.Errorf("didcomm: unmarshal outermost forward envelope: %w", err)
	}

	return &out, nil
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	return b
}
