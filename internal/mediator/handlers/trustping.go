package handlers

import (
	"encoding/json"

	"github.com/affinidi-community/tdk-core/internal/didcomm"
)

// TrustPingMessageFamily identifies trust-ping 2.0 for discover-features.
const TrustPingMessageFamily = "https://didcomm.org/trust-ping/2.0/*"

// Trust ping 2.0 types, per spec §4.6.
const (
	TrustPingType         = "https://didcomm.org/trust-ping/2.0/ping"
	TrustPingResponseType = "https://didcomm.org/trust-ping/2.0/ping-response"
)

type trustPingBody struct {
	ResponseRequested bool   `json:"response_requested"`
	Comment           string `json:"comment,omitempty"`
}

// handleTrustPing implements spec §4.6's trust ping: anonymous pings
// cannot request a response.
func (p *Pipeline) handleTrustPing(msg *didcomm.Message, meta *didcomm.UnpackMetadata) (*InboundOutcome, error) {
	var body trustPingBody
	_ = json.Unmarshal(msg.Body, &body)

	if !body.ResponseRequested || meta.Anonymous {
		return &InboundOutcome{Kind: OutcomeEphemeral}, nil
	}

	reply := &didcomm.Message{
		ID:   newID(),
		Type: TrustPingResponseType,
		Thid: msg.ID,
		Body: json.RawMessage(`{}`),
	}

	return &InboundOutcome{Kind: OutcomeEphemeral, Reply: reply}, nil
}
