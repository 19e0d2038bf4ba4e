package handlers

import (
	"encoding/json"
	"strings"

	"github.com/affinidi-community/tdk-core/internal/didcomm"
)

// Discover-features 2.0 types, per spec §4.6.
const (
	DiscoverFeaturesQueryType    = "https://didcomm.org/discover-features/2.0/queries"
	DiscoverFeaturesDiscloseType = "https://didcomm.org/discover-features/2.0/disclose"
)

// FeatureType is the axis a discover-features query matches against.
type FeatureType string

const (
	FeatureProtocol FeatureType = "protocol"
	FeatureGoalCode FeatureType = "goal-code"
	FeatureHeader   FeatureType = "header"
)

// SupportedFeatures lists the mediator's disclosable features. A real
// deployment seeds this from the set of message types its Pipeline
// actually dispatches; it is exported so the server wiring can populate
// it once at startup.
var SupportedFeatures = []Feature{
	{Type: FeatureProtocol, ID: "https://didcomm.org/routing/2.0/*"},
	{Type: FeatureProtocol, ID: "https://didcomm.org/messagepickup/3.0/*"},
	{Type: FeatureProtocol, ID: "https://didcomm.org/discover-features/2.0/*"},
	{Type: FeatureProtocol, ID: TrustPingMessageFamily},
	{Type: FeatureProtocol, ID: "https://affinidi.com/atm/1.0/*"},
}

// Feature is one disclosable capability.
type Feature struct {
	Type FeatureType `json:"feature-type"`
	ID   string      `json:"id"`
}

type featureQuery struct {
	FeatureType FeatureType `json:"feature-type"`
	Match       string      `json:"match"`
}

type queriesBody struct {
	Queries []featureQuery `json:"queries"`
}

type disclosuresBody struct {
	Disclosures []Feature `json:"disclosures"`
}

// matchesFeature reports whether pattern matches id, supporting a
// trailing `*` wildcard, per spec §4.6.
func matchesFeature(pattern, id string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(id, strings.TrimSuffix(pattern, "*"))
	}

	return pattern == id
}

func (p *Pipeline) handleDiscoverFeatures(msg *didcomm.Message) (*InboundOutcome, error) {
	var req queriesBody
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		return p.problemOutcome(msg.ID, ScopeMessage, SeverityError, "message.discover_features.malformed", err.Error(), 400), nil
	}

	var disclosed []Feature

	for _, q := range req.Queries {
		for _, f := range SupportedFeatures {
			if f.Type != q.FeatureType {
				continue
			}

			if matchesFeature(q.Match, f.ID) {
				disclosed = append(disclosed, f)
			}
		}
	}

	body, _ := json.Marshal(disclosuresBody{Disclosures: disclosed})

	reply := &didcomm.Message{ID: newID(), Type: DiscoverFeaturesDiscloseType, Thid: msg.ID, Body: body}

	return &InboundOutcome{Kind: OutcomeEphemeral, Reply: reply}, nil
}
