package resolver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/affinidi-community/tdk-core/internal/did"
	"github.com/affinidi-community/tdk-core/internal/diddoc"
)

// PeerResolver computes a did:peer document purely from the identifier,
// handling numalgo 0 (single inception key) and numalgo 2 (multiple keys
// + service descriptors), per spec §4.2.
type PeerResolver struct{}

func (PeerResolver) Resolve(_ context.Context, d *did.DID) (*diddoc.Document, bool, error) {
	if d.Method != did.MethodPeer {
		return nil, false, nil
	}

	switch d.PeerNumalgo {
	case 0:
		return resolvePeer0(d)
	case 2:
		return resolvePeer2(d)
	default:
		return nil, true, fmt.Errorf("resolver: did:peer numalgo %d unsupported", d.PeerNumalgo)
	}
}

func resolvePeer0(d *did.DID) (*diddoc.Document, bool, error) {
	multikey := d.Raw[len("did:peer:0"):]
	vmID := d.Raw + "#" + multikey

	vm := diddoc.VerificationMethod{ID: vmID, Type: "Multikey", Controller: d.Raw, PublicKeyMultibase: multikey}

	doc := &diddoc.Document{
		ID:                  d.Raw,
		VerificationMethod:  []diddoc.VerificationMethod{vm},
		Authentication:      []diddoc.VerificationRelationship{{Reference: vmID}},
		AssertionMethod:     []diddoc.VerificationRelationship{{Reference: vmID}},
		KeyAgreement:        []diddoc.VerificationRelationship{{Reference: vmID}},
		CapabilityInvocation: []diddoc.VerificationRelationship{{Reference: vmID}},
		CapabilityDelegation: []diddoc.VerificationRelationship{{Reference: vmID}},
	}

	return doc, true, nil
}

// purpose codes for did:peer numalgo 2 segments, per the did:peer spec.
const (
	purposeKeyAgreement         = 'E'
	purposeAuthentication       = 'V'
	purposeAssertion            = 'A'
	purposeCapabilityInvocation = 'I'
	purposeCapabilityDelegation = 'D'
	purposeService              = 'S'
)

func resolvePeer2(d *did.DID) (*diddoc.Document, bool, error) {
	doc := &diddoc.Document{ID: d.Raw}

	keyIndex := 0

	for _, seg := range d.PathSegments {
		purpose := seg[0]
		value := seg[1:]

		if purpose == purposeService {
			svc, err := decodePeerService(d.Raw, value)
			if err != nil {
				return nil, true, err
			}

			doc.Service = append(doc.Service, svc)

			continue
		}

		vmID := fmt.Sprintf("%s#key-%d", d.Raw, keyIndex+1)
		keyIndex++

		vm := diddoc.VerificationMethod{ID: vmID, Type: "Multikey", Controller: d.Raw, PublicKeyMultibase: value}
		doc.VerificationMethod = append(doc.VerificationMethod, vm)

		ref := diddoc.VerificationRelationship{Reference: vmID}

		switch purpose {
		case purposeKeyAgreement:
			doc.KeyAgreement = append(doc.KeyAgreement, ref)
		case purposeAuthentication:
			doc.Authentication = append(doc.Authentication, ref)
		case purposeAssertion:
			doc.AssertionMethod = append(doc.AssertionMethod, ref)
		case purposeCapabilityInvocation:
			doc.CapabilityInvocation = append(doc.CapabilityInvocation, ref)
		case purposeCapabilityDelegation:
			doc.CapabilityDelegation = append(doc.CapabilityDelegation, ref)
		default:
			return nil, true, fmt.Errorf("resolver: did:peer numalgo 2: unknown purpose %q", string(purpose))
		}
	}

	if err := doc.Validate(); err != nil {
		return nil, true, fmt.Errorf("resolver: did:peer produced invalid document: %w", err)
	}

	return doc, true, nil
}

// decodePeerService decodes a base64url service descriptor segment into a
// DID Document Service entry.
func decodePeerService(peerDID, encoded string) (diddoc.Service, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return diddoc.Service{}, fmt.Errorf("resolver: did:peer service descriptor: %w", err)
	}

	var descriptor struct {
		Type string   `json:"t"`
		Endp string   `json:"s"`
		Acc  []string `json:"a,omitempty"`
	}

	if err := json.Unmarshal(raw, &descriptor); err != nil {
		return diddoc.Service{}, fmt.Errorf("resolver: did:peer service descriptor: %w", err)
	}

	svcType := descriptor.Type
	if svcType == "dm" {
		svcType = "DIDCommMessaging"
	}

	return diddoc.Service{
		ID:   fmt.Sprintf("%s#didcomm-0", peerDID),
		Type: diddoc.Single(svcType),
		Endpoint: diddoc.ServiceEndpoint{
			Map: map[string]any{
				"uri":    descriptor.Endp,
				"accept": toAnySlice(descriptor.Acc),
			},
		},
	}, nil
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}

	return out
}
