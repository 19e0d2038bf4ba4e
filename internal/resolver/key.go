package resolver

import (
	"context"
	"fmt"

	"github.com/affinidi-community/tdk-core/internal/codec/multibase"
	"github.com/affinidi-community/tdk-core/internal/did"
	"github.com/affinidi-community/tdk-core/internal/diddoc"
)

// KeyResolver computes a did:key document purely from the identifier,
// per spec §4.2 and Concrete Scenario 1: one verification method whose
// publicKeyMultibase equals the identifier's multibase portion, one
// authentication reference, one keyAgreement reference (when the key
// codec supports key agreement).
type KeyResolver struct{}

func (KeyResolver) Resolve(_ context.Context, d *did.DID) (*diddoc.Document, bool, error) {
	if d.Method != did.MethodKey {
		return nil, false, nil
	}

	multikey := d.Raw[len("did:key:"):]
	vmID := d.Raw + "#" + multikey

	vm := diddoc.VerificationMethod{
		ID:                 vmID,
		Type:               vmTypeForCodec(d.KeyCodec),
		Controller:         d.Raw,
		PublicKeyMultibase: multikey,
	}

	doc := &diddoc.Document{
		ID:                  d.Raw,
		VerificationMethod:  []diddoc.VerificationMethod{vm},
		Authentication:      []diddoc.VerificationRelationship{{Reference: vmID}},
		AssertionMethod:     []diddoc.VerificationRelationship{{Reference: vmID}},
		CapabilityInvocation: []diddoc.VerificationRelationship{{Reference: vmID}},
		CapabilityDelegation: []diddoc.VerificationRelationship{{Reference: vmID}},
	}

	if keyAgreementCapable(d.KeyCodec) {
		doc.KeyAgreement = []diddoc.VerificationRelationship{{Reference: vmID}}
	}

	if err := doc.Validate(); err != nil {
		return nil, true, fmt.Errorf("resolver: did:key produced invalid document: %w", err)
	}

	return doc, true, nil
}

func vmTypeForCodec(codec multibase.Codec) string {
	switch codec {
	case multibase.CodecEd25519Pub:
		return "Ed25519VerificationKey2020"
	case multibase.CodecX25519Pub:
		return "X25519KeyAgreementKey2020"
	case multibase.CodecP256Pub, multibase.CodecP384Pub:
		return "JsonWebKey2020"
	case multibase.CodecSecp256k1Pub:
		return "EcdsaSecp256k1VerificationKey2019"
	default:
		return "Multikey"
	}
}

func keyAgreementCapable(codec multibase.Codec) bool {
	switch codec {
	case multibase.CodecX25519Pub, multibase.CodecP256Pub, multibase.CodecP384Pub:
		return true
	case multibase.CodecEd25519Pub:
		// Ed25519 keys are convertible to X25519 for key agreement; the
		// did:key document advertises the same multikey for both.
		return true
	default:
		return false
	}
}
