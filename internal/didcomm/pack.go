package didcomm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/affinidi-community/tdk-core/internal/crypto"
	"github.com/affinidi-community/tdk-core/internal/diddoc"
	"github.com/affinidi-community/tdk-core/internal/didcomm/jose"
	"github.com/affinidi-community/tdk-core/internal/errs"
	"github.com/affinidi-community/tdk-core/internal/secrets"
)

// DocumentResolver resolves a DID string to its document, the shape
// internal/didcache.Cache.Resolve and internal/resolver.Composite.Resolve
// both satisfy once wrapped to this signature.
type DocumentResolver interface {
	ResolveDocument(ctx context.Context, did string) (*diddoc.Document, error)
}

// DefaultToKidsPerRecipientLimit caps fan-out per spec §4.5 step 3.
const DefaultToKidsPerRecipientLimit = 10

// Engine is the pack/unpack engine of spec §4.5, parameterised over a DID
// resolver and a secrets store.
type Engine struct {
	Resolver DocumentResolver
	Secrets  secrets.Resolver

	// ToKidsPerRecipientLimit bounds keyAgreement fan-out per recipient.
	ToKidsPerRecipientLimit int
	// CryptoOperationsPerMessage bounds unpack's decrypt/verify budget.
	CryptoOperationsPerMessage int
}

// PackOpts configures one PackEncrypted call, per spec §4.5.
type PackOpts struct {
	SignBy  string // kid of an authentication verification method
	Enc     string // A256GCM (default) | A256CBC-HS512 | XC20P
	Forward bool
}

// PackEncrypted implements spec §4.5's pack_encrypted pipeline.
func (e *Engine) PackEncrypted(ctx context.Context, msg *Message, toDID, fromDID string, opts PackOpts) (*jose.Message, error) {
	plaintext, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("didcomm: marshal message: %w", err)
	}

	if opts.SignBy != "" {
		signed, err := e.signPayload(ctx, plaintext, opts.SignBy)
		if err != nil {
			return nil, err
		}

		plaintext = signed
	}

	toDoc, err := e.Resolver.ResolveDocument(ctx, toDID)
	if err != nil {
		return nil, errs.New(errs.KindDIDNotResolved, "didcomm", "resolve recipient", err)
	}

	recipients, err := e.recipientKeys(toDoc)
	if err != nil {
		return nil, err
	}

	if len(recipients) == 0 {
		return nil, errs.New(errs.KindDIDUrlNotFound, "didcomm", "recipient document has no keyAgreement methods", nil)
	}

	enc := opts.Enc
	if enc == "" {
		enc = jose.EncA256GCM
	}

	authcrypt := fromDID != "" && opts.SignBy != ""

	var (
		senderKid string
		senderKey *crypto.KeyPair
	)

	if authcrypt {
		senderKid, senderKey, err = e.resolveSenderKeyAgreement(ctx, fromDID, recipients[0].KeyType)
		if err != nil {
			return nil, err
		}
	}

	envelope, err := jose.Encrypt(plaintext, enc, recipients, senderKid, senderKey)
	if err != nil {
		return nil, errs.New(errs.KindInvalidState, "didcomm", "encrypt", err)
	}

	if opts.Forward {
		return e.wrapForward(ctx, envelope, toDoc)
	}

	return envelope, nil
}

func (e *Engine) signPayload(ctx context.Context, plaintext []byte, signBy string) ([]byte, error) {
	secret, ok := e.Secrets.GetSecret(ctx, signBy)
	if !ok {
		return nil, errs.New(errs.KindSecretNotFound, "didcomm", fmt.Sprintf("signing secret %q not found", signBy), nil)
	}

	jws, err := jose.Sign(plaintext, signBy, secret.KeyType, secret.PrivateKey)
	if err != nil {
		return nil, errs.New(errs.KindInvalidState, "didcomm", "sign", err)
	}

	out, err := json.Marshal(jws)
	if err != nil {
		return nil, fmt.Errorf("didcomm: marshal jws: %w", err)
	}

	return out, nil
}

func (e *Engine) recipientKeys(doc *diddoc.Document) ([]jose.RecipientKey, error) {
	vms, err := doc.KeyAgreementMethods()
	if err != nil {
		return nil, errs.New(errs.KindDIDUrlNotFound, "didcomm", "recipient has no keyAgreement", err)
	}

	limit := e.ToKidsPerRecipientLimit
	if limit <= 0 {
		limit = DefaultToKidsPerRecipientLimit
	}

	if len(vms) > limit {
		vms = vms[:limit]
	}

	out := make([]jose.RecipientKey, 0, len(vms))

	for _, vm := range vms {
		raw, kt, err := vm.RawPublicKey()
		if err != nil {
			return nil, errs.New(errs.KindMalformed, "didcomm", "decode recipient key", err)
		}

		out = append(out, jose.RecipientKey{Kid: vm.ID, PublicKey: raw, KeyType: kt})
	}

	return out, nil
}

// resolveSenderKeyAgreement finds a keyAgreement verification method on
// fromDID's own document whose private key this engine's secrets store
// holds, matching the recipients' key type so ECDH is computable.
func (e *Engine) resolveSenderKeyAgreement(ctx context.Context, fromDID string, wantType crypto.KeyType) (string, *crypto.KeyPair, error) {
	fromDoc, err := e.Resolver.ResolveDocument(ctx, fromDID)
	if err != nil {
		return "", nil, errs.New(errs.KindDIDNotResolved, "didcomm", "resolve sender", err)
	}

	vms, err := fromDoc.KeyAgreementMethods()
	if err != nil {
		return "", nil, errs.New(errs.KindDIDUrlNotFound, "didcomm", "sender has no keyAgreement", err)
	}

	for _, vm := range vms {
		pub, kt, err := vm.RawPublicKey()
		if err != nil || kt != wantType {
			continue
		}

		secret, ok := e.Secrets.GetSecret(ctx, vm.ID)
		if !ok {
			continue
		}

		return vm.ID, &crypto.KeyPair{Type: kt, PrivateKey: secret.PrivateKey, PublicKey: pub}, nil
	}

	return "", nil, errs.New(errs.KindSecretNotFound, "didcomm", "no usable sender keyAgreement secret", nil)
}
