package didcomm

import (
	"context"
	"encoding/json"

	"github.com/affinidi-community/tdk-core/internal/crypto"
	"github.com/affinidi-community/tdk-core/internal/didcomm/jose"
	"github.com/affinidi-community/tdk-core/internal/errs"
)

// DefaultCryptoOperationsPerMessage bounds unpack's decrypt/verify work
// per spec §7's attacker-cost guard.
const DefaultCryptoOperationsPerMessage = 8

// UnpackMetadata describes how a message was unpacked, per spec §4.5 step 5.
type UnpackMetadata struct {
	SignFrom        string
	EncryptedFromKid string
	Anonymous       bool
}

// Unpack implements spec §4.5's unpack pipeline: parse the JWE header,
// find a recipient kid with a known secret, derive the KEK, unwrap and
// decrypt, then recurse into an embedded JWS if present.
func (e *Engine) Unpack(ctx context.Context, envelopeJSON []byte) (*Message, *UnpackMetadata, error) {
	var envelope jose.Message
	if err := json.Unmarshal(envelopeJSON, &envelope); err != nil {
		return nil, nil, errs.New(errs.KindMalformed, "didcomm", "parse envelope", err)
	}

	budget := e.CryptoOperationsPerMessage
	if budget <= 0 {
		budget = DefaultCryptoOperationsPerMessage
	}

	ops := 0

	var (
		plaintext []byte
		header    *jose.Header
		secretKid string
	)

	for _, rec := range envelope.Recipients {
		if ops >= budget {
			return nil, nil, errs.New(errs.KindInvalidState, "didcomm", "crypto-operations-per-message budget exceeded", nil)
		}

		secret, ok := e.Secrets.GetSecret(ctx, rec.Header.Kid)
		if !ok {
			continue
		}

		ops++

		var senderPub []byte

		if senderKid := protectedSkid(envelope.Protected); senderKid != "" {
			senderDoc, err := e.Resolver.ResolveDocument(ctx, stripFragment(senderKid))
			if err != nil {
				return nil, nil, errs.New(errs.KindDIDNotResolved, "didcomm", "resolve sender for authcrypt", err)
			}

			vm, err := senderDoc.FindVerificationMethod(senderKid)
			if err != nil {
				return nil, nil, errs.New(errs.KindDIDUrlNotFound, "didcomm", "sender key agreement not found", err)
			}

			raw, _, err := vm.RawPublicKey()
			if err != nil {
				return nil, nil, errs.New(errs.KindMalformed, "didcomm", "decode sender key", err)
			}

			senderPub = raw
		}

		pt, h, err := jose.Decrypt(&envelope, rec.Header.Kid, secret.PrivateKey, secret.KeyType, senderPub)
		if err != nil {
			continue
		}

		plaintext, header, secretKid = pt, h, rec.Header.Kid

		break
	}

	if header == nil {
		return nil, nil, errs.New(errs.KindSecretNotFound, "didcomm", "no recipient secret could decrypt the envelope", nil)
	}

	meta := &UnpackMetadata{
		EncryptedFromKid: secretKid,
		Anonymous:        header.Alg == jose.AlgECDHESA256KW,
	}

	msg, signFrom, err := e.unwrapSignature(plaintext)
	if err != nil {
		return nil, nil, err
	}

	meta.SignFrom = signFrom

	return msg, meta, nil
}

// unwrapSignature recurses into an embedded JWS, if the decrypted
// plaintext is one, per spec §4.5 step 3.
func (e *Engine) unwrapSignature(plaintext []byte) (*Message, string, error) {
	var jws jose.JWS
	if err := json.Unmarshal(plaintext, &jws); err != nil || len(jws.Signatures) == 0 {
		var msg Message
		if err := json.Unmarshal(plaintext, &msg); err != nil {
			return nil, "", errs.New(errs.KindMalformed, "didcomm", "parse plaintext message", err)
		}

		return &msg, "", nil
	}

	kid := jwsSignerKid(&jws)

	signerKeyType, signerPub, err := e.lookupVerificationKey(kid)
	if err != nil {
		return nil, "", err
	}

	payload, signFrom, err := jose.Verify(&jws, signerKeyType, signerPub)
	if err != nil {
		return nil, "", errs.New(errs.KindInvalidState, "didcomm", "verify jws", err)
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, "", errs.New(errs.KindMalformed, "didcomm", "parse signed message", err)
	}

	if signFrom != kid {
		signFrom = kid
	}

	return &msg, signFrom, nil
}

func (e *Engine) lookupVerificationKey(kid string) (crypto.KeyType, []byte, error) {
	ctx := context.Background()

	doc, err := e.Resolver.ResolveDocument(ctx, stripFragment(kid))
	if err != nil {
		return "", nil, errs.New(errs.KindDIDNotResolved, "didcomm", "resolve signer", err)
	}

	vm, err := doc.FindVerificationMethod(kid)
	if err != nil {
		return "", nil, errs.New(errs.KindDIDUrlNotFound, "didcomm", "signer verification method not found", err)
	}

	raw, kt, err := vm.RawPublicKey()
	if err != nil {
		return "", nil, errs.New(errs.KindMalformed, "didcomm", "decode signer key", err)
	}

	return kt, raw, nil
}

func jwsSignerKid(jws *jose.JWS) string {
	if len(jws.Signatures) == 0 {
		return ""
	}

	kid, err := decodeJWSHeader(jws.Signatures[0].Protected)
	if err != nil {
		return ""
	}

	return kid
}

func decodeJWSHeader(protected string) (string, error) {
	raw, err := jose.DecodeSegment(protected)
	if err != nil {
		return "", err
	}

	var h struct {
		Kid string `json:"kid"`
	}

	if err := json.Unmarshal(raw, &h); err != nil {
		return "", err
	}

	return h.Kid, nil
}

func protectedSkid(protected string) string {
	raw, err := jose.DecodeSegment(protected)
	if err != nil {
		return ""
	}

	var h jose.Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return ""
	}

	return h.Skid
}

func stripFragment(didURL string) string {
	for i, r := range didURL {
		if r == '#' {
			return didURL[:i]
		}
	}

	return didURL
}
