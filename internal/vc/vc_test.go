package vc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affinidi-community/tdk-core/internal/crypto"
	"github.com/affinidi-community/tdk-core/internal/secrets"
)

func testDoc() map[string]any {
	return map[string]any{
		"@context": []any{
			"https://www.w3.org/ns/credentials/v2",
		},
		"id":   "did:example:holder123",
		"type": "VerifiableCredential",
		"credentialSubject": map[string]any{
			"name": "Alice",
		},
	}
}

func TestSignAndVerify_RoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeyPair(crypto.Ed25519)
	require.NoError(t, err)

	secret := &secrets.Secret{
		ID:         "did:example:issuer#key-1",
		Type:       "JsonWebKey2020",
		KeyType:    crypto.Ed25519,
		PrivateKey: kp.PrivateKey,
		PublicKey:  kp.PublicKey,
	}

	doc := testDoc()

	proof, err := Sign(doc, "did:example:issuer#key-1", "assertionMethod", secret, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, SuiteEddsaRDFC2022, proof.Cryptosuite)
	assert.NotEmpty(t, proof.ProofValue)

	ok, err := Verify(doc, proof, kp.PublicKey, crypto.Ed25519)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_RejectsTamperedDocument(t *testing.T) {
	kp, err := crypto.GenerateKeyPair(crypto.Ed25519)
	require.NoError(t, err)

	secret := &secrets.Secret{KeyType: crypto.Ed25519, PrivateKey: kp.PrivateKey, PublicKey: kp.PublicKey}

	doc := testDoc()

	proof, err := Sign(doc, "did:example:issuer#key-1", "assertionMethod", secret, time.Now())
	require.NoError(t, err)

	doc["credentialSubject"].(map[string]any)["name"] = "Mallory"

	ok, err := Verify(doc, proof, kp.PublicKey, crypto.Ed25519)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSign_UnknownContextFails(t *testing.T) {
	kp, err := crypto.GenerateKeyPair(crypto.Ed25519)
	require.NoError(t, err)

	secret := &secrets.Secret{KeyType: crypto.Ed25519, PrivateKey: kp.PrivateKey, PublicKey: kp.PublicKey}

	doc := map[string]any{
		"@context": "https://example.com/not-bundled",
		"id":       "did:example:abc",
	}

	_, err = Sign(doc, "did:example:issuer#key-1", "assertionMethod", secret, time.Now())
	assert.ErrorContains(t, err, "unrecognised @context")
}

func TestSuiteFor_UnsupportedKeyType(t *testing.T) {
	_, err := suiteFor(crypto.X25519)
	assert.Error(t, err)
}

func TestResolveContext_MergesTermsOfEveryContext(t *testing.T) {
	merged, err := resolveContext([]any{
		"https://www.w3.org/ns/credentials/v2",
		"https://w3id.org/security/data-integrity/v2",
	})
	require.NoError(t, err)
	assert.Equal(t, "@type", merged["type"])
	assert.Equal(t, "https://w3id.org/security#proofValue", merged["proofValue"])
}

func TestResolveContext_UnknownURL(t *testing.T) {
	_, err := resolveContext("https://example.com/unknown")
	assert.ErrorIs(t, err, ErrUnknownContext("https://example.com/unknown"))
}
