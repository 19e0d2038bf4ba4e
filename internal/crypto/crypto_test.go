package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify_AllKeyTypes(t *testing.T) {
	for _, kt := range []KeyType{Ed25519, P256, P384, Secp256k1} {
		t.Run(string(kt), func(t *testing.T) {
			kp, err := GenerateKeyPair(kt)
			require.NoError(t, err)

			msg := []byte("hello tdk")

			sig, err := Sign(kt, kp.PrivateKey, msg)
			require.NoError(t, err)

			ok, err := Verify(kt, kp.PublicKey, msg, sig)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestVerify_RejectsTamperedMessage(t *testing.T) {
	kp, err := GenerateKeyPair(Ed25519)
	require.NoError(t, err)

	sig, err := Sign(Ed25519, kp.PrivateKey, []byte("original"))
	require.NoError(t, err)

	ok, err := Verify(Ed25519, kp.PublicKey, []byte("tampered"), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGenerateKeyPair_UnsupportedType(t *testing.T) {
	_, err := GenerateKeyPair("Unsupported")
	assert.Error(t, err)
}

func TestECDH_X25519_SharedSecretsMatch(t *testing.T) {
	alice, err := GenerateKeyPair(X25519)
	require.NoError(t, err)
	bob, err := GenerateKeyPair(X25519)
	require.NoError(t, err)

	secretA, err := ECDH(X25519, alice.PrivateKey, bob.PublicKey)
	require.NoError(t, err)
	secretB, err := ECDH(X25519, bob.PrivateKey, alice.PublicKey)
	require.NoError(t, err)

	assert.Equal(t, secretA, secretB)
}

func TestECDH_P256_SharedSecretsMatch(t *testing.T) {
	alice, err := GenerateKeyPair(P256)
	require.NoError(t, err)
	bob, err := GenerateKeyPair(P256)
	require.NoError(t, err)

	secretA, err := ECDH(P256, alice.PrivateKey, bob.PublicKey)
	require.NoError(t, err)
	secretB, err := ECDH(P256, bob.PrivateKey, alice.PublicKey)
	require.NoError(t, err)

	assert.Equal(t, secretA, secretB)
}
