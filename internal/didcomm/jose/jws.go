package jose

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"golang.org/x/crypto/ed25519"

	"github.com/affinidi-community/tdk-core/internal/crypto"
)

// JWS is a general-JSON-serialization signed wrapper, carried as the plain-
// text of a DIDComm envelope when `sign_by` is set, per spec §4.5 step 2.
//
// Its fields mirror lestrrat-go/jwx/v2's general JWS JSON serialization
// (RFC 7515 §7.2.1) exactly, so Sign/Verify round-trip through jwx's jws
// package by marshaling/unmarshaling this struct rather than jwx's own
// Message type.
type JWS struct {
	Payload    string      `json:"payload"`
	Signatures []Signature `json:"signatures"`
}

// Signature is one signer's detached signature over Payload.
type Signature struct {
	Protected string `json:"protected"`
	Signature string `json:"signature"`
}

type jwsHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// AlgForKeyType maps a signing key's type to its JWS alg, per spec §4.5.
func AlgForKeyType(kt crypto.KeyType) (string, error) {
	switch kt {
	case crypto.Ed25519:
		return "EdDSA", nil
	case crypto.P256:
		return "ES256", nil
	case crypto.Secp256k1:
		return "ES256K", nil
	default:
		return "", fmt.Errorf("jose: key type %q has no JWS signing algorithm", kt)
	}
}

// Sign produces a general-JSON-serialization JWS with a single signer, the
// shape DIDComm's pack_encrypted step 2 wraps plaintext in.
//
// EdDSA and ES256 are signed through lestrrat-go/jwx/v2's jws package, the
// project's JOSE library (see internal/diddoc/keybytes.go for its other
// use in this module). ES256K is the one exception, signed by hand against
// internal/crypto: jwx only registers the secp256k1 curve under its
// jwx_es256k build tag, which this module doesn't enable, the same reason
// keybytes.go declines to decode secp256k1 publicKeyJwk values.
func Sign(payload []byte, kid string, kt crypto.KeyType, privateKey []byte) (*JWS, error) {
	alg, err := AlgForKeyType(kt)
	if err != nil {
		return nil, err
	}

	if kt == crypto.Secp256k1 {
		return signHandRolled(payload, kid, alg, kt, privateKey)
	}

	signKey, err := jwxSigningKey(kt, privateKey)
	if err != nil {
		return nil, err
	}

	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.KeyIDKey, kid); err != nil {
		return nil, fmt.Errorf("jose: set jws kid header: %w", err)
	}

	signed, err := jws.Sign(payload, jws.WithJSON(), jws.WithKey(jwaSignatureAlg(alg), signKey, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return nil, fmt.Errorf("jose: sign: %w", err)
	}

	var out JWS
	if err := json.Unmarshal(signed, &out); err != nil {
		return nil, fmt.Errorf("jose: decode signed jws: %w", err)
	}

	return &out, nil
}

// Verify checks the single embedded signature against publicKey and
// returns the decoded payload plus the signer's kid.
func Verify(jwsVal *JWS, kt crypto.KeyType, publicKey []byte) ([]byte, string, error) {
	if len(jwsVal.Signatures) == 0 {
		return nil, "", fmt.Errorf("jose: jws has no signatures")
	}

	sig := jwsVal.Signatures[0]

	headerJSON, err := unb64(sig.Protected)
	if err != nil {
		return nil, "", fmt.Errorf("jose: decode jws header: %w", err)
	}

	var header jwsHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, "", fmt.Errorf("jose: parse jws header: %w", err)
	}

	if kt == crypto.Secp256k1 {
		payload, err := verifyHandRolled(jwsVal, kt, publicKey)
		if err != nil {
			return nil, "", err
		}

		return payload, header.Kid, nil
	}

	verifyKey, err := jwxVerificationKey(kt, publicKey)
	if err != nil {
		return nil, "", err
	}

	raw, err := json.Marshal(jwsVal)
	if err != nil {
		return nil, "", fmt.Errorf("jose: marshal jws: %w", err)
	}

	payload, err := jws.Verify(raw, jws.WithKey(jwaSignatureAlg(header.Alg), verifyKey))
	if err != nil {
		return nil, "", fmt.Errorf("jose: verify: %w", err)
	}

	return payload, header.Kid, nil
}

// Compact renders a single-signer JWS in JWT's compact serialization
// (header.payload.signature), the shape from_prior tokens use on the wire.
func Compact(jwsVal *JWS) (string, error) {
	if len(jwsVal.Signatures) == 0 {
		return "", fmt.Errorf("jose: jws has no signatures")
	}

	sig := jwsVal.Signatures[0]

	return sig.Protected + "." + jwsVal.Payload + "." + sig.Signature, nil
}

// ParseCompact reverses Compact, reconstructing the general-serialization
// JWS shape Verify expects.
func ParseCompact(token string) (*JWS, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("jose: malformed compact jws")
	}

	return &JWS{
		Payload:    parts[1],
		Signatures: []Signature{{Protected: parts[0], Signature: parts[2]}},
	}, nil
}

func jwaSignatureAlg(alg string) jwa.SignatureAlgorithm {
	switch alg {
	case "EdDSA":
		return jwa.EdDSA
	case "ES256":
		return jwa.ES256
	default:
		return jwa.SignatureAlgorithm(alg)
	}
}

// jwxSigningKey reconstructs the stdlib private key type jwx's jws package
// signs with from the raw bytes internal/crypto carries secrets as.
func jwxSigningKey(kt crypto.KeyType, privateKey []byte) (interface{}, error) {
	switch kt {
	case crypto.Ed25519:
		return ed25519.NewKeyFromSeed(privateKey), nil

	case crypto.P256:
		curve := elliptic.P256()

		priv := new(ecdsa.PrivateKey)
		priv.PublicKey.Curve = curve
		priv.D = new(big.Int).SetBytes(privateKey)
		priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(privateKey)

		return priv, nil

	default:
		return nil, fmt.Errorf("jose: key type %q is not signed through jwx", kt)
	}
}

// jwxVerificationKey mirrors jwxSigningKey for the public half.
func jwxVerificationKey(kt crypto.KeyType, publicKey []byte) (interface{}, error) {
	switch kt {
	case crypto.Ed25519:
		return ed25519.PublicKey(publicKey), nil

	case crypto.P256:
		curve := elliptic.P256()

		x, y := elliptic.Unmarshal(curve, publicKey) //nolint:staticcheck
		if x == nil {
			return nil, fmt.Errorf("jose: invalid P256 public key encoding")
		}

		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil

	default:
		return nil, fmt.Errorf("jose: key type %q is not verified through jwx", kt)
	}
}

// signHandRolled is ES256K's exception path; see Sign's doc comment.
func signHandRolled(payload []byte, kid, alg string, kt crypto.KeyType, privateKey []byte) (*JWS, error) {
	header := jwsHeader{Alg: alg, Kid: kid}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("jose: marshal jws header: %w", err)
	}

	protected := b64(headerJSON)
	payloadB64 := b64(payload)
	signingInput := protected + "." + payloadB64

	sig, err := crypto.Sign(kt, privateKey, []byte(signingInput))
	if err != nil {
		return nil, fmt.Errorf("jose: sign: %w", err)
	}

	return &JWS{
		Payload:    payloadB64,
		Signatures: []Signature{{Protected: protected, Signature: b64(sig)}},
	}, nil
}

// verifyHandRolled is ES256K's exception path; see Verify's doc comment on
// Sign.
func verifyHandRolled(jwsVal *JWS, kt crypto.KeyType, publicKey []byte) ([]byte, error) {
	sig := jwsVal.Signatures[0]

	signingInput := sig.Protected + "." + jwsVal.Payload

	sigBytes, err := unb64(sig.Signature)
	if err != nil {
		return nil, fmt.Errorf("jose: decode jws signature: %w", err)
	}

	ok, err := crypto.Verify(kt, publicKey, []byte(signingInput), sigBytes)
	if err != nil {
		return nil, fmt.Errorf("jose: verify: %w", err)
	}

	if !ok {
		return nil, fmt.Errorf("jose: signature verification failed")
	}

	return unb64(jwsVal.Payload)
}
