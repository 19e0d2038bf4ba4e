package jose

import (
	"crypto/elliptic"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/affinidi-community/tdk-core/internal/crypto"
)

// minimal JWK shapes for the key types DIDComm key agreement uses as an
// `epk` header value or a verification method's `publicKeyJwk`, per RFC
// 7517/8037. Hand-rolled rather than routed through lestrrat-go/jwx/v2's
// jwk package: that package builds JWKs from concrete crypto.PublicKey
// types (ecdsa.PublicKey, ed25519.PublicKey), but DIDComm key agreement
// here operates on raw X25519/P-256/P-384 byte slices recovered from
// multibase-decoded verification methods, so constructing the JSON
// directly avoids a round trip through stdlib key types this package
// otherwise has no need for.
type rawJWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y,omitempty"`
}

func jwkFromPublic(kt crypto.KeyType, pub []byte) (json.RawMessage, error) {
	switch kt {
	case crypto.X25519:
		return json.Marshal(rawJWK{Kty: "OKP", Crv: "X25519", X: b64(pub)})
	case crypto.P256:
		return ecJWK(elliptic.P256(), "P-256", pub)
	case crypto.P384:
		return ecJWK(elliptic.P384(), "P-384", pub)
	default:
		return nil, fmt.Errorf("jose: unsupported key agreement key type %q", kt)
	}
}

func ecJWK(curve elliptic.Curve, name string, pub []byte) (json.RawMessage, error) {
	x, y := elliptic.UnmarshalCompressed(curve, pub)
	if x == nil {
		x, y = elliptic.Unmarshal(curve, pub)
	}

	if x == nil {
		return nil, fmt.Errorf("jose: invalid %s point", name)
	}

	byteLen := (curve.Params().BitSize + 7) / 8
	xb := make([]byte, byteLen)
	yb := make([]byte, byteLen)
	x.FillBytes(xb)
	y.FillBytes(yb)

	return json.Marshal(rawJWK{Kty: "EC", Crv: name, X: b64(xb), Y: b64(yb)})
}

func publicFromJWK(kt crypto.KeyType, raw json.RawMessage) ([]byte, error) {
	var k rawJWK
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("jose: parse jwk: %w", err)
	}

	x, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("jose: jwk x: %w", err)
	}

	switch kt {
	case crypto.X25519:
		return x, nil
	case crypto.P256, crypto.P384:
		y, err := base64.RawURLEncoding.DecodeString(k.Y)
		if err != nil {
			return nil, fmt.Errorf("jose: jwk y: %w", err)
		}

		return append(append([]byte{0x04}, x...), y...), nil
	default:
		return nil, fmt.Errorf("jose: unsupported key agreement key type %q", kt)
	}
}
