// Package crypto wraps the key-pair generation, signing, and ECDH
// primitives that the DID and DIDComm layers consume as opaque library
// calls (spec Non-goals: cryptographic primitives themselves are not
// reimplemented here).
package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secp256k1ecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/ed25519"
)

// KeyType enumerates the key kinds used across DID methods and DIDComm
// key agreement / signing, per spec §3.
type KeyType string

const (
	Ed25519   KeyType = "Ed25519"
	X25519    KeyType = "X25519"
	P256      KeyType = "P256"
	P384      KeyType = "P384"
	Secp256k1 KeyType = "Secp256k1"
)

// KeyPair holds both halves of a generated key, in raw byte form.
type KeyPair struct {
	Type       KeyType
	PrivateKey []byte
	PublicKey  []byte
}

// GenerateKeyPair produces a fresh key pair of the requested type.
func GenerateKeyPair(kt KeyType) (*KeyPair, error) {
	switch kt {
	case Ed25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}

		return &KeyPair{Type: kt, PrivateKey: priv.Seed(), PublicKey: pub}, nil

	case X25519:
		priv, err := ecdh.X25519().GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate x25519 key: %w", err)
		}

		return &KeyPair{Type: kt, PrivateKey: priv.Bytes(), PublicKey: priv.PublicKey().Bytes()}, nil

	case P256:
		return generateECKeyPair(kt, elliptic.P256())

	case P384:
		return generateECKeyPair(kt, elliptic.P384())

	case Secp256k1:
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("generate secp256k1 key: %w", err)
		}

		return &KeyPair{
			Type:       kt,
			PrivateKey: priv.Serialize(),
			PublicKey:  priv.PubKey().SerializeUncompressed(),
		}, nil

	default:
		return nil, fmt.Errorf("unsupported key type %q", kt)
	}
}

func generateECKeyPair(kt KeyType, curve elliptic.Curve) (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate %s key: %w", kt, err)
	}

	return &KeyPair{
		Type:       kt,
		PrivateKey: priv.D.Bytes(),
		PublicKey:  elliptic.Marshal(curve, priv.X, priv.Y), //nolint:staticcheck // raw uncompressed point form
	}, nil
}

// Sign produces a raw signature over message using the given key type and
// private key bytes. Ed25519 signs the message directly; EC types sign its
// SHA-256 digest and return the IEEE-P1363 (r||s) fixed-size encoding used
// by JOSE (ES256/ES256K).
func Sign(kt KeyType, privateKey, message []byte) ([]byte, error) {
	switch kt {
	case Ed25519:
		return ed25519.Sign(ed25519.NewKeyFromSeed(privateKey), message), nil

	case P256, P384:
		digest := sha256.Sum256(message)
		curve := curveFor(kt)

		priv := new(ecdsa.PrivateKey)
		priv.PublicKey.Curve = curve
		priv.D = new(big.Int).SetBytes(privateKey)
		priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(privateKey)

		r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
		if err != nil {
			return nil, fmt.Errorf("sign %s: %w", kt, err)
		}

		return fixedRS(r, s, (curve.Params().BitSize+7)/8), nil

	case Secp256k1:
		digest := sha256.Sum256(message)
		priv := secp256k1.PrivKeyFromBytes(privateKey)
		sig := secp256k1ecdsa.Sign(priv, digest[:])

		return fixedRS(sig.R(), sig.S(), 32), nil

	default:
		return nil, fmt.Errorf("unsupported signing key type %q", kt)
	}
}

// Verify checks a signature produced by Sign.
func Verify(kt KeyType, publicKey, message, signature []byte) (bool, error) {
	switch kt {
	case Ed25519:
		return ed25519.Verify(publicKey, message, signature), nil

	case P256, P384:
		digest := sha256.Sum256(message)
		curve := curveFor(kt)
		size := (curve.Params().BitSize + 7) / 8

		if len(signature) != 2*size {
			return false, fmt.Errorf("invalid signature length %d for %s", len(signature), kt)
		}

		x, y := elliptic.Unmarshal(curve, publicKey) //nolint:staticcheck
		if x == nil {
			return false, fmt.Errorf("invalid %s public key encoding", kt)
		}

		pub := &ecdsa.PublicKey{Curve: curve, X: x, Y: y}
		r := new(big.Int).SetBytes(signature[:size])
		s := new(big.Int).SetBytes(signature[size:])

		return ecdsa.Verify(pub, digest[:], r, s), nil

	case Secp256k1:
		digest := sha256.Sum256(message)

		if len(signature) != 64 {
			return false, fmt.Errorf("invalid secp256k1 signature length %d", len(signature))
		}

		pub, err := secp256k1.ParsePubKey(publicKey)
		if err != nil {
			return false, fmt.Errorf("parse secp256k1 public key: %w", err)
		}

		r := new(secp256k1.ModNScalar)
		r.SetByteSlice(signature[:32])
		s := new(secp256k1.ModNScalar)
		s.SetByteSlice(signature[32:])
		sig := secp256k1ecdsa.NewSignature(r, s)

		return sig.Verify(digest[:], pub), nil

	default:
		return false, fmt.Errorf("unsupported verification key type %q", kt)
	}
}

// ECDH performs a Diffie-Hellman key exchange, used by the DIDComm JWE
// layer to derive the shared secret behind ECDH-1PU/ECDH-ES key agreement.
func ECDH(kt KeyType, privateKey, peerPublicKey []byte) ([]byte, error) {
	switch kt {
	case X25519:
		priv, err := ecdh.X25519().NewPrivateKey(privateKey)
		if err != nil {
			return nil, fmt.Errorf("load x25519 private key: %w", err)
		}

		pub, err := ecdh.X25519().NewPublicKey(peerPublicKey)
		if err != nil {
			return nil, fmt.Errorf("load x25519 public key: %w", err)
		}

		shared, err := priv.ECDH(pub)
		if err != nil {
			return nil, fmt.Errorf("x25519 ecdh: %w", err)
		}

		return shared, nil

	case P256, P384:
		curve := curveFor(kt)

		ecdhCurve, err := stdCurveToECDH(curve)
		if err != nil {
			return nil, err
		}

		priv, err := ecdhCurve.NewPrivateKey(privateKey)
		if err != nil {
			return nil, fmt.Errorf("load %s private key: %w", kt, err)
		}

		pub, err := ecdhCurve.NewPublicKey(peerPublicKey)
		if err != nil {
			return nil, fmt.Errorf("load %s public key: %w", kt, err)
		}

		shared, err := priv.ECDH(pub)
		if err != nil {
			return nil, fmt.Errorf("%s ecdh: %w", kt, err)
		}

		return shared, nil

	default:
		return nil, fmt.Errorf("unsupported ECDH key type %q", kt)
	}
}

func curveFor(kt KeyType) elliptic.Curve {
	switch kt {
	case P384:
		return elliptic.P384()
	default:
		return elliptic.P256()
	}
}

func stdCurveToECDH(curve elliptic.Curve) (ecdh.Curve, error) {
	switch curve {
	case elliptic.P256():
		return ecdh.P256(), nil
	case elliptic.P384():
		return ecdh.P384(), nil
	default:
		return nil, fmt.Errorf("unsupported curve for ECDH")
	}
}

func fixedRS(r, s *big.Int, size int) []byte {
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])

	return out
}
