package diddoc

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/mr-tron/base58"

	"github.com/affinidi-community/tdk-core/internal/codec/multibase"
	"github.com/affinidi-community/tdk-core/internal/crypto"
)

// RawPublicKey decodes a verification method's key material to raw bytes
// and its crypto.KeyType, whichever of publicKeyMultibase,
// publicKeyBase58, or publicKeyJwk is populated, per spec §3's "conversion
// is total for supported types" invariant.
//
// JWK decoding is delegated to lestrrat-go/jwx/v2's jwk package — the
// teacher's authn package never handles JWK verification methods, but
// jwx is already the project's JOSE library for DIDComm, so it supplies
// this conversion too rather than a second hand-rolled JWK parser.
// secp256k1 JWKs (kty=EC, crv=secp256k1) are not supported here: jwx only
// decodes that curve under its jwx_es256k build tag, which this module
// does not enable, since no verification method in the retrieval pack's
// examples exercises it.
func (vm VerificationMethod) RawPublicKey() ([]byte, crypto.KeyType, error) {
	switch {
	case vm.PublicKeyMultibase != "":
		codec, key, err := multibase.Decode(vm.PublicKeyMultibase)
		if err != nil {
			return nil, "", fmt.Errorf("diddoc: publicKeyMultibase: %w", err)
		}

		kt, err := keyTypeForCodec(codec)
		if err != nil {
			return nil, "", err
		}

		return key, kt, nil

	case vm.PublicKeyBase58 != "":
		key, err := base58.Decode(vm.PublicKeyBase58)
		if err != nil {
			return nil, "", fmt.Errorf("diddoc: publicKeyBase58: %w", err)
		}

		return key, keyTypeForVMType(vm.Type), nil

	case len(vm.PublicKeyJwk) > 0:
		return jwkToRaw(vm.PublicKeyJwk)

	default:
		return nil, "", fmt.Errorf("diddoc: verification method %q carries no key material", vm.ID)
	}
}

func keyTypeForCodec(codec multibase.Codec) (crypto.KeyType, error) {
	switch codec {
	case multibase.CodecEd25519Pub, multibase.CodecEd25519Priv:
		return crypto.Ed25519, nil
	case multibase.CodecX25519Pub, multibase.CodecX25519Priv:
		return crypto.X25519, nil
	case multibase.CodecP256Pub, multibase.CodecP256Priv:
		return crypto.P256, nil
	case multibase.CodecP384Pub, multibase.CodecP384Priv:
		return crypto.P384, nil
	case multibase.CodecSecp256k1Pub, multibase.CodecSecp256k1Priv:
		return crypto.Secp256k1, nil
	default:
		return "", fmt.Errorf("diddoc: unrecognized multicodec %d", codec)
	}
}

func keyTypeForVMType(vmType string) crypto.KeyType {
	switch vmType {
	case "X25519KeyAgreementKey2019", "X25519KeyAgreementKey2020":
		return crypto.X25519
	case "EcdsaSecp256k1VerificationKey2019":
		return crypto.Secp256k1
	default:
		return crypto.Ed25519
	}
}

func jwkToRaw(raw []byte) ([]byte, crypto.KeyType, error) {
	key, err := jwk.ParseKey(raw)
	if err != nil {
		return nil, "", fmt.Errorf("diddoc: parse publicKeyJwk: %w", err)
	}

	switch key.KeyType() {
	case "OKP":
		var pub ed25519.PublicKey
		if err := key.Raw(&pub); err == nil {
			return []byte(pub), crypto.Ed25519, nil
		}

		var x25519 []byte
		if err := key.Raw(&x25519); err != nil {
			return nil, "", fmt.Errorf("diddoc: decode OKP jwk: %w", err)
		}

		return x25519, crypto.X25519, nil

	case "EC":
		var pub ecdsa.PublicKey
		if err := key.Raw(&pub); err != nil {
			return nil, "", fmt.Errorf("diddoc: decode EC jwk: %w", err)
		}

		kt := crypto.P256
		if pub.Curve.Params().BitSize > 256 {
			kt = crypto.P384
		}

		return append([]byte{0x04}, append(pub.X.Bytes(), pub.Y.Bytes()...)...), kt, nil

	default:
		return nil, "", fmt.Errorf("diddoc: unsupported jwk kty %q", key.KeyType())
	}
}
