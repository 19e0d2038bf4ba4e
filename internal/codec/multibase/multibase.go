// Package multibase implements the multibase/multicodec encoding used by
// did:key and verification-method publicKeyMultibase values: a one-character
// base tag followed by varint-prefixed codec bytes, per spec §4.1.
//
// Decoding is delegated to the real multiformats/go-multibase library for
// the base-transcoding step (rather than a hand-rolled base58 alphabet
// walk) — only the multicodec varint table and key-length validation are
// domain-specific and implemented here.
package multibase

import (
	"fmt"

	mb "github.com/multiformats/go-multibase"
)

// Codec identifies a multicodec prefix understood by the DID layer.
type Codec uint64

const (
	CodecEd25519Pub    Codec = 0xed
	CodecEd25519Priv   Codec = 0x1300
	CodecX25519Pub     Codec = 0xec
	CodecX25519Priv    Codec = 0x1302
	CodecP256Pub       Codec = 0x1200
	CodecP256Priv      Codec = 0x1306
	CodecP384Pub       Codec = 0x1201
	CodecP384Priv      Codec = 0x1307
	CodecSecp256k1Pub  Codec = 0xe7
	CodecSecp256k1Priv Codec = 0x1301
)

// expectedLen is the raw key length each codec must carry. A mismatch is a
// Malformed error (spec §4.1: "mismatch fails with InvalidMethodSpecificId").
var expectedLen = map[Codec]int{
	CodecEd25519Pub:    32,
	CodecEd25519Priv:   32,
	CodecX25519Pub:     32,
	CodecX25519Priv:    32,
	CodecP256Pub:       65,
	CodecP256Priv:      32,
	CodecP384Pub:       97,
	CodecP384Priv:      48,
	CodecSecp256k1Pub:  33,
	CodecSecp256k1Priv: 32,
}

// ErrInvalidMethodSpecificID is returned when a decoded key's byte length
// does not match its codec's expected length.
var ErrInvalidMethodSpecificID = fmt.Errorf("invalid method-specific-id: key length does not match codec")

// Encode produces a multibase Base58btc ('z'-prefixed) string for codec
// and raw key bytes: z(varint(codec) || bytes).
func Encode(codec Codec, key []byte) (string, error) {
	if expected, ok := expectedLen[codec]; ok && expected != len(key) {
		return "", fmt.Errorf("%w: codec 0x%x expects %d bytes, got %d", ErrInvalidMethodSpecificID, codec, expected, len(key))
	}

	prefixed := append(encodeVarint(uint64(codec)), key...)

	out, err := mb.Encode(mb.Base58BTC, prefixed)
	if err != nil {
		return "", fmt.Errorf("multibase encode: %w", err)
	}

	return out, nil
}

// Decode parses a multibase string back into its codec and raw key bytes,
// validating the key length against the codec's expected length.
func Decode(s string) (Codec, []byte, error) {
	if s == "" {
		return 0, nil, fmt.Errorf("%w: empty multibase string", ErrInvalidMethodSpecificID)
	}

	_, data, err := mb.Decode(s)
	if err != nil {
		return 0, nil, fmt.Errorf("multibase decode: %w", err)
	}

	codec, n, err := decodeVarint(data)
	if err != nil {
		return 0, nil, err
	}

	key := data[n:]

	c := Codec(codec)
	if expected, ok := expectedLen[c]; ok && expected != len(key) {
		return 0, nil, fmt.Errorf("%w: codec 0x%x expects %d bytes, got %d", ErrInvalidMethodSpecificID, c, expected, len(key))
	}

	return c, key, nil
}

// EncodeRaw multibase-encodes data with no multicodec prefix, the shape a
// Data Integrity proofValue uses: a signature is not a typed key, so it
// carries no codec tag, per spec §4.8.
func EncodeRaw(data []byte) string {
	out, _ := mb.Encode(mb.Base58BTC, data)

	return out
}

// DecodeRaw is EncodeRaw's inverse.
func DecodeRaw(s string) ([]byte, error) {
	_, data, err := mb.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("multibase decode: %w", err)
	}

	return data, nil
}

// EncodeMultihash wraps digest in a multihash envelope
// (varint(code) || varint(len(digest)) || digest) and multibase
// base58btc-encodes it, the form did:webvh log-entry version-id hashes
// use (multihash code 0x12 for sha2-256).
func EncodeMultihash(code uint64, digest []byte) (string, error) {
	wrapped := append(encodeVarint(code), encodeVarint(uint64(len(digest)))...)
	wrapped = append(wrapped, digest...)

	out, err := mb.Encode(mb.Base58BTC, wrapped)
	if err != nil {
		return "", fmt.Errorf("multibase encode: %w", err)
	}

	return out, nil
}

func encodeVarint(v uint64) []byte {
	var out []byte

	for v >= 0x80 {
		out = append(out, byte(v)|0x80)
		v >>= 7
	}

	return append(out, byte(v))
}

func decodeVarint(data []byte) (uint64, int, error) {
	var (
		result uint64
		shift  uint
	)

	for i, b := range data {
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1, nil
		}

		shift += 7

		if i >= 9 {
			return 0, 0, fmt.Errorf("varint too long")
		}
	}

	return 0, 0, fmt.Errorf("truncated varint")
}
