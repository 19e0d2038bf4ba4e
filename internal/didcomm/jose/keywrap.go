// Package jose implements the JWE/JWS wire mechanics DIDComm v2 layers
// over: ECDH-1PU/ECDH-ES key agreement, AES key wrap, and compact JWS
// signing, per spec §4.5. lestrrat-go/jwx/v2 has no ECDH-1PU support (it
// is a DIDComm-specific extension to JOSE, not part of RFC 7518), so the
// envelope mechanics here are hand-rolled against the wire shapes spec §3
// and §4.5 define directly, including the `epk` header's JWK (see
// jwk.go); jwx/v2's jwk package is used only by internal/diddoc to decode
// `publicKeyJwk` verification methods.
package jose

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"
)

// default RFC 3394 initial value.
var kwIV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// WrapKey implements RFC 3394 AES key wrap, used by A256KW per spec §4.5.
// This is a small, fully-specified primitive with no ecosystem library in
// the retrieval pack exposing it standalone (jwx bundles an unexported
// equivalent inside its JWE encryption path, not reusable here), so it is
// implemented directly against the RFC.
func WrapKey(kek, cek []byte) ([]byte, error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("jose: aes-kw: %w", err)
	}

	if len(cek)%8 != 0 {
		return nil, fmt.Errorf("jose: aes-kw: key length %d not a multiple of 8", len(cek))
	}

	n := len(cek) / 8
	r := make([][8]byte, n)

	for i := 0; i < n; i++ {
		copy(r[i][:], cek[i*8:(i+1)*8])
	}

	a := kwIV

	buf := make([]byte, 16)

	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			copy(buf[:8], a[:])
			copy(buf[8:], r[i-1][:])
			block.Encrypt(buf, buf)

			var t uint64 = uint64(n*j + i)
			msb := binary.BigEndian.Uint64(buf[:8]) ^ t
			binary.BigEndian.PutUint64(a[:], msb)
			copy(r[i-1][:], buf[8:])
		}
	}

	out := make([]byte, 8+len(cek))
	copy(out[:8], a[:])

	for i := 0; i < n; i++ {
		copy(out[8+i*8:], r[i][:])
	}

	return out, nil
}

// UnwrapKey reverses WrapKey.
func UnwrapKey(kek, wrapped []byte) ([]byte, error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("jose: aes-kw: %w", err)
	}

	if len(wrapped)%8 != 0 || len(wrapped) < 16 {
		return nil, fmt.Errorf("jose: aes-kw: invalid wrapped length %d", len(wrapped))
	}

	n := len(wrapped)/8 - 1
	r := make([][8]byte, n)

	for i := 0; i < n; i++ {
		copy(r[i][:], wrapped[8+i*8:8+(i+1)*8])
	}

	var a [8]byte

	copy(a[:], wrapped[:8])

	buf := make([]byte, 16)

	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			var t uint64 = uint64(n*j + i)
			msb := binary.BigEndian.Uint64(a[:]) ^ t

			var aXor [8]byte
			binary.BigEndian.PutUint64(aXor[:], msb)

			copy(buf[:8], aXor[:])
			copy(buf[8:], r[i-1][:])
			block.Decrypt(buf, buf)

			copy(a[:], buf[:8])
			copy(r[i-1][:], buf[8:])
		}
	}

	if a != kwIV {
		return nil, fmt.Errorf("jose: aes-kw: integrity check failed")
	}

	out := make([]byte, n*8)
	for i := 0; i < n; i++ {
		copy(out[i*8:], r[i][:])
	}

	return out, nil
}
