package jose

import (
	"crypto/sha256"
	"encoding/binary"
)

// ConcatKDF implements NIST SP 800-56A Concatenation KDF with a SHA-256
// hash, as used by ECDH-ES/ECDH-1PU key agreement (RFC 7518 §4.6) to
// derive the key-encryption key from the shared secret.
func ConcatKDF(z []byte, keyDataLen int, algID, apu, apv []byte) []byte {
	reps := (keyDataLen + 31) / 32
	out := make([]byte, 0, reps*32)

	otherInfo := concatKDFOtherInfo(keyDataLen, algID, apu, apv)

	for i := 1; i <= reps; i++ {
		h := sha256.New()

		var counter [4]byte
		binary.BigEndian.PutUint32(counter[:], uint32(i))

		h.Write(counter[:])
		h.Write(z)
		h.Write(otherInfo)
		out = append(out, h.Sum(nil)...)
	}

	return out[:keyDataLen]
}

func concatKDFOtherInfo(keyDataLenBits int, algID, apu, apv []byte) []byte {
	var buf []byte

	buf = append(buf, lengthPrefixed(algID)...)
	buf = append(buf, lengthPrefixed(apu)...)
	buf = append(buf, lengthPrefixed(apv)...)

	var suppPubInfo [4]byte
	binary.BigEndian.PutUint32(suppPubInfo[:], uint32(keyDataLenBits*8))
	buf = append(buf, suppPubInfo[:]...)

	return buf
}

func lengthPrefixed(b []byte) []byte {
	out := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(out[:4], uint32(len(b)))
	copy(out[4:], b)

	return out
}
