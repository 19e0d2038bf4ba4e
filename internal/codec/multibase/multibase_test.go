package multibase

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, 32)

	s, err := Encode(CodecEd25519Pub, key)
	require.NoError(t, err)
	assert.True(t, len(s) > 0)
	assert.Equal(t, byte('z'), s[0])

	codec, decoded, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, CodecEd25519Pub, codec)
	assert.Equal(t, key, decoded)
}

func TestEncode_RejectsWrongKeyLength(t *testing.T) {
	_, err := Encode(CodecEd25519Pub, make([]byte, 16))
	assert.ErrorIs(t, err, ErrInvalidMethodSpecificID)
}

func TestDecode_RejectsEmptyString(t *testing.T) {
	_, _, err := Decode("")
	assert.ErrorIs(t, err, ErrInvalidMethodSpecificID)
}

func TestDecode_RejectsTruncatedKeyLength(t *testing.T) {
	s, err := Encode(CodecX25519Pub, make([]byte, 32))
	require.NoError(t, err)

	_, _, err = Decode(s[:len(s)-5])
	assert.Error(t, err)
}

func TestEncodeRawDecodeRaw_RoundTrip(t *testing.T) {
	sig := bytes.Repeat([]byte{0xAB}, 64)

	s := EncodeRaw(sig)
	assert.Equal(t, byte('z'), s[0])

	decoded, err := DecodeRaw(s)
	require.NoError(t, err)
	assert.Equal(t, sig, decoded)
}

func TestEncodeRaw_CarriesNoMulticodecPrefix(t *testing.T) {
	sig := []byte{0xed, 0x01, 0x02, 0x03}

	s := EncodeRaw(sig)

	decoded, err := DecodeRaw(s)
	require.NoError(t, err)
	assert.Equal(t, sig, decoded)
}
