package jose

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/affinidi-community/tdk-core/internal/crypto"
)

// Alg names recognized in the protected header's "alg", per spec §4.5.
const (
	AlgECDH1PUA256KW = "ECDH-1PU+A256KW"
	AlgECDHESA256KW  = "ECDH-ES+A256KW"
)

// Enc names recognized in the protected header's "enc", per spec §4.5.
const (
	EncA256GCM       = "A256GCM"
	EncA256CBCHS512  = "A256CBC-HS512"
	EncXC20P         = "XC20P"
)

// Header is the JWE protected header of spec §3's DIDComm Envelope.
type Header struct {
	Alg string          `json:"alg"`
	Enc string          `json:"enc"`
	Skid string         `json:"skid,omitempty"`
	Apu string          `json:"apu,omitempty"`
	Apv string          `json:"apv,omitempty"`
	Epk json.RawMessage `json:"epk,omitempty"`
}

// RecipientHeader carries the per-recipient key id.
type RecipientHeader struct {
	Kid string `json:"kid"`
}

// Recipient is one entry of the JWE `recipients` array.
type Recipient struct {
	Header       RecipientHeader `json:"header"`
	EncryptedKey string          `json:"encrypted_key"`
}

// Message is the DIDComm JWE envelope of spec §3.
type Message struct {
	Protected  string      `json:"protected"`
	Recipients []Recipient `json:"recipients"`
	IV         string      `json:"iv"`
	Ciphertext string      `json:"ciphertext"`
	Tag        string      `json:"tag"`
}

// RecipientKey describes one recipient's key-agreement verification
// method, as enumerated from the recipient's DID Document by spec §4.5
// step 3.
type RecipientKey struct {
	Kid       string
	PublicKey []byte
	KeyType   crypto.KeyType
}

func b64(b []byte) string  { return base64.RawURLEncoding.EncodeToString(b) }
func unb64(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }

// DecodeSegment decodes a base64url JWS/JWE segment, exported for callers
// that need to peek at a protected header (e.g. to read a JWS `kid`
// before a verification key is known).
func DecodeSegment(s string) ([]byte, error) { return unb64(s) }

func cekLength(enc string) (int, error) {
	switch enc {
	case EncA256GCM, EncXC20P:
		return 32, nil
	case EncA256CBCHS512:
		return 64, nil
	default:
		return 0, fmt.Errorf("jose: unsupported enc %q", enc)
	}
}

// computeAPV implements spec §4.5 step 5: APV = SHA-256(joined sorted kids).
func computeAPV(kids []string) []byte {
	sorted := append([]string(nil), kids...)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, ".")))

	return sum[:]
}

// Encrypt builds a JWE envelope for plaintext addressed to recipients,
// per spec §4.5 steps 3-5. When senderKey is non-nil the envelope is
// authcrypt (ECDH-1PU-A256KW); otherwise it is anoncrypt (ECDH-ES-A256KW).
func Encrypt(plaintext []byte, enc string, recipients []RecipientKey, senderKid string, senderKey *crypto.KeyPair) (*Message, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("jose: no recipients")
	}

	keyType := recipients[0].KeyType
	for _, r := range recipients[1:] {
		if r.KeyType != keyType {
			return nil, fmt.Errorf("jose: mixed recipient key types in a single envelope are not supported")
		}
	}

	eph, err := crypto.GenerateKeyPair(keyType)
	if err != nil {
		return nil, fmt.Errorf("jose: generate ephemeral key: %w", err)
	}

	kids := make([]string, len(recipients))
	for i, r := range recipients {
		kids[i] = r.Kid
	}

	apv := computeAPV(kids)

	alg := AlgECDHESA256KW
	authcrypt := senderKey != nil

	if authcrypt {
		alg = AlgECDH1PUA256KW
	}

	epkJWK, err := jwkFromPublic(keyType, eph.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("jose: epk: %w", err)
	}

	header := Header{Alg: alg, Enc: enc, Apv: b64(apv), Epk: epkJWK}
	if authcrypt {
		header.Skid = senderKid
		header.Apu = b64([]byte(senderKid))
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("jose: marshal header: %w", err)
	}

	aad := b64(headerJSON)

	cekLen, err := cekLength(enc)
	if err != nil {
		return nil, err
	}

	cek := make([]byte, cekLen)
	if _, err := rand.Read(cek); err != nil {
		return nil, fmt.Errorf("jose: generate cek: %w", err)
	}

	recs := make([]Recipient, 0, len(recipients))

	for _, r := range recipients {
		kek, err := deriveKEK(alg, eph, senderKey, r.PublicKey, keyType, header.Apu, header.Apv)
		if err != nil {
			return nil, fmt.Errorf("jose: derive kek for %s: %w", r.Kid, err)
		}

		wrapped, err := WrapKey(kek, cek)
		if err != nil {
			return nil, fmt.Errorf("jose: wrap cek for %s: %w", r.Kid, err)
		}

		recs = append(recs, Recipient{Header: RecipientHeader{Kid: r.Kid}, EncryptedKey: b64(wrapped)})
	}

	iv, ciphertext, tag, err := aeadEncrypt(enc, cek, plaintext, []byte(aad))
	if err != nil {
		return nil, fmt.Errorf("jose: encrypt: %w", err)
	}

	return &Message{
		Protected:  aad,
		Recipients: recs,
		IV:         b64(iv),
		Ciphertext: b64(ciphertext),
		Tag:        b64(tag),
	}, nil
}

// Decrypt reverses Encrypt for the recipient identified by kid. senderPub
// is required for authcrypt envelopes; pass nil for anoncrypt. Decrypt does
// not check senderPub against the header's skid: the caller selects the
// key, and a wrong key only shows up as a failed unwrap.
func Decrypt(msg *Message, kid string, recipientPriv []byte, recipientKeyType crypto.KeyType, senderPub []byte) ([]byte, *Header, error) {
	headerJSON, err := unb64(msg.Protected)
	if err != nil {
		return nil, nil, fmt.Errorf("jose: decode protected header: %w", err)
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, nil, fmt.Errorf("jose: parse protected header: %w", err)
	}

	authcrypt := header.Alg == AlgECDH1PUA256KW

	if authcrypt && senderPub == nil {
		return nil, nil, fmt.Errorf("jose: authcrypt envelope requires sender public key")
	}

	var rec *Recipient

	for i := range msg.Recipients {
		if msg.Recipients[i].Header.Kid == kid {
			rec = &msg.Recipients[i]

			break
		}
	}

	if rec == nil {
		return nil, nil, fmt.Errorf("jose: no recipient entry for kid %q", kid)
	}

	ephPub, err := publicFromJWK(recipientKeyType, header.Epk)
	if err != nil {
		return nil, nil, fmt.Errorf("jose: epk: %w", err)
	}

	var senderKeyForDerive *crypto.KeyPair
	if authcrypt {
		senderKeyForDerive = &crypto.KeyPair{Type: recipientKeyType, PublicKey: senderPub}
	}

	kek, err := deriveKEKRecipientSide(header.Alg, ephPub, senderKeyForDerive, recipientPriv, recipientKeyType, header.Apu, header.Apv)
	if err != nil {
		return nil, nil, fmt.Errorf("jose: derive kek: %w", err)
	}

	wrapped, err := unb64(rec.EncryptedKey)
	if err != nil {
		return nil, nil, fmt.Errorf("jose: decode encrypted_key: %w", err)
	}

	cek, err := UnwrapKey(kek, wrapped)
	if err != nil {
		return nil, nil, fmt.Errorf("jose: unwrap cek: %w", err)
	}

	iv, err := unb64(msg.IV)
	if err != nil {
		return nil, nil, err
	}

	ciphertext, err := unb64(msg.Ciphertext)
	if err != nil {
		return nil, nil, err
	}

	tag, err := unb64(msg.Tag)
	if err != nil {
		return nil, nil, err
	}

	plaintext, err := aeadDecrypt(header.Enc, cek, iv, ciphertext, tag, []byte(msg.Protected))
	if err != nil {
		return nil, nil, fmt.Errorf("jose: decrypt: %w", err)
	}

	return plaintext, &header, nil
}

// deriveKEK is the sender-side KEK derivation: ephemeral private key plus
// (for 1PU) the sender's own static private key, against the recipient's
// public key.
func deriveKEK(alg string, eph *crypto.KeyPair, senderKey *crypto.KeyPair, recipientPub []byte, keyType crypto.KeyType, apu, apv string) ([]byte, error) {
	ze, err := crypto.ECDH(keyType, eph.PrivateKey, recipientPub)
	if err != nil {
		return nil, err
	}

	z := ze

	if alg == AlgECDH1PUA256KW {
		if senderKey == nil {
			return nil, fmt.Errorf("authcrypt requires a sender key")
		}

		zs, err := crypto.ECDH(keyType, senderKey.PrivateKey, recipientPub)
		if err != nil {
			return nil, err
		}

		z = append(append([]byte{}, ze...), zs...)
	}

	apuBytes, _ := unb64(apu)
	apvBytes, _ := unb64(apv)

	return ConcatKDF(z, 32, []byte(alg), apuBytes, apvBytes), nil
}

// deriveKEKRecipientSide mirrors deriveKEK from the recipient's side:
// recipient's static private key against the sender-supplied ephemeral
// public key, plus (for 1PU) the recipient's private key against the
// sender's static public key.
func deriveKEKRecipientSide(alg string, ephPub []byte, senderKey *crypto.KeyPair, recipientPriv []byte, keyType crypto.KeyType, apu, apv string) ([]byte, error) {
	ze, err := crypto.ECDH(keyType, recipientPriv, ephPub)
	if err != nil {
		return nil, err
	}

	z := ze

	if alg == AlgECDH1PUA256KW {
		if senderKey == nil {
			return nil, fmt.Errorf("authcrypt requires a sender public key")
		}

		zs, err := crypto.ECDH(keyType, recipientPriv, senderKey.PublicKey)
		if err != nil {
			return nil, err
		}

		z = append(append([]byte{}, ze...), zs...)
	}

	apuBytes, _ := unb64(apu)
	apvBytes, _ := unb64(apv)

	return ConcatKDF(z, 32, []byte(alg), apuBytes, apvBytes), nil
}

func aeadEncrypt(enc string, key, plaintext, aad []byte) (iv, ciphertext, tag []byte, err error) {
	switch enc {
	case EncA256GCM:
		return gcmEncrypt(key, plaintext, aad)
	case EncXC20P:
		return xc20pEncrypt(key, plaintext, aad)
	case EncA256CBCHS512:
		return cbcHS512Encrypt(key, plaintext, aad)
	default:
		return nil, nil, nil, fmt.Errorf("unsupported enc %q", enc)
	}
}

func aeadDecrypt(enc string, key, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	switch enc {
	case EncA256GCM:
		return gcmDecrypt(key, iv, ciphertext, tag, aad)
	case EncXC20P:
		return xc20pDecrypt(key, iv, ciphertext, tag, aad)
	case EncA256CBCHS512:
		return cbcHS512Decrypt(key, iv, ciphertext, tag, aad)
	default:
		return nil, fmt.Errorf("unsupported enc %q", enc)
	}
}

func gcmEncrypt(key, plaintext, aad []byte) (iv, ciphertext, tag []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, err
	}

	iv = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, nil, err
	}

	sealed := gcm.Seal(nil, iv, plaintext, aad)
	ciphertext = sealed[:len(sealed)-gcm.Overhead()]
	tag = sealed[len(sealed)-gcm.Overhead():]

	return iv, ciphertext, tag, nil
}

func gcmDecrypt(key, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	sealed := append(append([]byte{}, ciphertext...), tag...)

	return gcm.Open(nil, iv, sealed, aad)
}

func xc20pEncrypt(key, plaintext, aad []byte) (iv, ciphertext, tag []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, nil, err
	}

	iv = make([]byte, aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, nil, err
	}

	sealed := aead.Seal(nil, iv, plaintext, aad)
	ciphertext = sealed[:len(sealed)-aead.Overhead()]
	tag = sealed[len(sealed)-aead.Overhead():]

	return iv, ciphertext, tag, nil
}

func xc20pDecrypt(key, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	sealed := append(append([]byte{}, ciphertext...), tag...)

	return aead.Open(nil, iv, sealed, aad)
}

// cbcHS512Encrypt implements RFC 7518 §5.2.5 A256CBC-HS512: the 64-byte
// key splits into a 32-byte HMAC-SHA512 key (first half) and a 32-byte
// AES-256-CBC key (second half); the tag is the first 32 bytes of
// HMAC-SHA512(aad_length || aad || iv || ciphertext).
func cbcHS512Encrypt(key, plaintext, aad []byte) (iv, ciphertext, tag []byte, err error) {
	if len(key) != 64 {
		return nil, nil, nil, fmt.Errorf("a256cbc-hs512 requires a 64-byte key")
	}

	hmacKey, aesKey := key[:32], key[32:]

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, nil, nil, err
	}

	iv = make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, nil, err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	tag = cbcHS512Tag(hmacKey, aad, iv, ciphertext)

	return iv, ciphertext, tag, nil
}

func cbcHS512Decrypt(key, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("a256cbc-hs512 requires a 64-byte key")
	}

	hmacKey, aesKey := key[:32], key[32:]

	want := cbcHS512Tag(hmacKey, aad, iv, ciphertext)
	if subtle.ConstantTimeCompare(want, tag) != 1 {
		return nil, fmt.Errorf("a256cbc-hs512: tag mismatch")
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}

	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("a256cbc-hs512: ciphertext not block-aligned")
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	return pkcs7Unpad(padded)
}

func cbcHS512Tag(hmacKey, aad, iv, ciphertext []byte) []byte {
	mac := hmac.New(sha512.New, hmacKey)
	mac.Write(aad)
	mac.Write(iv)
	mac.Write(ciphertext)

	var alBits [8]byte
	binary.BigEndian.PutUint64(alBits[:], uint64(len(aad))*8)
	mac.Write(alBits[:])

	return mac.Sum(nil)[:32]
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	padLen := blockSize - len(b)%blockSize
	padding := make([]byte, padLen)

	for i := range padding {
		padding[i] = byte(padLen)
	}

	return append(append([]byte{}, b...), padding...)
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("pkcs7: empty input")
	}

	padLen := int(b[len(b)-1])
	if padLen == 0 || padLen > len(b) {
		return nil, fmt.Errorf("pkcs7: invalid padding")
	}

	return b[:len(b)-padLen], nil
}
