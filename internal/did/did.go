// Package did parses `did:<method>:<method-specific-id>` strings into a
// tagged variant carrying method-parsed fields, per spec §3/§4.2.
//
// Grounded on agntcy-dir's identity/did/did.go (DID string handling) and
// authn/did.go (verification-method lookup), generalized from the single
// did:plc method those files hard-coded into the full method set spec.md
// requires.
package did

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/affinidi-community/tdk-core/internal/codec/multibase"
)

// Method identifies which DID method a DID belongs to.
type Method string

const (
	MethodKey   Method = "key"
	MethodPeer  Method = "peer"
	MethodWeb   Method = "web"
	MethodWebvh Method = "webvh"
	MethodJwk   Method = "jwk"
	MethodEthr  Method = "ethr"
	MethodPkh   Method = "pkh"
	MethodCheqd Method = "cheqd"
	MethodScid  Method = "scid"
	MethodOther Method = "other"
)

// DID is the parsed, tagged representation of a DID string.
type DID struct {
	Raw      string
	Method   Method
	RawQuery string // DID URL query, e.g. "versionId=1-abc" for did:webvh

	// Key
	KeyCodec multibase.Codec
	KeyBytes []byte

	// Peer
	PeerNumalgo int

	// Web / Webvh
	Domain       string
	PathSegments []string
	SCID         string // webvh only

	// Pkh
	ChainNamespace string
	ChainReference string
	AccountAddress string

	// Scid
	UnderlyingMethod string
	Version          string

	// Cheqd
	Namespace      string
	MethodSpecific string
}

// ErrMalformed is returned for any DID string that fails the RFC-3986-style
// syntax or method-specific semantic checks of spec §3.
var ErrMalformed = fmt.Errorf("malformed DID")

// maxDIDLength is the default 1 KiB size cap from spec §4.3 policy.
const maxDIDLength = 1024

// maxParts is the default max 15 keys/services in a method-specific part,
// per spec §4.3 policy (applies to did:peer numalgo2 parts and did:web/
// did:webvh path segments).
const maxParts = 15

// Parse validates and decomposes a DID string into its tagged variant.
func Parse(s string) (*DID, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}

	if len(s) > maxDIDLength {
		return nil, fmt.Errorf("%w: exceeds %d byte cap", ErrMalformed, maxDIDLength)
	}

	didPart, rawQuery := s, ""
	if idx := strings.IndexByte(s, '?'); idx >= 0 {
		didPart, rawQuery = s[:idx], s[idx+1:]
	}

	if !isValidDIDSyntax(didPart) {
		return nil, fmt.Errorf("%w: %q does not match did:<method>:<id> syntax", ErrMalformed, s)
	}

	parts := strings.SplitN(didPart, ":", 3)
	method := Method(parts[1])
	rest := parts[2]

	d := &DID{Raw: didPart, Method: method, RawQuery: rawQuery}

	var err error

	switch method {
	case MethodKey:
		err = parseKey(d, rest)
	case MethodPeer:
		err = parsePeer(d, rest)
	case MethodWeb:
		err = parseWeb(d, rest)
	case MethodWebvh:
		err = parseWebvh(d, rest)
	case MethodJwk:
		// did:jwk:<base64url-JWK> — no further structural parsing required.
	case MethodEthr:
		err = parseEthr(d, rest)
	case MethodPkh:
		err = parsePkh(d, rest)
	case MethodCheqd:
		err = parseCheqd(d, rest)
	case MethodScid:
		err = parseScid(d, rest)
	default:
		d.Method = MethodOther
	}

	if err != nil {
		return nil, err
	}

	return d, nil
}

// WebvhQuery parses d's RawQuery into URL query values (versionId,
// versionTime), returning nil when the DID carries no query.
func WebvhQuery(d *DID) *url.Values {
	if d.RawQuery == "" {
		return nil
	}

	v, err := url.ParseQuery(d.RawQuery)
	if err != nil {
		return nil
	}

	return &v
}

// isValidDIDSyntax applies the RFC-3986-style restriction of spec §3:
// "did:" <method-name> ":" <method-specific-id>, method-name lowercase
// alnum, method-specific-id a non-empty run of ASCII letters, digits,
// '.', '-', '_', '%', ':', '?' and '='.
func isValidDIDSyntax(s string) bool {
	if !strings.HasPrefix(s, "did:") {
		return false
	}

	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return false
	}

	method := parts[1]
	if method == "" {
		return false
	}

	for _, r := range method {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}

	if parts[2] == "" {
		return false
	}

	for _, r := range parts[2] {
		ok := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			r == '.' || r == '-' || r == '_' || r == ':' || r == '%' || r == '?' || r == '='
		if !ok {
			return false
		}
	}

	return true
}

func parseKey(d *DID, rest string) error {
	codec, key, err := multibase.Decode(rest)
	if err != nil {
		return fmt.Errorf("%w: did:key: %v", ErrMalformed, err)
	}

	d.KeyCodec = codec
	d.KeyBytes = key

	return nil
}

// parsePeer implements spec §4.2's did:peer rules: first char is numalgo
// 0 (inception key) or 2 (multiple keys); numalgo 1 (genesis doc) is
// rejected; numalgo 2's dot-separated parts each carry a purpose code plus
// either a multibase key or a base64url service descriptor.
func parsePeer(d *DID, rest string) error {
	if rest == "" {
		return fmt.Errorf("%w: did:peer: empty method-specific-id", ErrMalformed)
	}

	numalgo, err := strconv.Atoi(string(rest[0]))
	if err != nil {
		return fmt.Errorf("%w: did:peer: non-numeric numalgo %q", ErrMalformed, string(rest[0]))
	}

	switch numalgo {
	case 0:
		d.PeerNumalgo = 0

		if _, _, err := multibase.Decode(rest[1:]); err != nil {
			return fmt.Errorf("%w: did:peer numalgo 0: %v", ErrMalformed, err)
		}
	case 1:
		return fmt.Errorf("%w: did:peer numalgo 1 (genesis doc) is not supported", ErrMalformed)
	case 2:
		d.PeerNumalgo = 2

		segments := strings.Split(rest[1:], ".")
		if len(segments) == 0 || len(segments) > maxParts {
			return fmt.Errorf("%w: did:peer numalgo 2: %d parts exceeds cap %d", ErrMalformed, len(segments), maxParts)
		}

		for _, seg := range segments {
			if len(seg) < 2 {
				return fmt.Errorf("%w: did:peer numalgo 2: segment %q too short for purpose code", ErrMalformed, seg)
			}

			purpose := seg[0]
			if !strings.ContainsRune("VEAIDS", rune(purpose)) {
				return fmt.Errorf("%w: did:peer numalgo 2: unknown purpose code %q", ErrMalformed, string(purpose))
			}
		}

		d.PathSegments = segments
	default:
		return fmt.Errorf("%w: did:peer: unsupported numalgo %d", ErrMalformed, numalgo)
	}

	return nil
}

func splitDomainPath(rest string) (domain string, segments []string, err error) {
	parts := strings.Split(rest, ":")
	if len(parts) == 0 || parts[0] == "" {
		return "", nil, fmt.Errorf("%w: missing domain", ErrMalformed)
	}

	domain = parts[0]
	segments = parts[1:]

	if len(segments) > maxParts {
		return "", nil, fmt.Errorf("%w: %d path segments exceeds cap %d", ErrMalformed, len(segments), maxParts)
	}

	return domain, segments, nil
}

func parseWeb(d *DID, rest string) error {
	domain, segments, err := splitDomainPath(rest)
	if err != nil {
		return fmt.Errorf("did:web: %w", err)
	}

	d.Domain = domain
	d.PathSegments = segments

	return nil
}

// parseWebvh handles `did:webvh:<scid>:<domain>[:<path>...]`, minimum 2
// parts (scid, domain), per spec §4.2.
func parseWebvh(d *DID, rest string) error {
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) < 2 {
		return fmt.Errorf("%w: did:webvh requires at least scid:domain", ErrMalformed)
	}

	d.SCID = parts[0]

	domain, segments, err := splitDomainPath(parts[1])
	if err != nil {
		return fmt.Errorf("did:webvh: %w", err)
	}

	d.Domain = domain
	d.PathSegments = segments

	return nil
}

// parsePkh handles `did:pkh:<chain_namespace>:<chain_reference>:<account_address>`
// (CAIP-10 account id), per spec §3.
func parsePkh(d *DID, rest string) error {
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return fmt.Errorf("%w: did:pkh requires namespace:reference:address, got %d parts", ErrMalformed, len(parts))
	}

	d.ChainNamespace = parts[0]
	d.ChainReference = parts[1]
	d.AccountAddress = parts[2]

	return nil
}

// parseEthr handles `did:ethr[:<network>]:<address>`.
func parseEthr(d *DID, rest string) error {
	parts := strings.Split(rest, ":")
	if len(parts) == 0 {
		return fmt.Errorf("%w: did:ethr requires an address", ErrMalformed)
	}

	d.AccountAddress = parts[len(parts)-1]
	if len(parts) > 1 {
		d.ChainReference = strings.Join(parts[:len(parts)-1], ":")
	}

	if !strings.HasPrefix(d.AccountAddress, "0x") || len(d.AccountAddress) != 42 {
		return fmt.Errorf("%w: did:ethr: invalid address %q", ErrMalformed, d.AccountAddress)
	}

	return nil
}

// parseCheqd handles `did:cheqd:<namespace>:<method-specific-id>`.
func parseCheqd(d *DID, rest string) error {
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("%w: did:cheqd requires namespace:id", ErrMalformed)
	}

	d.Namespace = parts[0]
	d.MethodSpecific = parts[1]

	return nil
}

// parseScid handles `did:scid:<version>:<scid>[?src=did:<method>:...]`
// per spec §4.2. The src query parameter (already split into d.RawQuery
// by Parse) names the underlying DID; it must have did:<method>:<id>
// syntax, and its method is recorded in d.UnderlyingMethod.
func parseScid(d *DID, rest string) error {
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("%w: did:scid requires version:scid", ErrMalformed)
	}

	d.Version = parts[0]
	d.SCID = parts[1]

	query, err := url.ParseQuery(d.RawQuery)
	if err != nil {
		return fmt.Errorf("%w: did:scid query: %v", ErrMalformed, err)
	}

	if src := query.Get("src"); src != "" {
		if !isValidDIDSyntax(src) {
			return fmt.Errorf("%w: did:scid src hint %q is not a DID", ErrMalformed, src)
		}

		d.UnderlyingMethod = strings.SplitN(src, ":", 3)[1]
	}

	return nil
}
