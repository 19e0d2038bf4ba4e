package didauth

import (
	"fmt"
	"time"
)

// wireKind tags which of the two challenge/response shapes spec §4.7
// describes a given auth service speaks.
type wireKind int

const (
	wireComplex wireKind = iota
	wireSimple
)

// parseChallenge detects and decodes a /challenge response. Complex
// carries {session_id, data:{challenge}}; Simple carries {challenge} flat.
// The presence of session_id is the sole discriminator, since no wire
// version field exists on either shape.
func parseChallenge(body map[string]any) (kind wireKind, challenge, sessionID string, ok bool) {
	if sid, hasSession := body["session_id"].(string); hasSession {
		data, _ := body["data"].(map[string]any)
		if data == nil {
			return 0, "", "", false
		}

		ch, _ := data["challenge"].(string)
		if ch == "" {
			return 0, "", "", false
		}

		return wireComplex, ch, sid, true
	}

	if ch, hasChallenge := body["challenge"].(string); hasChallenge && ch != "" {
		return wireSimple, ch, "", true
	}

	return 0, "", "", false
}

// parseComplexTokens decodes {session_id, data:{access_token,
// access_expires_at, refresh_token, refresh_expires_at}} with epoch-second
// expiries already numeric.
func parseComplexTokens(body map[string]any) (*AuthorizationTokens, error) {
	data, _ := body["data"].(map[string]any)
	if data == nil {
		return nil, fmt.Errorf("didauth: complex token response missing data")
	}

	access, _ := data["access_token"].(string)
	refresh, _ := data["refresh_token"].(string)

	accessExp, err := numberField(data, "access_expires_at")
	if err != nil {
		return nil, err
	}

	refreshExp, err := numberField(data, "refresh_expires_at")
	if err != nil {
		return nil, err
	}

	if access == "" {
		return nil, fmt.Errorf("didauth: complex token response missing access_token")
	}

	return &AuthorizationTokens{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// parseSimpleTokens decodes the flat shape, where expiries are RFC-3339
// timestamps that must be parsed to epoch seconds, per spec §4.7.
func parseSimpleTokens(body map[string]any) (*AuthorizationTokens, error) {
	access, _ := body["access_token"].(string)
	refresh, _ := body["refresh_token"].(string)

	if access == "" {
		return nil, fmt.Errorf("didauth: simple token response missing access_token")
	}

	accessExp, err := rfc3339Field(body, "access_expires_at")
	if err != nil {
		return nil, err
	}

	refreshExp, err := rfc3339Field(body, "refresh_expires_at")
	if err != nil {
		return nil, err
	}

	return &AuthorizationTokens{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func numberField(m map[string]any, key string) (int64, error) {
	v, ok := m[key]
	if !ok {
		return 0, nil
	}

	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("didauth: field %q is not numeric", key)
	}

	return int64(f), nil
}

func rfc3339Field(m map[string]any, key string) (int64, error) {
	v, ok := m[key]
	if !ok {
		return 0, nil
	}

	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("didauth: field %q is not a string", key)
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("didauth: parse %q: %w", key, err)
	}

	return t.Unix(), nil
}
