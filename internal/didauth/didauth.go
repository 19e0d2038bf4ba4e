// Package didauth implements the DID-Auth handshake of spec §4.7: prove
// control of a DID via a challenge/response exchange over DIDComm (or a
// flat HTTP variant), yielding short-lived access and refresh tokens.
//
// Two wire variants exist in the wild — Complex (messaging-style,
// session_id/data envelopes) and Simple (flat JSON) — abstracted here
// behind one AuthorizationTokens view so callers never see the wire shape.
package didauth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/affinidi-community/tdk-core/internal/authcache"
	"github.com/affinidi-community/tdk-core/internal/didcomm"
	"github.com/affinidi-community/tdk-core/internal/didcomm/jose"
	"github.com/affinidi-community/tdk-core/internal/errs"
)

// AuthorizationTokens is the normalized view both wire variants decode
// into, reused directly as the authcache.Tokens shape.
type AuthorizationTokens = authcache.Tokens

const (
	authenticateMessageType = "https://affinidi.com/atm/1.0/authenticate"
	challengeExpirySeconds  = 60
	defaultRetryLimit       = 5
)

// backoffSchedule is the 1s -> 10s linear back-off of spec §4.7, one step
// per retry attempt, capped at the last entry for further attempts.
var backoffSchedule = []time.Duration{
	1 * time.Second, 2 * time.Second, 4 * time.Second, 7 * time.Second, 10 * time.Second,
}

// DocumentResolver resolves a DID to its document, to find the `auth`
// service endpoint when ServiceDID is given as a DID rather than a URL.
type DocumentResolver = didcomm.DocumentResolver

// Client performs the DID-Auth handshake against one auth service.
type Client struct {
	Resolver   DocumentResolver
	DIDComm    *didcomm.Engine
	HTTPClient *http.Client

	// healthProbe is an unused extension point mirroring the upstream
	// client's _http_check hook; nothing wires it.
	healthProbe func(context.Context) error
}

// New builds a Client with a default HTTP client if none is supplied.
func New(resolver DocumentResolver, engine *didcomm.Engine, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Client{Resolver: resolver, DIDComm: engine, HTTPClient: httpClient}
}

// Authenticate satisfies authcache.Handshaker: resolve the auth endpoint,
// then run the handshake with the package default retry limit. Intended
// to be wrapped by an authcache.Cache so concurrent callers coalesce.
func (c *Client) Authenticate(ctx context.Context, profileDID, serviceDID string) (*AuthorizationTokens, error) {
	return c.authenticate(ctx, profileDID, serviceDID, defaultRetryLimit)
}

// authenticate implements DIDAuthentication::authenticate of spec §4.7:
// retries on any non-ACL error with 1s -> 10s linear back-off; ACLDenied
// is fatal.
func (c *Client) authenticate(ctx context.Context, profileDID, serviceDID string, retryLimit int) (*AuthorizationTokens, error) {
	endpoint, err := c.resolveAuthEndpoint(ctx, serviceDID)
	if err != nil {
		return nil, err
	}

	var lastErr error

	for attempt := 0; attempt <= retryLimit; attempt++ {
		if attempt > 0 {
			wait := backoffSchedule[len(backoffSchedule)-1]
			if attempt-1 < len(backoffSchedule) {
				wait = backoffSchedule[attempt-1]
			}

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		tokens, err := c.handshakeOnce(ctx, endpoint, profileDID, serviceDID)
		if err == nil {
			return tokens, nil
		}

		if e, ok := err.(*errs.Error); ok && e.Kind == errs.KindACLDenied {
			return nil, err
		}

		lastErr = err
	}

	return nil, lastErr
}

// resolveAuthEndpoint accepts either a bare URL or a DID whose document's
// `auth` service resolves to one, per spec §4.7.
func (c *Client) resolveAuthEndpoint(ctx context.Context, serviceDID string) (string, error) {
	if strings.HasPrefix(serviceDID, "http://") || strings.HasPrefix(serviceDID, "https://") {
		return strings.TrimRight(serviceDID, "/"), nil
	}

	doc, err := c.Resolver.ResolveDocument(ctx, serviceDID)
	if err != nil {
		return "", errs.New(errs.KindDIDNotResolved, "didauth", "resolve auth service DID", err)
	}

	for _, svc := range doc.Service {
		for _, t := range svc.Type {
			if strings.EqualFold(t, "auth") || strings.EqualFold(t, "DIDAuth") {
				if svc.Endpoint.URL != "" {
					return strings.TrimRight(svc.Endpoint.URL, "/"), nil
				}
			}
		}
	}

	return "", errs.New(errs.KindDIDUrlNotFound, "didauth", "service document has no auth endpoint", nil)
}

func (c *Client) handshakeOnce(ctx context.Context, endpoint, profileDID, serviceDID string) (*AuthorizationTokens, error) {
	challengeResp, err := c.postJSON(ctx, endpoint+"/challenge", map[string]string{"did": profileDID})
	if err != nil {
		return nil, err
	}

	if kind, challenge, sessionID, ok := parseChallenge(challengeResp); ok {
		packed, err := c.packAuthenticate(ctx, challenge, sessionID, profileDID, serviceDID)
		if err != nil {
			return nil, err
		}

		switch kind {
		case wireComplex:
			body, err := c.postJSON(ctx, endpoint, packed)
			if err != nil {
				return nil, err
			}

			return parseComplexTokens(body)

		case wireSimple:
			envelopeJSON, err := json.Marshal(packed)
			if err != nil {
				return nil, fmt.Errorf("didauth: marshal envelope: %w", err)
			}

			body, err := c.postJSON(ctx, endpoint, map[string]string{
				"challenge_response": base64.URLEncoding.EncodeToString(envelopeJSON),
			})
			if err != nil {
				return nil, err
			}

			return parseSimpleTokens(body)
		}
	}

	return nil, errs.New(errs.KindMalformed, "didauth", "unrecognised challenge response shape", nil)
}

func (c *Client) packAuthenticate(ctx context.Context, challenge, sessionID, profileDID, serviceDID string) (*jose.Message, error) {
	now := time.Now().Unix()
	expires := now + challengeExpirySeconds

	body, err := json.Marshal(map[string]string{"challenge": challenge, "session_id": sessionID})
	if err != nil {
		return nil, fmt.Errorf("didauth: marshal authenticate body: %w", err)
	}

	msg := &didcomm.Message{
		ID:          challenge,
		Type:        authenticateMessageType,
		Body:        body,
		ExpiresTime: &expires,
	}

	signBy, err := c.resolveAuthenticationKid(ctx, profileDID)
	if err != nil {
		return nil, err
	}

	env, err := c.DIDComm.PackEncrypted(ctx, msg, serviceDID, profileDID, didcomm.PackOpts{SignBy: signBy})
	if err != nil {
		return nil, errs.New(errs.KindInvalidState, "didauth", "pack authenticate message", err)
	}

	return env, nil
}

// resolveAuthenticationKid picks an authentication verification method of
// profileDID whose private key this engine's secrets store holds, per
// spec §4.7 step 2.
func (c *Client) resolveAuthenticationKid(ctx context.Context, profileDID string) (string, error) {
	doc, err := c.Resolver.ResolveDocument(ctx, profileDID)
	if err != nil {
		return "", errs.New(errs.KindDIDNotResolved, "didauth", "resolve profile DID", err)
	}

	vms, err := doc.AuthenticationMethods()
	if err != nil {
		return "", errs.New(errs.KindDIDUrlNotFound, "didauth", "profile DID has no authentication method", err)
	}

	for _, vm := range vms {
		if _, ok := c.DIDComm.Secrets.GetSecret(ctx, vm.ID); ok {
			return vm.ID, nil
		}
	}

	return "", errs.New(errs.KindSecretNotFound, "didauth", "no usable authentication secret for profile DID", nil)
}

func (c *Client) postJSON(ctx context.Context, url string, payload any) (map[string]any, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("didauth: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("didauth: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindTransport, "didauth", "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errs.New(errs.KindTransport, "didauth", "read response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errs.New(errs.KindACLDenied, "didauth", fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindTransport, "didauth", fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errs.New(errs.KindMalformed, "didauth", "parse response", err)
	}

	return out, nil
}
