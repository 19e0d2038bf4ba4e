package didcomm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/affinidi-community/tdk-core/internal/didcomm/jose"
	"github.com/affinidi-community/tdk-core/internal/errs"
)

// FromPriorClaims is the DID-rotation attestation of spec §4.5: a JWT
// signed by the prior DID's authentication key asserting the subject has
// rotated to a new DID.
type FromPriorClaims struct {
	Iss string `json:"iss"`
	Sub string `json:"sub"`
	Iat int64  `json:"iat"`
}

// SignFromPrior validates iss != sub (both fragment-less DIDs), resolves
// iss, picks an authentication verification method present in the
// secrets store, and signs the compact JWT, per spec §4.5.
func (e *Engine) SignFromPrior(ctx context.Context, oldDID, newDID string) (string, error) {
	if oldDID == newDID {
		return "", errs.New(errs.KindMalformed, "didcomm", "from_prior: iss must differ from sub", nil)
	}

	if containsFragment(oldDID) || containsFragment(newDID) {
		return "", errs.New(errs.KindMalformed, "didcomm", "from_prior: iss/sub must be fragment-less DIDs", nil)
	}

	doc, err := e.Resolver.ResolveDocument(ctx, oldDID)
	if err != nil {
		return "", errs.New(errs.KindDIDNotResolved, "didcomm", "from_prior: resolve iss", err)
	}

	vms, err := doc.AuthenticationMethods()
	if err != nil {
		return "", errs.New(errs.KindDIDUrlNotFound, "didcomm", "from_prior: iss has no authentication method", err)
	}

	for _, vm := range vms {
		secret, ok := e.Secrets.GetSecret(ctx, vm.ID)
		if !ok {
			continue
		}

		claims := FromPriorClaims{Iss: oldDID, Sub: newDID, Iat: time.Now().Unix()}

		payload, err := json.Marshal(claims)
		if err != nil {
			return "", fmt.Errorf("didcomm: marshal from_prior claims: %w", err)
		}

		jws, err := jose.Sign(payload, vm.ID, secret.KeyType, secret.PrivateKey)
		if err != nil {
			return "", errs.New(errs.KindInvalidState, "didcomm", "from_prior: sign", err)
		}

		return jose.Compact(jws)
	}

	return "", errs.New(errs.KindSecretNotFound, "didcomm", "from_prior: no usable authentication secret for iss", nil)
}

// VerifyFromPrior reverses SignFromPrior: parse the compact JWT, resolve
// iss, verify the signature with the authentication key named by kid.
func (e *Engine) VerifyFromPrior(ctx context.Context, token string) (*FromPriorClaims, error) {
	jws, err := jose.ParseCompact(token)
	if err != nil {
		return nil, errs.New(errs.KindMalformed, "didcomm", "from_prior: parse", err)
	}

	kid := jwsSignerKid(jws)
	if kid == "" {
		return nil, errs.New(errs.KindMalformed, "didcomm", "from_prior: missing kid", nil)
	}

	kt, pub, err := e.lookupVerificationKey(kid)
	if err != nil {
		return nil, err
	}

	payload, _, err := jose.Verify(jws, kt, pub)
	if err != nil {
		return nil, errs.New(errs.KindInvalidState, "didcomm", "from_prior: verify", err)
	}

	var claims FromPriorClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, errs.New(errs.KindMalformed, "didcomm", "from_prior: parse claims", err)
	}

	if claims.Iss == claims.Sub {
		return nil, errs.New(errs.KindMalformed, "didcomm", "from_prior: iss equals sub", nil)
	}

	return &claims, nil
}

func containsFragment(didURL string) bool {
	for _, r := range didURL {
		if r == '#' {
			return true
		}
	}

	return false
}
