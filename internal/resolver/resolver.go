// Package resolver implements the per-method DID resolvers of spec §4.2:
// pure (compute-only) resolvers for did:key/did:peer, and network resolvers
// for did:web/did:webvh/did:cheqd/did:ethr/did:pkh/did:scid. Resolvers are
// composed by trying each in turn; the first whose method matches returns
// a result, others are skipped.
package resolver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/affinidi-community/tdk-core/internal/did"
	"github.com/affinidi-community/tdk-core/internal/diddoc"
	"github.com/affinidi-community/tdk-core/internal/errs"
)

// DefaultNetworkTimeout is spec §4.2's default network resolver timeout.
const DefaultNetworkTimeout = 10 * time.Second

// Resolver resolves one or more DID methods. Resolve returns ok=false
// (and a nil error) when d's method is not handled by this resolver, so
// the Composite can fall through to the next candidate.
type Resolver interface {
	Resolve(ctx context.Context, d *did.DID) (doc *diddoc.Document, ok bool, err error)
}

// Composite tries each configured resolver in sequence.
type Composite struct {
	resolvers []Resolver
}

// NewComposite builds the default resolver chain: pure did:key/did:peer
// first, then the network-backed methods.
func NewComposite(opts ...Option) *Composite {
	cfg := &config{
		httpClient: &http.Client{Timeout: DefaultNetworkTimeout},
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &Composite{
		resolvers: []Resolver{
			&KeyResolver{},
			&PeerResolver{},
			NewWebResolver(cfg.httpClient),
			NewWebvhResolver(cfg.httpClient),
			NewUniversalResolver(cfg.universalResolverEndpoint, cfg.httpClient),
		},
	}
}

type config struct {
	httpClient                *http.Client
	universalResolverEndpoint string
}

// Option configures a Composite resolver chain.
type Option func(*config)

// WithHTTPClient overrides the client used by all network resolvers.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *config) { cfg.httpClient = c }
}

// WithUniversalResolverEndpoint sets the DIF Universal-Resolver-compatible
// endpoint used for did:cheqd/did:ethr/did:pkh/did:scid, per spec §4.2
// ("network: HTTP GET of a constructed URL").
func WithUniversalResolverEndpoint(endpoint string) Option {
	return func(cfg *config) { cfg.universalResolverEndpoint = endpoint }
}

// Resolve runs the chain, returning the first resolver's result whose
// method matched, or an Unsupported error if none did.
func (c *Composite) Resolve(ctx context.Context, d *did.DID) (*diddoc.Document, error) {
	for _, r := range c.resolvers {
		doc, ok, err := r.Resolve(ctx, d)
		if !ok {
			continue
		}

		if err != nil {
			return nil, err
		}

		return doc, nil
	}

	return nil, errs.New(errs.KindUnsupported, "resolver", fmt.Sprintf("no resolver registered for method %q", d.Method), nil)
}
