// Package ratelimit implements the mediator's per-session-DID and
// per-method token-bucket rate limiting, grounded on the teacher's
// server/middleware/ratelimit limiter, generalized from per-client-ID
// limiting to the mediator's (session DID, protocol method) axis.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/affinidi-community/tdk-core/internal/obslog"
)

var logger = obslog.Logger("ratelimit")

// MethodLimit overrides the default per-DID rate for one protocol method.
type MethodLimit struct {
	RPS   float64
	Burst int
}

// Config configures the limiter, per spec.md §6.2/§9's back-pressure model.
type Config struct {
	Enabled bool

	// PerDIDRPS/PerDIDBurst bound one session DID's aggregate traffic.
	PerDIDRPS   float64
	PerDIDBurst int

	// GlobalRPS/GlobalBurst bound unauthenticated or pre-session traffic.
	GlobalRPS   float64
	GlobalBurst int

	// MethodLimits overrides the per-DID limit for named methods (e.g.
	// "trust-ping/2.0/ping" gets a tighter bucket than inbound delivery).
	MethodLimits map[string]MethodLimit
}

// Limiter rate-limits inbound mediator traffic by session DID and method.
//
// Thread safety: safe for concurrent use. Per-key limiters are created
// lazily and stored in a sync.Map for lock-free reads.
type Limiter struct {
	limiters sync.Map // key -> *rate.Limiter

	global *rate.Limiter
	config Config
}

// New builds a Limiter from cfg. A disabled cfg produces a limiter
// whose Allow/Wait always succeed.
func New(cfg Config) *Limiter {
	if !cfg.Enabled {
		logger.Info("rate limiting disabled")

		return &Limiter{config: cfg}
	}

	var global *rate.Limiter
	if cfg.GlobalRPS > 0 {
		global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst)
	}

	logger.Info("rate limiter initialized",
		"per_did_rps", cfg.PerDIDRPS,
		"per_did_burst", cfg.PerDIDBurst,
		"method_overrides", len(cfg.MethodLimits),
	)

	return &Limiter{global: global, config: cfg}
}

// Allow reports whether a request from didHash for method may proceed now.
func (l *Limiter) Allow(didHash, method string) bool {
	if !l.config.Enabled {
		return true
	}

	limiter := l.limiterFor(didHash, method)
	if limiter == nil {
		return true
	}

	allowed := limiter.Allow()
	if !allowed {
		logger.Warn("rate limit exceeded", "did_hash", didHash, "method", method)
	}

	return allowed
}

// Wait blocks until a request from didHash for method may proceed, or ctx
// is cancelled.
func (l *Limiter) Wait(ctx context.Context, didHash, method string) error {
	if !l.config.Enabled {
		return nil
	}

	limiter := l.limiterFor(didHash, method)
	if limiter == nil {
		return nil
	}

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: wait for %s/%s: %w", didHash, method, err)
	}

	return nil
}

func (l *Limiter) limiterFor(didHash, method string) *rate.Limiter {
	if method != "" {
		if ml, ok := l.config.MethodLimits[method]; ok {
			return l.getOrCreate(didHash+":"+method, ml.RPS, ml.Burst)
		}
	}

	if didHash != "" && l.config.PerDIDRPS > 0 {
		return l.getOrCreate(didHash, l.config.PerDIDRPS, l.config.PerDIDBurst)
	}

	return l.global
}

func (l *Limiter) getOrCreate(key string, rps float64, burst int) *rate.Limiter {
	if value, ok := l.limiters.Load(key); ok {
		return value.(*rate.Limiter)
	}

	if rps == 0 {
		return nil
	}

	newLimiter := rate.NewLimiter(rate.Limit(rps), burst)

	actual, _ := l.limiters.LoadOrStore(key, newLimiter)

	return actual.(*rate.Limiter)
}

// Count returns the number of active per-key limiters, for tests/metrics.
func (l *Limiter) Count() int {
	n := 0

	l.limiters.Range(func(_, _ any) bool {
		n++

		return true
	})

	return n
}
