// Package ratelimit implements the distributed limiter that guards calls to
// cost-bearing upstream APIs.
//
// Each scope has a normal and an aggressive budget. Budgets are counted in a
// Store shared by every instance, so adding instances does not add
// throughput. An upstream 429 (Penalize) blocks the scope until the upstream's
// retry hint and keeps it on the aggressive budget for a cooldown window.
//
// When the shared store is unreachable the limiter fails safe: decisions fall
// back to a per-process safety limiter and excess calls are rejected.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"fieldquest/cmd/internal/fault"
	"fieldquest/cmd/internal/telemetry"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

const (
	ModeNormal     = "normal"
	ModeAggressive = "aggressive"
	ModeBlocked    = "blocked"
	ModeFailSafe   = "failsafe"

	defaultStoreTimeout = 250 * time.Millisecond
	defaultCooldown     = 5 * time.Minute
)

var scopeRe = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ErrUnknownScope is returned for scopes that were never configured.
var ErrUnknownScope = fmt.Errorf("ratelimit: unknown scope: %w", fault.ErrValidation)

// ScopeConfig is the policy of one upstream.
type ScopeConfig struct {
	Normal     Bucket        `koanf:"normal"`
	Aggressive Bucket        `koanf:"aggressive"`
	Cooldown   time.Duration `koanf:"cooldown"`
	// Safety is the per-process budget used while the shared store is
	// unreachable. Zero uses Aggressive.
	Safety Bucket `koanf:"safety"`
}

// Decision is the outcome of one Consume.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Mode       string
}

type scopeState struct {
	cfg    ScopeConfig
	safety *rate.Limiter
}

// Limiter is safe for concurrent use.
type Limiter struct {
	store        Store
	scopes       map[string]*scopeState
	storeTimeout time.Duration

	log      *slog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
	degraded atomic.Bool

	mu sync.Mutex // guards safety limiter reservation sequences
}

// Option configures a Limiter.
type Option func(*Limiter)

func WithLogger(l *slog.Logger) Option {
	return func(lim *Limiter) {
		if l != nil {
			lim.log = l
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(lim *Limiter) { lim.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(lim *Limiter) {
		if now != nil {
			lim.now = now
		}
	}
}

func WithStoreTimeout(d time.Duration) Option {
	return func(lim *Limiter) {
		if d > 0 {
			lim.storeTimeout = d
		}
	}
}

// New validates scopes and builds a Limiter.
func New(store Store, scopes map[string]ScopeConfig, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: nil store")
	}
	if len(scopes) == 0 {
		return nil, errors.New("ratelimit: no scopes configured")
	}

	l := &Limiter{
		store:        store,
		scopes:       make(map[string]*scopeState, len(scopes)),
		storeTimeout: defaultStoreTimeout,
		log:          slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	for name, cfg := range scopes {
		if !scopeRe.MatchString(name) {
			return nil, fmt.Errorf("ratelimit: invalid scope name %q", name)
		}
		if !cfg.Normal.valid() || !cfg.Aggressive.valid() {
			return nil, fmt.Errorf("ratelimit: scope %q: budgets must be positive", name)
		}
		if cfg.Aggressive.Points*int(cfg.Normal.Duration) > cfg.Normal.Points*int(cfg.Aggressive.Duration) {
			return nil, fmt.Errorf("ratelimit: scope %q: aggressive budget exceeds normal budget", name)
		}
		if cfg.Cooldown <= 0 {
			cfg.Cooldown = defaultCooldown
		}
		if !cfg.Safety.valid() {
			cfg.Safety = cfg.Aggressive
		}
		every := cfg.Safety.Duration / time.Duration(cfg.Safety.Points)
		l.scopes[name] = &scopeState{
			cfg:    cfg,
			safety: rate.NewLimiter(rate.Every(every), cfg.Safety.Points),
		}
	}
	return l, nil
}

func keyFor(scope, part string) string { return "rl." + scope + "." + part }

// Consume charges one point for scope and reports whether the caller may
// proceed. It only returns an error for unknown scopes; store failures are
// absorbed by the fail-safe path.
func (l *Limiter) Consume(ctx context.Context, scope string) (Decision, error) {
	st, ok := l.scopes[scope]
	if !ok {
		return Decision{}, ErrUnknownScope
	}

	now := l.now()
	d, err := l.consumeShared(ctx, scope, st, now)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Decision{}, ctxErr
		}
		if l.degraded.CompareAndSwap(false, true) {
			l.log.Warn("ratelimit.store.unavailable", "scope", scope, "err", err)
		}
		d = l.consumeSafety(st, now)
	} else if l.degraded.CompareAndSwap(true, false) {
		l.log.Info("ratelimit.store.recovered", "scope", scope)
	}

	l.metrics.RateLimitDecision(scope, d.Mode, d.Allowed)
	return d, nil
}

func (l *Limiter) consumeShared(ctx context.Context, scope string, st *scopeState, now time.Time) (Decision, error) {
	sctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	raw, err := l.store.Get(sctx, keyFor(scope, "penalty"))
	if err != nil {
		return Decision{}, err
	}
	p := decodePenalty(raw)
	nowMs := now.UnixMilli()

	if nowMs < p.BlockedUntil {
		return Decision{
			Allowed:    false,
			RetryAfter: time.Duration(p.BlockedUntil-nowMs) * time.Millisecond,
			Mode:       ModeBlocked,
		}, nil
	}

	mode, bucket := ModeNormal, st.cfg.Normal
	if nowMs < p.CooldownUntil {
		mode, bucket = ModeAggressive, st.cfg.Aggressive
	}

	var (
		allowed    bool
		retryAfter time.Duration
	)
	_, err = l.store.Update(sctx, keyFor(scope, mode), func(cur []byte) ([]byte, error) {
		var next window
		next, allowed, retryAfter = consume(decodeWindow(cur), bucket, now)
		return json.Marshal(next)
	})
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: allowed, RetryAfter: retryAfter, Mode: mode}, nil
}

func (l *Limiter) consumeSafety(st *scopeState, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := st.safety.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false, RetryAfter: st.cfg.Safety.Duration, Mode: ModeFailSafe}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay, Mode: ModeFailSafe}
	}
	return Decision{Allowed: true, Mode: ModeFailSafe}
}

// Penalize records an upstream rate-limit rejection for scope. The scope is
// blocked for retryAfter (when the upstream gave a hint) and then stays on the
// aggressive budget for the cooldown window. Store failures are logged.
//
// It returns the hint to pass on to clients: retryAfter, or the aggressive
// budget's spacing between points when the upstream gave none.
func (l *Limiter) Penalize(ctx context.Context, scope string, retryAfter time.Duration) time.Duration {
	st, ok := l.scopes[scope]
	if !ok {
		return retryAfter
	}
	hint := retryAfter
	if hint <= 0 {
		hint = st.cfg.Aggressive.spacing()
	}

	now := l.now()
	cooldown := st.cfg.Cooldown
	if retryAfter > cooldown {
		cooldown = retryAfter
	}
	p := penalty{CooldownUntil: now.Add(cooldown).UnixMilli()}
	if retryAfter > 0 {
		p.BlockedUntil = now.Add(retryAfter).UnixMilli()
	}

	sctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	_, err := l.store.Update(sctx, keyFor(scope, "penalty"), func(cur []byte) ([]byte, error) {
		return json.Marshal(decodePenalty(cur).merge(p))
	})
	if err != nil {
		l.log.Warn("ratelimit.penalize.fail", "scope", scope, "err", err)
		return hint
	}
	l.log.Warn("ratelimit.aggressive", "scope", scope, "retry_after_ms", retryAfter.Milliseconds(), "cooldown_ms", cooldown.Milliseconds())
	return hint
}

// Scopes lists the configured scope names.
func (l *Limiter) Scopes() []string {
	out := make([]string, 0, len(l.scopes))
	for name := range l.scopes {
		out = append(out, name)
	}
	return out
}
