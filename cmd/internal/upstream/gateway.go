// Package upstream fronts the cost-bearing third-party APIs (species data,
// geocoding, map tiles).
//
// Every call is charged against the distributed limiter first, then served
// from the cache tier when possible. Misses go to the provider through a
// per-provider circuit breaker with a per-attempt timeout and a bounded
// exponential retry. An upstream 429 switches the provider's limiter scope
// into aggressive mode using the upstream's Retry-After hint.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"fieldquest/cmd/internal/fault"
	"fieldquest/cmd/internal/ratelimit"
	"fieldquest/cmd/internal/telemetry"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	ErrInvalid     = fmt.Errorf("upstream: invalid request: %w", fault.ErrValidation)
	ErrNotFound    = fmt.Errorf("upstream: not found: %w", fault.ErrNotFound)
	ErrDisabled    = fmt.Errorf("upstream: provider disabled: %w", fault.ErrUpstreamUnavailable)
	ErrUnavailable = fmt.Errorf("upstream: %w", fault.ErrUpstreamUnavailable)
)

// Cache is the subset of the cache tier the gateway needs.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Limiter is the subset of the rate limiter the gateway needs.
type Limiter interface {
	Consume(ctx context.Context, scope string) (ratelimit.Decision, error)
	Penalize(ctx context.Context, scope string, retryAfter time.Duration) time.Duration
}

// Response is an upstream payload as served to clients.
type Response struct {
	ContentType string `json:"ct"`
	Body        []byte `json:"body"`
	Cached      bool   `json:"-"`
}

type provider struct {
	name    string
	cfg     ProviderConfig
	breaker *gobreaker.CircuitBreaker[Response]
}

// Gateway is safe for concurrent use.
type Gateway struct {
	client    *http.Client
	cache     Cache
	limiter   Limiter
	userAgent string
	providers map[string]*provider

	log     *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithHTTPClient replaces the transport client. Per-attempt timeouts are
// applied through the request context, so the client needs none.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.client = c
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// New builds a Gateway. cache and limiter are required.
func New(cfg Config, cache Cache, limiter Limiter, opts ...Option) (*Gateway, error) {
	if cache == nil || limiter == nil {
		return nil, errors.New("upstream: cache and limiter are required")
	}
	g := &Gateway{
		client:    &http.Client{},
		cache:     cache,
		limiter:   limiter,
		userAgent: cfg.UserAgent,
		providers: make(map[string]*provider, 3),
		log:       slog.Default(),
		now:       time.Now,
	}
	if g.userAgent == "" {
		g.userAgent = defaultUserAgent
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	for name, pc := range cfg.providers() {
		pc, err := pc.normalized(name)
		if err != nil {
			return nil, err
		}
		g.providers[name] = &provider{name: name, cfg: pc, breaker: g.newBreaker(name, pc)}
	}
	return g, nil
}

func (g *Gateway) newBreaker(name string, pc ProviderConfig) *gobreaker.CircuitBreaker[Response] {
	return gobreaker.NewCircuitBreaker[Response](gobreaker.Settings{
		Name:        "upstream-" + name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     pc.BreakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= pc.BreakerFailures
		},
		// Client-side statuses say nothing about provider health.
		IsSuccessful: func(err error) bool {
			var se *statusError
			return err == nil || (errors.As(err, &se) && !se.serverSide())
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			lvl := slog.LevelInfo
			if to == gobreaker.StateOpen {
				lvl = slog.LevelWarn
			}
			g.log.Log(context.Background(), lvl, "upstream.breaker.state",
				"provider", name, "from", from.String(), "to", to.String())
		},
	})
}

// Enabled reports whether the provider has a base URL configured.
func (g *Gateway) Enabled(name string) bool {
	p, ok := g.providers[name]
	return ok && p.cfg.BaseURL != ""
}

// BreakerState exposes the provider's breaker state for readiness output.
func (g *Gateway) BreakerState(name string) (string, bool) {
	p, ok := g.providers[name]
	if !ok {
		return "", false
	}
	return p.breaker.State().String(), true
}

type request struct {
	provider *provider
	cacheKey string
	url      string
	accept   string
}

// fetch runs one logical call: limiter -> cache -> breaker+retry -> cache fill.
func (g *Gateway) fetch(ctx context.Context, req request) (Response, error) {
	p := req.provider
	if p.cfg.BaseURL == "" {
		return Response{}, ErrDisabled
	}
	start := g.now()

	d, err := g.limiter.Consume(ctx, p.cfg.Scope)
	if err != nil {
		return Response{}, err
	}
	if !d.Allowed {
		g.record(p, "rate_limited", start)
		return Response{}, fault.RateLimitedError{Scope: p.cfg.Scope, RetryAfter: d.RetryAfter}
	}

	if raw, ok := g.cache.Get(ctx, req.cacheKey); ok {
		var cached Response
		if err := json.Unmarshal(raw, &cached); err == nil {
			cached.Cached = true
			g.record(p, "cache_hit", start)
			return cached, nil
		}
		g.log.Warn("upstream.cache.decode.fail", "provider", p.name, "key", req.cacheKey)
	}

	resp, err := g.call(ctx, req)
	if err != nil {
		return Response{}, g.classify(ctx, p, start, err)
	}
	g.record(p, "ok", start)

	if raw, err := json.Marshal(resp); err == nil {
		if err := g.cache.Set(ctx, req.cacheKey, raw, p.cfg.CacheTTL); err != nil {
			g.log.Warn("upstream.cache.set.fail", "provider", p.name, "key", req.cacheKey, "err", err)
		}
	}
	return resp, nil
}

// classify turns a final call error into the caller-facing error and records
// the outcome.
func (g *Gateway) classify(ctx context.Context, p *provider, start time.Time, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		g.record(p, "canceled", start)
		return ctxErr
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		g.record(p, "breaker_open", start)
		return fmt.Errorf("%w: %s: circuit open", ErrUnavailable, p.name)
	}

	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.code == http.StatusTooManyRequests:
			g.record(p, "upstream_429", start)
			hint := g.limiter.Penalize(ctx, p.cfg.Scope, se.retryAfter)
			return fault.RateLimitedError{Scope: p.cfg.Scope, RetryAfter: hint}
		case se.code == http.StatusNotFound:
			g.record(p, "not_found", start)
			return ErrNotFound
		}
	}

	g.record(p, "error", start)
	g.log.Warn("upstream.request.fail", "provider", p.name, "err", err)
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, p.name, err)
}

func (g *Gateway) record(p *provider, result string, start time.Time) {
	g.metrics.UpstreamRequest(p.name, result, g.now().Sub(start).Seconds())
}
