package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fieldquest/cmd/internal/telemetry"

	lru "github.com/hashicorp/golang-lru"
)

const (
	DefaultTTL           = 7 * 24 * time.Hour
	DefaultLocalTTL      = 10 * time.Minute
	DefaultLocalSize     = 4096
	DefaultSharedTimeout = 250 * time.Millisecond
)

// ErrSharedUnavailable wraps shared-tier failures returned from Set/Del/Flush.
var ErrSharedUnavailable = errors.New("cache: shared tier unavailable")

// SharedStore is the networked tier. Implementations must be safe for use by
// many processes at once; each call is a single atomic store operation.
type SharedStore interface {
	// Get returns ok=false for missing or expired keys.
	Get(ctx context.Context, key string) (value []byte, expiresAt time.Time, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error
	Del(ctx context.Context, key string) error
	Flush(ctx context.Context) error
}

// Config tunes a Tier. Zero values pick the defaults above.
type Config struct {
	// Namespace prefixes every key so several logical caches can share stores.
	Namespace string `koanf:"namespace"`

	LocalSize int `koanf:"local_size"`
	// LocalTTL caps how long a local copy may outlive a shared update made
	// by another instance.
	LocalTTL      time.Duration `koanf:"local_ttl"`
	DefaultTTL    time.Duration `koanf:"default_ttl"`
	SharedTimeout time.Duration `koanf:"shared_timeout"`
}

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// Tier is the two-level cache. A nil shared store runs the cache local-only.
type Tier struct {
	local  *lru.Cache
	shared SharedStore

	ns            string
	localTTL      time.Duration
	defaultTTL    time.Duration
	sharedTimeout time.Duration

	log     *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// Option configures a Tier.
type Option func(*Tier)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tier) {
		if l != nil {
			t.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(t *Tier) { t.metrics = m }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(t *Tier) {
		if now != nil {
			t.now = now
		}
	}
}

// New constructs a Tier.
func New(cfg Config, shared SharedStore, opts ...Option) (*Tier, error) {
	size := cfg.LocalSize
	if size <= 0 {
		size = DefaultLocalSize
	}
	local, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("cache: local tier: %w", err)
	}

	t := &Tier{
		local:         local,
		shared:        shared,
		ns:            strings.TrimSpace(cfg.Namespace),
		localTTL:      nonZero(cfg.LocalTTL, DefaultLocalTTL),
		defaultTTL:    nonZero(cfg.DefaultTTL, DefaultTTL),
		sharedTimeout: nonZero(cfg.SharedTimeout, DefaultSharedTimeout),
		log:           slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Get returns the cached value for key. A miss in both tiers, or an
// unreachable shared tier, is reported as ok=false and never as an error.
func (t *Tier) Get(ctx context.Context, key string) ([]byte, bool) {
	k := t.key(key)
	now := t.now()

	if v, ok := t.local.Get(k); ok {
		e := v.(localEntry)
		if now.Before(e.expiresAt) {
			t.metrics.CacheLookup("local", "hit")
			return e.value, true
		}
		t.local.Remove(k)
	}
	t.metrics.CacheLookup("local", "miss")

	if t.shared == nil {
		return nil, false
	}

	sctx, cancel := context.WithTimeout(ctx, t.sharedTimeout)
	defer cancel()

	value, expiresAt, ok, err := t.shared.Get(sctx, k)
	if err != nil {
		t.metrics.CacheLookup("shared", "error")
		t.log.Warn("cache.shared.get.fail", "key", k, "err", err)
		return nil, false
	}
	if !ok || !now.Before(expiresAt) {
		t.metrics.CacheLookup("shared", "miss")
		return nil, false
	}
	t.metrics.CacheLookup("shared", "hit")

	// Promote with the shared entry's remaining lifetime, never longer.
	t.local.Add(k, localEntry{value: value, expiresAt: t.localExpiry(now, expiresAt)})
	return value, true
}

// Set writes value under key in both tiers (shared first). ttl <= 0 uses the
// default TTL. If the shared write fails the tier runs local-only for that key:
// the local entry is still written and the returned error wraps
// ErrSharedUnavailable.
func (t *Tier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = t.defaultTTL
	}
	k := t.key(key)
	now := t.now()
	expiresAt := now.Add(ttl)

	if t.shared != nil {
		sctx, cancel := context.WithTimeout(ctx, t.sharedTimeout)
		err := t.shared.Set(sctx, k, value, expiresAt)
		cancel()
		if err != nil {
			t.log.Warn("cache.shared.set.fail", "key", k, "err", err)
			t.local.Add(k, localEntry{value: value, expiresAt: t.localExpiry(now, expiresAt)})
			return fmt.Errorf("%w: set %s: %v", ErrSharedUnavailable, k, err)
		}
	}

	t.local.Add(k, localEntry{value: value, expiresAt: t.localExpiry(now, expiresAt)})
	return nil
}

// Del removes key from both tiers. The local tier is always cleared; a shared
// failure is returned wrapped in ErrSharedUnavailable.
func (t *Tier) Del(ctx context.Context, key string) error {
	k := t.key(key)

	var err error
	if t.shared != nil {
		sctx, cancel := context.WithTimeout(ctx, t.sharedTimeout)
		if derr := t.shared.Del(sctx, k); derr != nil {
			err = fmt.Errorf("%w: del %s: %v", ErrSharedUnavailable, k, derr)
		}
		cancel()
	}
	t.local.Remove(k)
	return err
}

// Flush clears both tiers.
func (t *Tier) Flush(ctx context.Context) error {
	var err error
	if t.shared != nil {
		sctx, cancel := context.WithTimeout(ctx, t.sharedTimeout)
		if ferr := t.shared.Flush(sctx); ferr != nil {
			err = fmt.Errorf("%w: flush: %v", ErrSharedUnavailable, ferr)
		}
		cancel()
	}
	t.local.Purge()
	return err
}

// LocalLen reports the number of local entries (including expired ones not
// yet evicted).
func (t *Tier) LocalLen() int { return t.local.Len() }

func (t *Tier) key(k string) string {
	if t.ns == "" {
		return k
	}
	return t.ns + ":" + k
}

func (t *Tier) localExpiry(now, sharedExpiry time.Time) time.Time {
	capAt := now.Add(t.localTTL)
	if sharedExpiry.Before(capAt) {
		return sharedExpiry
	}
	return capAt
}

func nonZero(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
