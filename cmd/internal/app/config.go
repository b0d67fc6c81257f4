package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"fieldquest/cmd/internal/api"
	"fieldquest/cmd/internal/cache"
	"fieldquest/cmd/internal/ratelimit"
	"fieldquest/cmd/internal/realtime"
	"fieldquest/cmd/internal/upstream"
	"fieldquest/cmd/security/token"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override: FQ_HTTP_ADDR -> http.addr.
	EnvPrefix = "FQ_"
	// ConfigPathEnvVar names an explicit YAML config file.
	ConfigPathEnvVar = "FQ_CONFIG_PATH"
	// DefaultConfigPath is read when present and no explicit path is set.
	DefaultConfigPath = "fieldquest.yaml"
)

// Config is the full runtime configuration.
type Config struct {
	HTTP      HTTPConfig      `koanf:"http"`
	Log       LogConfig       `koanf:"log"`
	DB        DBConfig        `koanf:"db"`
	NATS      NATSConfig      `koanf:"nats"`
	Cache     cache.Config    `koanf:"cache"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Upstream  upstream.Config `koanf:"upstream"`
	Realtime  realtime.Config `koanf:"realtime"`
	Auth      AuthConfig      `koanf:"auth"`
	Share     ShareConfig     `koanf:"share"`
	API       api.Config      `koanf:"api"`
}

type HTTPConfig struct {
	Addr              string        `koanf:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	// WriteTimeout stays zero by default: event streams are long-lived
	// responses and manage their own write deadlines.
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	MaxHeaderBytes  int           `koanf:"max_header_bytes"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json | pretty
	Color  bool   `koanf:"color"`
	Source bool   `koanf:"source"`
}

type DBConfig struct {
	// URL empty selects the in-memory stores.
	URL      string `koanf:"url"`
	Schema   string `koanf:"schema"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
	// Migrate applies the bundled schema on startup.
	Migrate bool `koanf:"migrate"`
	// RequireReady makes /readyz fail while no database is configured.
	RequireReady bool `koanf:"require_ready"`
}

type NATSConfig struct {
	Enabled bool `koanf:"enabled"`
	// URL of an external server. Empty with Embedded set starts one in-process.
	URL      string `koanf:"url"`
	Embedded bool   `koanf:"embedded"`
	StoreDir string `koanf:"store_dir"`
	// Memory keeps KV buckets in memory instead of on disk.
	Memory         bool          `koanf:"memory"`
	CacheBucket    string        `koanf:"cache_bucket"`
	CacheBucketTTL time.Duration `koanf:"cache_bucket_ttl"`
	LimitBucket    string        `koanf:"limit_bucket"`
	LimitBucketTTL time.Duration `koanf:"limit_bucket_ttl"`
	Relay          bool          `koanf:"relay"`
}

type RateLimitConfig struct {
	StoreTimeout time.Duration                    `koanf:"store_timeout"`
	Scopes       map[string]ratelimit.ScopeConfig `koanf:"scopes"`
}

type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	Issuer    string        `koanf:"issuer"`
	Audience  string        `koanf:"audience"`
	ClockSkew time.Duration `koanf:"clock_skew"`
}

type ShareConfig struct {
	// TokenKey is the root secret for share token digests.
	TokenKey   string `koanf:"token_key"`
	TokenBytes int    `koanf:"token_bytes"`
}

func defaultConfig() Config {
	scope := func(points int) ratelimit.ScopeConfig {
		return ratelimit.ScopeConfig{
			Normal:     ratelimit.Bucket{Points: points, Duration: time.Minute},
			Aggressive: ratelimit.Bucket{Points: max(1, points/10), Duration: time.Minute},
			Cooldown:   5 * time.Minute,
		}
	}

	return Config{
		HTTP: HTTPConfig{
			Addr:              "0.0.0.0:8080",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
			ShutdownTimeout:   10 * time.Second,
			CORSOrigins:       []string{},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		DB: DBConfig{
			Schema:   "fieldquest",
			MaxConns: 10,
			Migrate:  true,
		},
		NATS: NATSConfig{
			Enabled:        true,
			Embedded:       true,
			Memory:         true,
			CacheBucket:    "fieldquest_cache",
			CacheBucketTTL: cache.DefaultTTL,
			LimitBucket:    "fieldquest_ratelimit",
			LimitBucketTTL: 24 * time.Hour,
			Relay:          true,
		},
		Cache: cache.Config{
			Namespace:     "fq",
			LocalSize:     cache.DefaultLocalSize,
			LocalTTL:      cache.DefaultLocalTTL,
			DefaultTTL:    cache.DefaultTTL,
			SharedTimeout: cache.DefaultSharedTimeout,
		},
		RateLimit: RateLimitConfig{
			StoreTimeout: 250 * time.Millisecond,
			Scopes: map[string]ratelimit.ScopeConfig{
				upstream.ProviderSpecies: scope(60),
				upstream.ProviderGeocode: scope(60),
				upstream.ProviderTiles:   scope(600),
			},
		},
		Upstream: upstream.Config{
			Species: upstream.ProviderConfig{CacheTTL: cache.DefaultTTL},
			Geocode: upstream.ProviderConfig{CacheTTL: 24 * time.Hour},
			Tiles:   upstream.ProviderConfig{CacheTTL: cache.DefaultTTL},
		},
		Realtime: realtime.DefaultConfig(),
		Auth: AuthConfig{
			ClockSkew: 30 * time.Second,
		},
		Share: ShareConfig{
			TokenBytes: token.DefaultTokenBytes,
		},
		API: api.DefaultConfig(),
	}
}

// LoadConfig layers struct defaults, an optional YAML file and FQ_*
// environment variables, in that order, then validates the result.
func LoadConfig() (Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(&defaults, "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path := configPath(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKeyMapper(k)), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	if err := splitSliceFields(k); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func configPath() string {
	if p := strings.TrimSpace(os.Getenv(ConfigPathEnvVar)); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultConfigPath); err == nil {
		return DefaultConfigPath
	}
	return ""
}

// envKeyMapper maps FQ_UPSTREAM_SPECIES_BASE_URL to upstream.species.base_url
// by matching against the keys already known from defaults and the file.
// Underscores inside key names make a plain "_" -> "." replace ambiguous.
// Unknown variables are dropped.
func envKeyMapper(k *koanf.Koanf) func(string) string {
	known := make(map[string]string, len(k.Keys()))
	for _, key := range k.Keys() {
		known[strings.ReplaceAll(key, ".", "_")] = key
	}
	return func(s string) string {
		if s == ConfigPathEnvVar {
			return ""
		}
		flat := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return known[flat]
	}
}

var sliceFields = []string{
	"http.cors_origins",
	"realtime.allowed_origins",
}

// splitSliceFields turns comma-separated env values into slices.
func splitSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceFields {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return errors.New("http.addr is required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "pretty":
	default:
		return fmt.Errorf("log.format %q: want json or pretty", c.Log.Format)
	}
	if c.DB.MinConns < 0 || (c.DB.MaxConns > 0 && c.DB.MinConns > c.DB.MaxConns) {
		return errors.New("db.min_conns must be between 0 and db.max_conns")
	}
	if c.NATS.Enabled && c.NATS.URL == "" && !c.NATS.Embedded {
		return errors.New("nats.url is required unless nats.embedded is set")
	}
	if err := c.validateSecrets(); err != nil {
		return err
	}

	if len(c.RateLimit.Scopes) == 0 {
		return errors.New("ratelimit.scopes must not be empty")
	}
	for name, sc := range c.RateLimit.Scopes {
		if sc.Normal.Points <= 0 || sc.Normal.Duration <= 0 || sc.Aggressive.Points <= 0 || sc.Aggressive.Duration <= 0 {
			return fmt.Errorf("ratelimit.scopes.%s: budgets must be positive", name)
		}
		// Compare as rates so differing window lengths are handled.
		if float64(sc.Aggressive.Points)/sc.Aggressive.Duration.Seconds() > float64(sc.Normal.Points)/sc.Normal.Duration.Seconds() {
			return fmt.Errorf("ratelimit.scopes.%s: aggressive budget exceeds normal budget", name)
		}
	}
	for name, pc := range map[string]upstream.ProviderConfig{
		upstream.ProviderSpecies: c.Upstream.Species,
		upstream.ProviderGeocode: c.Upstream.Geocode,
		upstream.ProviderTiles:   c.Upstream.Tiles,
	} {
		if pc.BaseURL == "" {
			continue
		}
		scope := pc.Scope
		if scope == "" {
			scope = name
		}
		if _, ok := c.RateLimit.Scopes[scope]; !ok {
			return fmt.Errorf("upstream.%s: limiter scope %q is not configured", name, scope)
		}
	}
	if c.Share.TokenBytes != 0 && c.Share.TokenBytes < 16 {
		return errors.New("share.token_bytes must be at least 16")
	}
	return nil
}
