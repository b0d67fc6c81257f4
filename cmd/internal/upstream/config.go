package upstream

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	ProviderSpecies = "species"
	ProviderGeocode = "geocode"
	ProviderTiles   = "tiles"

	defaultTimeout         = 5 * time.Second
	defaultRetries         = 2
	defaultInitialBackoff  = 100 * time.Millisecond
	defaultMaxBackoff      = 2 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerOpen     = 30 * time.Second
	defaultUserAgent       = "fieldquest/1 (+https://fieldquest.app)"

	maxBodyBytes = 4 << 20
)

// ProviderConfig tunes one upstream API.
type ProviderConfig struct {
	BaseURL string `koanf:"base_url"`
	// Scope is the limiter scope charged for each call. Empty uses the
	// provider name.
	Scope    string        `koanf:"scope"`
	Timeout  time.Duration `koanf:"timeout"`
	Retries  uint64        `koanf:"retries"`
	CacheTTL time.Duration `koanf:"cache_ttl"`

	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`

	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerOpen     time.Duration `koanf:"breaker_open"`
}

// Config holds every provider. A provider with an empty BaseURL is disabled
// and its endpoint answers ErrDisabled.
type Config struct {
	UserAgent string         `koanf:"user_agent"`
	Species   ProviderConfig `koanf:"species"`
	Geocode   ProviderConfig `koanf:"geocode"`
	Tiles     ProviderConfig `koanf:"tiles"`
}

func (c Config) providers() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		ProviderSpecies: c.Species,
		ProviderGeocode: c.Geocode,
		ProviderTiles:   c.Tiles,
	}
}

func (pc ProviderConfig) normalized(name string) (ProviderConfig, error) {
	pc.BaseURL = strings.TrimRight(strings.TrimSpace(pc.BaseURL), "/")
	if pc.BaseURL != "" {
		u, err := url.Parse(pc.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ProviderConfig{}, fmt.Errorf("upstream: %s: invalid base_url %q", name, pc.BaseURL)
		}
	}
	if strings.TrimSpace(pc.Scope) == "" {
		pc.Scope = name
	}
	if pc.Timeout <= 0 {
		pc.Timeout = defaultTimeout
	}
	if pc.Retries == 0 {
		pc.Retries = defaultRetries
	}
	if pc.InitialBackoff <= 0 {
		pc.InitialBackoff = defaultInitialBackoff
	}
	if pc.MaxBackoff < pc.InitialBackoff {
		pc.MaxBackoff = defaultMaxBackoff
		if pc.MaxBackoff < pc.InitialBackoff {
			pc.MaxBackoff = pc.InitialBackoff
		}
	}
	if pc.BreakerFailures == 0 {
		pc.BreakerFailures = defaultBreakerFailures
	}
	if pc.BreakerOpen <= 0 {
		pc.BreakerOpen = defaultBreakerOpen
	}
	return pc, nil
}
