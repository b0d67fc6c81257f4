// Package app wires the fieldquest runtime: config, logging, stores, the NATS
// bus, the HTTP surface and the service supervisor.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"fieldquest/cmd/internal/access"
	"fieldquest/cmd/internal/api"
	"fieldquest/cmd/internal/cache"
	"fieldquest/cmd/internal/progress"
	"fieldquest/cmd/internal/quest"
	"fieldquest/cmd/internal/ratelimit"
	"fieldquest/cmd/internal/realtime"
	"fieldquest/cmd/internal/share"
	"fieldquest/cmd/internal/telemetry"
	"fieldquest/cmd/internal/upstream"
	"fieldquest/cmd/security/token"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App owns every long-lived component. Build it with New, run it with Run.
type App struct {
	cfg Config
	log Logger

	stores stores
	bus    *bus
	events *realtime.Broadcaster
	relay  *realtime.Relay
	api    *api.Handler

	handler http.Handler
}

// New constructs a fully wired App. Components are created once here and
// handed to their dependents; nothing is package-global.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = NewLogger(cfg.Log, nil)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	a := &App{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.close(context.Background())
		}
	}()

	var err error
	if a.stores, err = newStores(ctx, cfg.DB, log); err != nil {
		return nil, err
	}
	if a.bus, err = newBus(ctx, cfg.NATS, log); err != nil {
		return nil, err
	}

	tier, err := cache.New(cfg.Cache, a.bus.cacheStore,
		cache.WithLogger(log), cache.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}
	limiter, err := ratelimit.New(a.bus.limitStore, cfg.RateLimit.Scopes,
		ratelimit.WithLogger(log), ratelimit.WithMetrics(metrics), ratelimit.WithStoreTimeout(cfg.RateLimit.StoreTimeout))
	if err != nil {
		return nil, err
	}
	gw, err := upstream.New(cfg.Upstream, tier, limiter,
		upstream.WithLogger(log), upstream.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}

	a.events = realtime.NewBroadcaster(cfg.Realtime, realtime.WithLogger(log), realtime.WithMetrics(metrics))
	var pub progress.Publisher = a.events
	if a.bus.nc != nil && cfg.NATS.Relay {
		a.relay, err = realtime.NewRelay(a.bus.nc, uuid.NewString(), a.events,
			realtime.WithRelayLogger(log), realtime.WithRelayMetrics(metrics))
		if err != nil {
			return nil, err
		}
		pub = realtime.Publishers{a.events, a.relay}
	}

	hasher, err := token.NewHasher([]byte(cfg.Share.TokenKey), token.PurposeShare)
	if err != nil {
		return nil, fmt.Errorf("share token hasher: %w", err)
	}
	quests, err := quest.NewService(a.stores.quests)
	if err != nil {
		return nil, err
	}
	shareOpts := []share.Option{share.WithLogger(log)}
	if cfg.Share.TokenBytes > 0 {
		shareOpts = append(shareOpts, share.WithTokenBytes(cfg.Share.TokenBytes))
	}
	shares, err := share.NewRegistry(a.stores.shares, a.stores.quests, hasher, shareOpts...)
	if err != nil {
		return nil, err
	}
	prog, err := progress.NewService(a.stores.progress, shares, a.stores.quests, pub,
		progress.WithLogger(log), progress.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}

	verifier, err := access.NewJWTVerifier(access.VerifierConfig{
		Secret:    []byte(cfg.Auth.JWTSecret),
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		ClockSkew: cfg.Auth.ClockSkew,
	})
	if err != nil {
		return nil, fmt.Errorf("jwt verifier: %w", err)
	}
	guard, err := access.NewGuard(verifier, shares, a.stores.quests, access.WithGuardLogger(log))
	if err != nil {
		return nil, err
	}

	if a.api, err = api.NewHandler(log, cfg.API, api.Deps{
		Quests:   quests,
		Shares:   shares,
		Progress: prog,
		Guard:    guard,
		Events:   a.events,
		Upstream: gw,
	}); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	a.registerHTTP(mux, reg)

	var h http.Handler = mux
	h = WithCORS(h, cfg.HTTP.CORSOrigins, log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, log, metrics)
	a.handler = WithRequestID(h)

	ok = true
	return a, nil
}

// Handler is the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves until ctx is cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.HTTP.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.HTTP.ReadTimeout, 15*time.Second),
		WriteTimeout:      a.cfg.HTTP.WriteTimeout,
		IdleTimeout:       nonZeroDuration(a.cfg.HTTP.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.HTTP.MaxHeaderBytes, 1<<20),
	}
	// Shutdown waits for active responses; end the event streams first.
	srv.RegisterOnShutdown(func() { _ = a.events.Close() })

	shutdownTimeout := nonZeroDuration(a.cfg.HTTP.ShutdownTimeout, 10*time.Second)
	root := newSupervisor(a.log, shutdownTimeout)
	root.Add(&httpService{srv: srv, shutdownTimeout: shutdownTimeout, log: a.log})
	if a.relay != nil {
		root.Add(a.relay)
	}

	a.log.Info("app.start",
		"addr", a.cfg.HTTP.Addr,
		"db_enabled", a.stores.pool != nil,
		"nats_enabled", a.bus.nc != nil,
		"embedded_nats", a.bus.embedded != nil,
	)

	err := root.Serve(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.close(closeCtx)

	if err != nil && ctx.Err() != nil {
		// Cancellation is the normal way out.
		return nil
	}
	return err
}

// close releases resources in reverse construction order. Safe on a
// partially built App.
func (a *App) close(ctx context.Context) {
	if a.events != nil {
		_ = a.events.Close()
	}
	if a.bus != nil {
		a.bus.Close(ctx)
	}
	a.stores.Close()
	a.log.Info("app.stopped")
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
