// Package api exposes quests, shares, progress, live events and the upstream
// gateway over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"fieldquest/cmd/internal/access"
	"fieldquest/cmd/internal/progress"
	"fieldquest/cmd/internal/quest"
	"fieldquest/cmd/internal/realtime"
	"fieldquest/cmd/internal/share"
	"fieldquest/cmd/internal/upstream"
)

const (
	defaultMaxBodyBytes   = 64 << 10
	defaultShareMaxTTL    = 90 * 24 * time.Hour
	defaultUpstreamMaxAge = time.Hour
)

// Config controls API limits.
type Config struct {
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
	// ShareMaxTTL caps expires_in_seconds on new shares.
	ShareMaxTTL time.Duration `koanf:"share_max_ttl"`
	// UpstreamMaxAge is the client cache lifetime of proxied upstream payloads.
	UpstreamMaxAge time.Duration `koanf:"upstream_max_age"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{}.normalized()
}

func (c Config) normalized() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.ShareMaxTTL <= 0 {
		c.ShareMaxTTL = defaultShareMaxTTL
	}
	if c.UpstreamMaxAge <= 0 {
		c.UpstreamMaxAge = defaultUpstreamMaxAge
	}
	return c
}

// Deps are the services behind the routes. Upstream may be nil, in which
// case the proxy routes answer 503.
type Deps struct {
	Quests   *quest.Service
	Shares   *share.Registry
	Progress *progress.Service
	Guard    *access.Guard
	Events   *realtime.Broadcaster
	Upstream *upstream.Gateway
}

// Handler serves the public API.
type Handler struct {
	log *slog.Logger
	cfg Config

	quests   *quest.Service
	shares   *share.Registry
	progress *progress.Service
	guard    *access.Guard
	events   *realtime.Broadcaster
	upstream *upstream.Gateway
}

// NewHandler validates deps and builds a Handler.
func NewHandler(log *slog.Logger, cfg Config, deps Deps) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if deps.Quests == nil || deps.Shares == nil || deps.Progress == nil || deps.Guard == nil || deps.Events == nil {
		return nil, errors.New("api: missing dependency")
	}
	return &Handler{
		log:      log,
		cfg:      cfg.normalized(),
		quests:   deps.Quests,
		shares:   deps.Shares,
		progress: deps.Progress,
		guard:    deps.Guard,
		events:   deps.Events,
		upstream: deps.Upstream,
	}, nil
}

// Register wires the routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /quests", h.handleCreateQuest)
	mux.HandleFunc("GET /quests/{id}", h.handleGetQuest)
	mux.HandleFunc("DELETE /quests/{id}", h.handleDeleteQuest)
	mux.HandleFunc("POST /quests/{id}/mappings", h.handleAddMapping)
	mux.HandleFunc("DELETE /quests/{id}/mappings/{mappingId}", h.handleRemoveMapping)

	mux.HandleFunc("POST /quests/{id}/shares", h.handleCreateShare)
	mux.HandleFunc("GET /quests/{id}/shares", h.handleListShares)
	mux.HandleFunc("DELETE /quests/{id}/shares/{shareId}", h.handleRevokeShare)
	mux.HandleFunc("GET /shares/token/{token}", h.handleResolveShare)

	mux.HandleFunc("POST /shares/token/{token}/progress/{mappingId}", h.handleGuestSet)
	mux.HandleFunc("DELETE /shares/token/{token}/progress/{mappingId}", h.handleGuestClear)
	mux.HandleFunc("POST /quests/{id}/progress/{mappingId}", h.handleOwnerSet)
	mux.HandleFunc("DELETE /quests/{id}/progress/{mappingId}", h.handleOwnerClear)
	mux.HandleFunc("DELETE /progress/{id}", h.handleDeleteProgress)

	mux.HandleFunc("GET /quests/{id}/progress/aggregate", h.handleAggregate)
	mux.HandleFunc("GET /quests/{id}/progress/leaderboard", h.handleLeaderboard)
	mux.HandleFunc("GET /quests/{id}/progress/detailed", h.handleDetailed)

	mux.HandleFunc("GET /quests/{id}/events", h.handleEventsSSE)
	mux.HandleFunc("GET /quests/{id}/ws", h.handleEventsWS)

	mux.HandleFunc("GET /species/{taxonId}", h.handleSpecies)
	mux.HandleFunc("GET /geocode", h.handleGeocode)
	mux.HandleFunc("GET /tiles/{z}/{x}/{y}", h.handleTile)
}

// requireUser demands a valid bearer token.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request, op string) (access.Identity, bool) {
	id, err := h.guard.RequireUser(r.Context(), access.FromRequest(r, false))
	if err != nil {
		h.fail(w, r, op, err)
		return access.Identity{}, false
	}
	return id, true
}

// readableQuest authenticates whatever credentials are present and checks
// the caller may view the quest.
func (h *Handler) readableQuest(w http.ResponseWriter, r *http.Request, op string, allowQuery bool) (quest.Quest, bool) {
	ctx := r.Context()
	p, err := h.guard.Authenticate(ctx, access.FromRequest(r, allowQuery))
	if err != nil {
		h.fail(w, r, op, err)
		return quest.Quest{}, false
	}
	q, err := h.guard.CanRead(ctx, p, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, op, err)
		return quest.Quest{}, false
	}
	return q, true
}
