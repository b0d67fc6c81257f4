package api

import (
	"net/http"
	"strconv"
	"strings"

	"fieldquest/cmd/internal/upstream"
)

func (h *Handler) handleSpecies(w http.ResponseWriter, r *http.Request) {
	if !h.upstreamReady(w) {
		return
	}
	res, err := h.upstream.Species(r.Context(), r.PathValue("taxonId"))
	if err != nil {
		h.fail(w, r, "api.upstream.species", err)
		return
	}
	h.writeUpstream(w, res)
}

func (h *Handler) handleGeocode(w http.ResponseWriter, r *http.Request) {
	if !h.upstreamReady(w) {
		return
	}
	res, err := h.upstream.Geocode(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.fail(w, r, "api.upstream.geocode", err)
		return
	}
	h.writeUpstream(w, res)
}

func (h *Handler) handleTile(w http.ResponseWriter, r *http.Request) {
	if !h.upstreamReady(w) {
		return
	}
	z, errZ := strconv.Atoi(r.PathValue("z"))
	x, errX := strconv.Atoi(r.PathValue("x"))
	y, errY := strconv.Atoi(strings.TrimSuffix(r.PathValue("y"), ".png"))
	if errZ != nil || errX != nil || errY != nil {
		h.fail(w, r, "api.upstream.tile", upstream.ErrInvalid)
		return
	}
	res, err := h.upstream.Tile(r.Context(), z, x, y)
	if err != nil {
		h.fail(w, r, "api.upstream.tile", err)
		return
	}
	h.writeUpstream(w, res)
}

func (h *Handler) upstreamReady(w http.ResponseWriter) bool {
	if h.upstream == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "upstream gateway not configured")
		return false
	}
	return true
}

func (h *Handler) writeUpstream(w http.ResponseWriter, res upstream.Response) {
	hdr := w.Header()
	hdr.Set("Content-Type", res.ContentType)
	hdr.Set("Cache-Control", "public, max-age="+strconv.Itoa(int(h.cfg.UpstreamMaxAge.Seconds())))
	hdr.Set("X-Content-Type-Options", "nosniff")
	if res.Cached {
		hdr.Set("X-Cache", "HIT")
	} else {
		hdr.Set("X-Cache", "MISS")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)
}
