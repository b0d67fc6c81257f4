package api

import (
	"net/http"
)

func (h *Handler) handleGuestSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.shares.Resolve(ctx, r.PathValue("token"))
	if err != nil {
		h.fail(w, r, "api.progress.set", err)
		return
	}
	p, err := h.progress.SetObserved(ctx, res.Share.ID, r.PathValue("mappingId"))
	if err != nil {
		h.fail(w, r, "api.progress.set", err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{Progress: p})
}

func (h *Handler) handleGuestClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.shares.Resolve(ctx, r.PathValue("token"))
	if err != nil {
		h.fail(w, r, "api.progress.clear", err)
		return
	}
	if err := h.progress.ClearObserved(ctx, res.Share.ID, r.PathValue("mappingId")); err != nil {
		h.fail(w, r, "api.progress.clear", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleOwnerSet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireUser(w, r, "api.progress.set")
	if !ok {
		return
	}
	ctx := r.Context()
	res, err := h.shares.OwnerShare(ctx, r.PathValue("id"), id.UserID)
	if err != nil {
		h.fail(w, r, "api.progress.set", err)
		return
	}
	p, err := h.progress.SetObserved(ctx, res.Share.ID, r.PathValue("mappingId"))
	if err != nil {
		h.fail(w, r, "api.progress.set", err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{Progress: p})
}

func (h *Handler) handleOwnerClear(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireUser(w, r, "api.progress.clear")
	if !ok {
		return
	}
	ctx := r.Context()
	res, err := h.shares.OwnerShare(ctx, r.PathValue("id"), id.UserID)
	if err != nil {
		h.fail(w, r, "api.progress.clear", err)
		return
	}
	if err := h.progress.ClearObserved(ctx, res.Share.ID, r.PathValue("mappingId")); err != nil {
		h.fail(w, r, "api.progress.clear", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireUser(w, r, "api.progress.delete")
	if !ok {
		return
	}
	if err := h.progress.DeleteProgress(r.Context(), id.UserID, r.PathValue("id")); err != nil {
		h.fail(w, r, "api.progress.delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAggregate(w http.ResponseWriter, r *http.Request) {
	q, ok := h.readableQuest(w, r, "api.progress.aggregate", false)
	if !ok {
		return
	}
	aggs, err := h.progress.GetAggregatedProgress(r.Context(), q.ID)
	if err != nil {
		h.fail(w, r, "api.progress.aggregate", err)
		return
	}
	writeJSON(w, http.StatusOK, aggregateResponse{QuestID: q.ID, Aggregates: aggs})
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	q, ok := h.readableQuest(w, r, "api.progress.leaderboard", false)
	if !ok {
		return
	}
	entries, err := h.progress.GetLeaderboard(r.Context(), q.ID)
	if err != nil {
		h.fail(w, r, "api.progress.leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{QuestID: q.ID, Entries: entries})
}

func (h *Handler) handleDetailed(w http.ResponseWriter, r *http.Request) {
	q, ok := h.readableQuest(w, r, "api.progress.detailed", false)
	if !ok {
		return
	}
	entries, err := h.progress.GetDetailedProgress(r.Context(), q.ID)
	if err != nil {
		h.fail(w, r, "api.progress.detailed", err)
		return
	}
	writeJSON(w, http.StatusOK, detailedResponse{QuestID: q.ID, Entries: entries})
}
