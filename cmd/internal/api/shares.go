package api

import (
	"net/http"
	"time"

	"fieldquest/cmd/internal/share"
	"fieldquest/cmd/internal/validation"
)

func (h *Handler) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireUser(w, r, "api.share.create")
	if !ok {
		return
	}
	var req createShareRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	if err := validation.Struct(req); err != nil {
		h.fail(w, r, "api.share.create", err)
		return
	}

	now := time.Now().UTC()
	var expiresAt *time.Time
	if req.ExpiresInSeconds != nil {
		ttl := time.Duration(*req.ExpiresInSeconds) * time.Second
		if ttl > h.cfg.ShareMaxTTL || ttl <= 0 {
			h.fail(w, r, "api.share.create", &validation.Error{Fields: []validation.FieldError{
				{Field: "expires_in_seconds", Tag: "lte"},
			}})
			return
		}
		at := now.Add(ttl)
		expiresAt = &at
	}

	sh, tok, err := h.shares.CreateShare(r.Context(), share.CreateInput{
		QuestID:   r.PathValue("id"),
		OwnerID:   id.UserID,
		GuestName: req.GuestName,
		ExpiresAt: expiresAt,
		Now:       now,
	})
	if err != nil {
		h.fail(w, r, "api.share.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, createShareResponse{Share: sh, Token: tok})
}

func (h *Handler) handleListShares(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireUser(w, r, "api.share.list")
	if !ok {
		return
	}
	shares, err := h.shares.List(r.Context(), r.PathValue("id"), id.UserID)
	if err != nil {
		h.fail(w, r, "api.share.list", err)
		return
	}
	writeJSON(w, http.StatusOK, sharesResponse{Shares: shares})
}

func (h *Handler) handleRevokeShare(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireUser(w, r, "api.share.revoke")
	if !ok {
		return
	}
	ctx := r.Context()
	questID, shareID := r.PathValue("id"), r.PathValue("shareId")

	// The share must belong to the quest named in the path.
	res, err := h.shares.Get(ctx, shareID)
	if err != nil {
		h.fail(w, r, "api.share.revoke", err)
		return
	}
	if res.Quest.ID != questID {
		h.fail(w, r, "api.share.revoke", share.ErrNotFound)
		return
	}
	if err := h.shares.Revoke(ctx, shareID, id.UserID); err != nil {
		h.fail(w, r, "api.share.revoke", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResolveShare is the landing call of a guest page. It records the
// visit for the leaderboard's "has accessed" flag.
func (h *Handler) handleResolveShare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.shares.Resolve(ctx, r.PathValue("token"))
	if err != nil {
		h.fail(w, r, "api.share.resolve", err)
		return
	}
	if err := h.shares.MarkAccessed(ctx, res.Share.ID); err != nil {
		h.log.Warn("share.accessed.fail", "quest_id", res.Quest.ID, "share_id", res.Share.ID, "err", err)
	}
	mappings, err := h.quests.Mappings(ctx, res.Quest.ID)
	if err != nil {
		h.fail(w, r, "api.share.resolve", err)
		return
	}
	writeJSON(w, http.StatusOK, guestShareResponse{
		ShareID:     res.Share.ID,
		DisplayName: res.DisplayName,
		ExpiresAt:   res.Share.ExpiresAt,
		Quest:       res.Quest,
		Mappings:    mappings,
	})
}
