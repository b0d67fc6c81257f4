package api

import (
	"net/http"
	"time"

	"fieldquest/cmd/internal/quest"
	"fieldquest/cmd/internal/validation"
)

func (h *Handler) handleCreateQuest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireUser(w, r, "api.quest.create")
	if !ok {
		return
	}
	var req createQuestRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := validation.Struct(req); err != nil {
		h.fail(w, r, "api.quest.create", err)
		return
	}

	q, err := h.quests.Create(r.Context(), quest.Owner{UserID: id.UserID, Username: id.Username}, quest.CreateInput{
		Title:   req.Title,
		Private: req.Private,
		Now:     time.Now().UTC(),
	})
	if err != nil {
		h.fail(w, r, "api.quest.create", err)
		return
	}
	h.log.Info("quest.create", "quest_id", q.ID, "owner_id", q.OwnerID, "private", q.Private)
	writeJSON(w, http.StatusCreated, questResponse{Quest: q, Mappings: []quest.Mapping{}})
}

func (h *Handler) handleGetQuest(w http.ResponseWriter, r *http.Request) {
	q, ok := h.readableQuest(w, r, "api.quest.get", false)
	if !ok {
		return
	}
	mappings, err := h.quests.Mappings(r.Context(), q.ID)
	if err != nil {
		h.fail(w, r, "api.quest.get", err)
		return
	}
	writeJSON(w, http.StatusOK, questResponse{Quest: q, Mappings: mappings})
}

func (h *Handler) handleDeleteQuest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireUser(w, r, "api.quest.delete")
	if !ok {
		return
	}
	questID := r.PathValue("id")
	if err := h.quests.Delete(r.Context(), id.UserID, questID); err != nil {
		h.fail(w, r, "api.quest.delete", err)
		return
	}
	h.log.Info("quest.delete", "quest_id", questID, "owner_id", id.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAddMapping(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireUser(w, r, "api.mapping.add")
	if !ok {
		return
	}
	var req addMappingRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := validation.Struct(req); err != nil {
		h.fail(w, r, "api.mapping.add", err)
		return
	}

	m, err := h.quests.AddMapping(r.Context(), id.UserID, r.PathValue("id"), req.TaxonID, req.Label)
	if err != nil {
		h.fail(w, r, "api.mapping.add", err)
		return
	}
	h.log.Info("mapping.add", "quest_id", m.QuestID, "mapping_id", m.ID, "taxon_id", m.TaxonID)
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) handleRemoveMapping(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireUser(w, r, "api.mapping.remove")
	if !ok {
		return
	}
	questID, mappingID := r.PathValue("id"), r.PathValue("mappingId")
	if err := h.quests.RemoveMapping(r.Context(), id.UserID, questID, mappingID); err != nil {
		h.fail(w, r, "api.mapping.remove", err)
		return
	}
	h.log.Info("mapping.remove", "quest_id", questID, "mapping_id", mappingID)
	w.WriteHeader(http.StatusNoContent)
}
