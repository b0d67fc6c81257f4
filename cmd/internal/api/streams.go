package api

import "net/http"

// Event streams accept the share token as a query parameter because
// EventSource and browser WebSocket clients cannot set headers.

func (h *Handler) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	q, ok := h.readableQuest(w, r, "api.events.sse", true)
	if !ok {
		return
	}
	if err := h.events.ServeSSE(w, r, q.ID); err != nil {
		h.fail(w, r, "api.events.sse", err)
	}
}

func (h *Handler) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	q, ok := h.readableQuest(w, r, "api.events.ws", true)
	if !ok {
		return
	}
	if err := h.events.ServeWS(w, r, q.ID); err != nil {
		h.fail(w, r, "api.events.ws", err)
	}
}
