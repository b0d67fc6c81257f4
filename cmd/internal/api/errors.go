package api

import (
	"context"
	"errors"
	"net/http"

	"fieldquest/cmd/internal/fault"
	"fieldquest/cmd/internal/validation"
)

// fail maps a domain error to its HTTP answer. Only validation messages reach
// the client verbatim; everything else gets a fixed text.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// Client went away; nobody is reading.
		h.log.Debug(op+".canceled", "path", r.URL.Path)
	case errors.Is(err, fault.ErrRateLimited):
		retryAfter, _ := fault.RetryAfter(err)
		writeRateLimited(w, retryAfter)
	case errors.Is(err, fault.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
	case errors.Is(err, fault.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", `Bearer realm="fieldquest"`)
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid credentials")
	case errors.Is(err, fault.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "not allowed")
	case errors.Is(err, fault.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, fault.ErrConflict):
		h.log.Error(op+".conflict", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusConflict, "conflict", "conflicting state")
	case errors.Is(err, fault.ErrUpstreamUnavailable), errors.Is(err, context.DeadlineExceeded):
		h.log.Warn(op+".unavailable", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "temporarily unavailable, retry later")
	default:
		h.log.Error(op+".fail", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func validationMessage(err error) string {
	var ve *validation.Error
	if errors.As(err, &ve) {
		return ve.Error()
	}
	return "invalid request"
}
