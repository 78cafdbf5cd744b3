package server

import (
	"context"
	"net/http"
	"time"
)

// readyHandler returns 200 once the backing store answers a ping and 503
// otherwise. Load balancers use it to gate traffic.
func (h *Handler) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		w.Header().Set(headerContentType, contentTypeJSON)
		h.writeError(w, http.StatusServiceUnavailable, codeUnavailable, "store not ready", correlationIDFrom(r.Context()), nil)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
