package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// ArchiveHandler lets operators request an archive pass outside the cron
// schedule.
type ArchiveHandler struct {
	logger    *slog.Logger
	triggerCh chan<- struct{}
}

// NewArchiveHandler creates an ArchiveHandler. Sends on triggerCh request one
// run; a nil channel makes the endpoint report 503.
func NewArchiveHandler(triggerCh chan<- struct{}, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{triggerCh: triggerCh, logger: logger.With(slog.String("handler", "archive"))}
}

// Trigger enqueues one archive run. Repeated requests before the run starts
// collapse into one.
// POST /api/archive/trigger
func (h *ArchiveHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.triggerCh == nil {
		writeError(w, http.StatusServiceUnavailable, "archive disabled")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: archive trigger requested")
	select {
	case h.triggerCh <- struct{}{}:
	default:
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
