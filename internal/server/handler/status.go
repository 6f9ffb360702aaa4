package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves static runtime metadata.
type StatusHandler struct {
	Mode        string
	Ledger      string
	Authorities []string
	FeeAccount  string
	Scheduler   bool
	StartedAt   time.Time
}

// GetStatus responds with the run mode and configured authorities.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"ledger":         h.Ledger,
		"authorities":    h.Authorities,
		"fee_account":    h.FeeAccount,
		"scheduler":      h.Scheduler,
		"started_at":     h.StartedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
