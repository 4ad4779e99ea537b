package api

import (
	"net/http"

	"github.com/certpull/certpull/internal/progress/sinks"
)

// ProgressHandler exposes the read-only scrape progress endpoint.
type ProgressHandler struct {
	snap *sinks.SnapshotSink
}

// NewProgressHandler wires the snapshot sink.
func NewProgressHandler(snap *sinks.SnapshotSink) *ProgressHandler {
	return &ProgressHandler{snap: snap}
}

// GetProgress handles GET /progress. It returns {"run": {...}} describing the
// latest scrape run, 404 before the first run event arrives, and 503 when
// progress tracking is disabled.
func (h *ProgressHandler) GetProgress(w http.ResponseWriter, _ *http.Request) {
	if h.snap == nil {
		writeError(w, http.StatusServiceUnavailable, "progress tracking disabled")
		return
	}
	snap, ok := h.snap.Snapshot()
	if !ok {
		writeError(w, http.StatusNotFound, "no scrape run recorded yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": snap})
}
