package httpapi

import "net/http"

// handleStatsLatency reports rolling-window stage timings for probe runs
// and dashboards.
func (s *Server) handleStatsLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotStages())
}
