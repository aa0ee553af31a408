package api

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleDriveStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		jsonError(w, "drive stats unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"graph_url":   s.cfg.GraphURL,
		"queue_depth": s.orchestrator.QueueDepth(),
		"stats":       s.stats.Snapshot(),
	})
}
