package api

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
}

// serviceHealthResponse is the JSON response for GET /api/v1/health.
type serviceHealthResponse struct {
	Status      string `json:"status"`
	Engine      string `json:"engine"`
	ModelLoaded bool   `json:"model_loaded"`
	ModelSize   string `json:"model_size"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok"}); err != nil {
		s.logger.Error("encode healthz response", "error", err)
	}
}

// handleHealth reports whether the configured engine can serve requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	eng, err := s.registry.Resolve(s.opts.Engine)
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, serviceHealthResponse{
			Status: "unhealthy",
			Engine: s.opts.Engine,
		})
		return
	}

	info := eng.Info()
	resp := serviceHealthResponse{
		Status:      "healthy",
		Engine:      s.opts.Engine,
		ModelLoaded: info.Ready,
		ModelSize:   info.Model,
	}
	status := http.StatusOK
	if !info.Ready {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}
