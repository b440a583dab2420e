package api

import (
	"encoding/json"
	"net/http"

	"github.com/macwilam/netwatch/pkg/wire"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(wire.HealthResponse{
		Status:  "healthy",
		Service: "netwatch-server",
		Version: Version,
	})
}
