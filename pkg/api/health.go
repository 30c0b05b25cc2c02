package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/flotilla/pkg/metrics"
)

// ReadyResponse is the body of GET /ready.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// handleReady implements the /ready endpoint. Registered components
// say the process finished booting; the store read proves it can
// actually serve requests.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	readiness := metrics.GetReadiness()
	ready := readiness.Status == "ready"
	message := readiness.Message

	checks := make(map[string]string, len(readiness.Components)+1)
	for name, state := range readiness.Components {
		checks[name] = state
	}

	if _, err := s.store.ListProjects(); err != nil {
		checks["store"] = fmt.Sprintf("error: %v", err)
		ready = false
		if message == "" {
			message = "Storage not accessible"
		}
	} else {
		checks["store"] = "ok"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
