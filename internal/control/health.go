package control

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/ota-agent/internal/otametrics"
	"github.com/cuemby/ota-agent/pkg/otatypes"
)

// HTTPServer exposes the agent's liveness/readiness and Prometheus
// metrics over plain HTTP, grounded on the teacher's
// pkg/api/health.go HealthServer: a *http.ServeMux wrapping
// /health, /ready, /metrics. The teacher's readiness checks (raft
// leadership, storage reachability) have no analogue for a
// single-instance agent; readiness here instead reports whether the
// worker has ever reached AGENT_WAITING and whether its last session
// ended in error.
type HTTPServer struct {
	agent Agent
	mux   *http.ServeMux
}

// NewHTTPServer builds the health/metrics mux for agent.
func NewHTTPServer(agent Agent) *HTTPServer {
	hs := &HTTPServer{agent: agent, mux: http.NewServeMux()}
	hs.mux.HandleFunc("/health", hs.healthHandler)
	hs.mux.HandleFunc("/ready", hs.readyHandler)
	hs.mux.Handle("/metrics", otametrics.Handler())
	return hs
}

// Start serves the health/metrics mux on addr until it errors.
func (hs *HTTPServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// Handler exposes the mux directly, for tests and for embedding behind
// httptest.NewServer.
func (hs *HTTPServer) Handler() http.Handler {
	return hs.mux
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type readyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// healthHandler is a liveness probe: 200 as long as the process is up
// and able to answer HTTP at all.
func (hs *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "healthy", Timestamp: time.Now()})
}

// readyHandler reports whether the agent is past its startup phase
// and free of a last-session error.
func (hs *HTTPServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := hs.agent.Snapshot()
	checks := make(map[string]string)
	ready := true

	if snap.State == otatypes.StateNotInitialized || snap.State == "" {
		checks["orchestrator"] = "not started"
		ready = false
	} else {
		checks["orchestrator"] = string(snap.State)
	}

	if snap.LastError != nil {
		checks["last_session"] = snap.LastError.Error()
		ready = false
	} else {
		checks["last_session"] = "ok"
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not ready"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(readyResponse{Status: status, Timestamp: time.Now(), Checks: checks})
}
