// Package health serves the orchestrator's liveness and readiness probes.
//
// Liveness (/healthz) answers 200 for any process able to serve HTTP.
// Readiness (/readyz) walks the registered dependency checks and answers
// 503 until every one of them passes, which keeps traffic away from an
// instance whose database or media link is down. Probe bodies are JSON:
// a "status" field plus a per-check "checks" map on readiness.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Each dependency check gets its own deadline so one hung backend cannot
// stall the whole probe past the orchestration platform's timeout.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when the dependency can
// serve calls and must respect context cancellation.
type Checker struct {
	// Name keys the check in the readiness report ("database",
	// "media_gateway").
	Name string

	Check func(ctx context.Context) error
}

// report is the probe response body.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the health endpoints for a fixed set of checkers.
type Handler struct {
	checkers []Checker
}

// New creates a Handler over the given checkers. Readiness evaluates them in
// the order given.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz reports liveness. Reaching the handler is the whole check.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz reports readiness: 200 when every dependency check passes, 503
// with the per-check failures otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK

	for _, c := range h.checkers {
		if err := runCheck(r.Context(), c); err != nil {
			rep.Checks[c.Name] = "fail: " + err.Error()
			rep.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		rep.Checks[c.Name] = "ok"
	}

	writeJSON(w, status, rep)
}

// runCheck applies the per-check deadline.
func runCheck(ctx context.Context, c Checker) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return c.Check(ctx)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Pinger is the slice of a dependency client the probes need.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker reports whether the call record store is reachable.
func DatabaseChecker(p Pinger) Checker {
	return Checker{Name: "database", Check: p.Ping}
}

// GatewayChecker reports whether the media gateway is reachable.
func GatewayChecker(p Pinger) Checker {
	return Checker{Name: "media_gateway", Check: p.Ping}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
