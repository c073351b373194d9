// Package health serves the liveness and readiness probes of the
// conversation core.
//
//   - /healthz reports liveness: the process is up and can serve HTTP.
//   - /readyz reports readiness: every dependency the orchestrator needs to
//     answer a message (Postgres, the redis cache, the event store's write
//     buffer) passes its probe.
//
// The readiness body is JSON with a top-level "status" and one entry per
// check carrying its outcome and probe latency. Orchestration platforms route
// traffic on the status code; the per-check entries are for the operator
// reading the body.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// probeTimeout bounds a single dependency probe so one hung backend cannot
// stall the whole readiness response.
const probeTimeout = 5 * time.Second

// Checker probes one dependency of the conversation core.
type Checker struct {
	// Name keys the check in the response body, e.g. "database" or "cache".
	Name string

	// Check returns nil when the dependency can serve traffic. It must honor
	// ctx; probes run under a per-check deadline.
	Check func(ctx context.Context) error
}

// Backlog builds a Checker over a queue depth that fails once the depth
// reaches limit. The event store's write buffer uses it: a backlog at the
// hard cap means appends are about to be rejected, so the node should stop
// taking new conversations before that happens.
func Backlog(name string, depth func() int, limit int) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if d := depth(); limit > 0 && d >= limit {
				return fmt.Errorf("backlog %d at limit %d", d, limit)
			}
			return nil
		},
	}
}

// checkResult is one dependency's entry in the readiness body.
type checkResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Elapsed int64  `json:"elapsed_ms"`
}

// report is the response body for both probe endpoints.
type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction time; Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a Handler that runs the given checkers, in order, on every
// /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200. A process that reached this handler is alive;
// dependency state belongs to [Handler.Readyz].
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz answers 200 only when every checker passes, 503 otherwise. Each
// probe runs under its own [probeTimeout] deadline derived from the request
// context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]checkResult, len(h.checkers))
	ready := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		start := time.Now()
		err := c.Check(ctx)
		elapsed := time.Since(start).Milliseconds()
		cancel()

		if err != nil {
			checks[c.Name] = checkResult{Status: "fail", Error: err.Error(), Elapsed: elapsed}
			ready = false
			continue
		}
		checks[c.Name] = checkResult{Status: "ok", Elapsed: elapsed}
	}

	res := report{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ready {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
