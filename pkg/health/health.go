package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Checker is a function that checks the health of a dependency.
type Checker func(ctx context.Context) error

// Status represents the health status of a component.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Response is the JSON document returned by the readiness endpoint.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the result of a single health check.
type CheckResult struct {
	Status   Status        `json:"status"`
	Critical bool          `json:"critical"`
	Error    string        `json:"error,omitempty"`
	Latency  time.Duration `json:"latency_ns"`
}

type check struct {
	fn       Checker
	critical bool
}

// Handler runs registered checks on demand.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]check
	timeout  time.Duration
}

// NewHandler creates a handler whose checks share a 5s budget.
func NewHandler() *Handler {
	return &Handler{
		checkers: make(map[string]check),
		timeout:  5 * time.Second,
	}
}

// Register adds a named critical health checker.
func (h *Handler) Register(name string, checker Checker) {
	h.RegisterCritical(name, checker)
}

// RegisterCritical adds a checker whose failure marks the whole report down.
func (h *Handler) RegisterCritical(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = check{fn: checker, critical: true}
}

// RegisterNonCritical adds a checker whose failure only degrades the report.
func (h *Handler) RegisterNonCritical(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = check{fn: checker}
}

// Names returns the registered check names in sorted order.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every registered checker concurrently.
func (h *Handler) Check(ctx context.Context) Response {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	h.mu.RLock()
	checkers := make(map[string]check, len(h.checkers))
	for k, v := range h.checkers {
		checkers[k] = v
	}
	h.mu.RUnlock()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]CheckResult, len(checkers))
	)
	for name, c := range checkers {
		wg.Add(1)
		go func(name string, c check) {
			defer wg.Done()
			start := time.Now()
			res := CheckResult{Status: StatusUp, Critical: c.critical}
			if err := c.fn(ctx); err != nil {
				res.Status = StatusDown
				res.Error = err.Error()
			}
			res.Latency = time.Since(start)

			mu.Lock()
			checks[name] = res
			mu.Unlock()
		}(name, c)
	}
	wg.Wait()

	overall := StatusUp
	for _, res := range checks {
		switch {
		case res.Status != StatusDown:
		case res.Critical:
			overall = StatusDown
		case overall == StatusUp:
			overall = StatusDegraded
		}
	}

	return Response{
		Status:    overall,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	}
}

// LivenessHandler returns a simple liveness check (always 200 if the process is running).
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Response{
			Status:    StatusUp,
			Timestamp: time.Now().UTC(),
		})
	}
}

// ReadinessHandler checks all registered dependencies and returns 200/503.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h.Check(r.Context())
		status := http.StatusOK
		if resp.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
