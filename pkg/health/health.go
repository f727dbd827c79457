// Package health runs registered component checks in parallel and serves the
// aggregate as liveness and readiness checks. A process stays ready while it
// is degraded, since reads fail over and submissions reach the nodes that are
// still up. It reports not ready only when a required component is down.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Status represents the health state of a component or the process overall.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) rank() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check tests a single dependency.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth holds the result of a single component check.
type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// Report is the aggregated result of all component checks.
type Report struct {
	Process    string                     `json:"process"`
	Status     Status                     `json:"status"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

type registered struct {
	check    Check
	optional bool
}

// Checker manages registered health checks and runs them concurrently.
type Checker struct {
	process string
	started time.Time
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]registered
	logger *slog.Logger
}

// NewChecker creates an empty Checker for the named process.
func NewChecker(process string) *Checker {
	return &Checker{
		process: process,
		started: time.Now(),
		timeout: 3 * time.Second,
		checks:  make(map[string]registered),
		logger:  slog.Default().With("component", "health", "process", process),
	}
}

// Register adds a required check. Its being down takes the process down.
func (c *Checker) Register(name string, check Check) {
	c.add(name, check, false)
}

// RegisterOptional adds a check for an integration the process can run
// without. Its being down only degrades the process.
func (c *Checker) RegisterOptional(name string, check Check) {
	c.add(name, check, true)
}

func (c *Checker) add(name string, check Check, optional bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registered{check: check, optional: optional}
}

// Run executes every check concurrently, each bounded by the checker's
// timeout, and reports the worst status.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]registered, len(c.checks))
	for name, r := range c.checks {
		checks[name] = r
	}
	c.mu.RUnlock()

	report := Report{
		Process:    c.process,
		Status:     StatusUp,
		Uptime:     time.Since(c.started).Round(time.Second).String(),
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, r := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := c.runOne(ctx, name, r.check)
			result.Optional = r.optional
			mu.Lock()
			report.Components[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	for name, comp := range report.Components {
		effective := comp.Status
		if comp.Optional && effective == StatusDown {
			effective = StatusDegraded
		}
		if effective.rank() > report.Status.rank() {
			report.Status = effective
		}
		if comp.Status != StatusUp {
			c.logger.Debug("component not up", "check", name, "status", comp.Status, "message", comp.Message)
		}
	}
	return report
}

func (c *Checker) runOne(ctx context.Context, name string, check Check) (result ComponentHealth) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("health check panicked", "check", name, "panic", p)
			result = ComponentHealth{Status: StatusDown, Message: fmt.Sprintf("check panicked: %v", p)}
		}
		result.Latency = time.Since(start).Round(time.Millisecond).String()
	}()
	return check(ctx)
}

// LiveHandler reports alive while the process serves HTTP.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "alive",
			"process": c.process,
			"uptime":  time.Since(c.started).Round(time.Second).String(),
		})
	}
}

// ReadyHandler answers 503 only when the process is down.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Routes mounts the liveness and readiness endpoints on mux.
func (c *Checker) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health/live", c.LiveHandler())
	mux.HandleFunc("GET /health/ready", c.ReadyHandler())
}
