// SPDX-License-Identifier: MIT

// Package health serves the liveness and readiness probes with per-component
// status.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ManuGH/photocast/internal/log"
)

// Status is the state of one component or of the whole daemon.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// severity orders statuses so the worst component wins.
func (s Status) severity() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	}
	return 0
}

// CheckResult is what one Checker reports.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Checker probes one dependency of the slideshow pipeline.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Report is the body of both probes. Ready is only set by /readyz.
type Report struct {
	Status    Status                 `json:"status"`
	Ready     *bool                  `json:"ready,omitempty"`
	Version   string                 `json:"version,omitempty"`
	Uptime    int64                  `json:"uptime_seconds"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Manager aggregates the registered checkers. Register everything before
// the handlers start serving.
type Manager struct {
	version  string
	started  time.Time
	checkers []Checker
}

func NewManager(version string) *Manager {
	return &Manager{version: version, started: time.Now()}
}

func (m *Manager) RegisterChecker(c Checker) {
	m.checkers = append(m.checkers, c)
}

// run executes every checker and returns the results with the worst status.
func (m *Manager) run(ctx context.Context) (map[string]CheckResult, Status) {
	worst := StatusHealthy
	if len(m.checkers) == 0 {
		return nil, worst
	}
	results := make(map[string]CheckResult, len(m.checkers))
	for _, c := range m.checkers {
		r := c.Check(ctx)
		results[c.Name()] = r
		if r.Status.severity() > worst.severity() {
			worst = r.Status
		}
	}
	return results, worst
}

// Health is the liveness view. The process is alive whenever it can answer,
// so component checks only run when verbose is set.
func (m *Manager) Health(ctx context.Context, verbose bool) Report {
	rep := Report{
		Status:    StatusHealthy,
		Version:   m.version,
		Uptime:    int64(time.Since(m.started).Seconds()),
		Timestamp: time.Now(),
	}
	if verbose {
		rep.Checks, rep.Status = m.run(ctx)
	}
	return rep
}

// Ready runs every checker. Any unhealthy component makes the daemon not
// ready; degraded components do not.
func (m *Manager) Ready(ctx context.Context) Report {
	checks, worst := m.run(ctx)
	ready := worst != StatusUnhealthy
	return Report{
		Status:    worst,
		Ready:     &ready,
		Version:   m.version,
		Uptime:    int64(time.Since(m.started).Seconds()),
		Timestamp: time.Now(),
		Checks:    checks,
	}
}

// ServeHealth always answers 200. ?verbose=true adds component checks.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	rep := m.Health(r.Context(), r.URL.Query().Get("verbose") == "true")
	m.write(w, r, http.StatusOK, rep)
}

// ServeReady answers 503 while any required component is unhealthy.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	rep := m.Ready(r.Context())
	code := http.StatusOK
	if !*rep.Ready {
		code = http.StatusServiceUnavailable
	}
	m.write(w, r, code, rep)
}

func (m *Manager) write(w http.ResponseWriter, r *http.Request, code int, rep Report) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "health.encode_failed").Msg("probe response not written")
		return
	}
	logger.Debug().
		Str(log.FieldEvent, "health.probe").
		Str(log.FieldPath, r.URL.Path).
		Str("status", string(rep.Status)).
		Msg("probe answered")
}
