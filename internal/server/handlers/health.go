// Package handlers implements the health and info endpoints of the API.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"docuquery-api/internal/apperrors"
)

// HealthChecker is a dependency that can report its health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckerFunc adapts a function to HealthChecker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusTimeout   = "timeout"
)

// HealthResponse is the aggregate health payload.
type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    string            `json:"timestamp"`
	Version      string            `json:"version"`
	Environment  string            `json:"environment"`
	Dependencies map[string]string `json:"dependencies"`
	Uptime       string            `json:"uptime"`
	Checks       map[string]bool   `json:"checks"`
}

type ProbeResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Checks    map[string]bool `json:"checks"`
}

// HealthManager runs the registered checkers for the health endpoints.
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker

	version     string
	environment string
	started     time.Time
	timeout     time.Duration
	now         func() time.Time
}

func NewHealthManager(version, environment string, started time.Time) *HealthManager {
	return &HealthManager{
		checkers:    make(map[string]HealthChecker),
		version:     version,
		environment: environment,
		started:     started,
		timeout:     5 * time.Second,
		now:         time.Now,
	}
}

func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

// Check runs every checker concurrently and returns their status by name.
func (hm *HealthManager) Check(ctx context.Context) map[string]string {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	checkers := make([]HealthChecker, len(names))
	for i, name := range names {
		checkers[i] = hm.checkers[name]
	}
	hm.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	results := make([]string, len(names))
	var wg sync.WaitGroup
	for i, c := range checkers {
		i, c := i, c // per-iteration copies; go.mod targets Go 1.21 loop semantics
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.CheckHealth(ctx)
			switch {
			case err == nil:
				results[i] = statusHealthy
			case ctx.Err() != nil:
				results[i] = statusTimeout
			default:
				results[i] = statusUnhealthy
			}
		}()
	}
	wg.Wait()

	out := make(map[string]string, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return out
}

func overallStatus(deps map[string]string) string {
	degraded := false
	for _, s := range deps {
		switch s {
		case statusUnhealthy:
			return statusUnhealthy
		case statusTimeout:
			degraded = true
		}
	}
	if degraded {
		return "degraded"
	}
	return statusHealthy
}

func (hm *HealthManager) timestamp() string {
	return hm.now().UTC().Format(time.RFC3339)
}

// HealthHandler serves GET /health.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	deps := hm.Check(r.Context())
	status := overallStatus(deps)

	checks := make(map[string]bool, len(deps))
	for name, s := range deps {
		checks[name+"_connection"] = s == statusHealthy
	}

	if status == statusUnhealthy {
		apperrors.Respond(w, r, apperrors.ServiceUnavailable("Health check failed").WithDetails(map[string]any{
			"status":       status,
			"dependencies": deps,
		}))
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:       status,
		Timestamp:    hm.timestamp(),
		Version:      hm.version,
		Environment:  hm.environment,
		Dependencies: deps,
		Uptime:       FormatUptime(hm.now().Sub(hm.started)),
		Checks:       checks,
	})
}

// ReadinessHandler serves GET /health/ready. Timed out checks count as not ready.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	deps := hm.Check(r.Context())

	checks := make(map[string]bool, len(deps))
	ready := true
	for name, s := range deps {
		ok := s == statusHealthy
		checks[name+"_ready"] = ok
		ready = ready && ok
	}

	if !ready {
		apperrors.Respond(w, r, apperrors.ServiceUnavailable("Readiness check failed").WithDetails(map[string]any{
			"checks": checks,
		}))
		return
	}

	writeJSON(w, http.StatusOK, ProbeResponse{
		Status:    "ready",
		Timestamp: hm.timestamp(),
		Checks:    checks,
	})
}

// LivenessHandler serves GET /health/live. It does not touch dependencies.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ProbeResponse{
		Status:    "alive",
		Timestamp: hm.timestamp(),
		Checks: map[string]bool{
			"application_responsive": true,
			"basic_functionality":    true,
		},
	})
}

// FormatUptime renders d as "Xd Xh Xm Xs".
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	days := secs / 86400
	secs %= 86400
	hours := secs / 3600
	secs %= 3600
	mins := secs / 60
	secs %= 60
	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, mins, secs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
