// Package health provides health check endpoints for the log inspector.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pinger is a dependency whose reachability decides readiness
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck manages health check functionality.
type HealthCheck struct {
	checks        map[string]Pinger
	onChange      func(ready bool)
	logger        *zap.Logger
	mu            sync.RWMutex
	ready         bool
	lastCheck     time.Time
	checkInterval time.Duration
	checkTimeout  time.Duration
}

// NewHealthCheck creates a new HealthCheck instance. checks maps a
// dependency name to its pinger.
func NewHealthCheck(checks map[string]Pinger, checkInterval time.Duration, logger *zap.Logger) *HealthCheck {
	if checkInterval <= 0 {
		checkInterval = 5 * time.Second
	}
	return &HealthCheck{
		checks:        checks,
		logger:        logger,
		checkInterval: checkInterval,
		checkTimeout:  5 * time.Second,
	}
}

// OnChange registers a callback invoked with every check result
func (hc *HealthCheck) OnChange(fn func(ready bool)) {
	hc.onChange = fn
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// LivenessHandler handles GET /health requests.
// Returns 200 OK if the process is running.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "healthy"})
}

// ReadinessHandler handles GET /ready requests.
// Returns 200 OK if every dependency answers a ping.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if hc.IsReady() {
		writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Checks: hc.healthyChecks()})
		return
	}

	// fresh check when the cached state says not ready
	ctx, cancel := context.WithTimeout(r.Context(), hc.checkTimeout)
	defer cancel()

	results, err := hc.check(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{
			Status: "not_ready",
			Checks: results,
			Error:  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Checks: results})
}

// Run performs periodic health checks until ctx is cancelled.
func (hc *HealthCheck) Run(ctx context.Context) {
	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, hc.checkTimeout)
		if _, err := hc.check(checkCtx); err != nil {
			hc.logger.Warn("health check failed", zap.Error(err))
		}
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// check pings every dependency and updates the cached state
func (hc *HealthCheck) check(ctx context.Context) (map[string]string, error) {
	results := make(map[string]string, len(hc.checks))
	var firstErr error
	for name, p := range hc.checks {
		if err := p.Ping(ctx); err != nil {
			results[name] = "unhealthy"
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		results[name] = "healthy"
	}

	hc.mu.Lock()
	hc.ready = firstErr == nil
	hc.lastCheck = time.Now()
	hc.mu.Unlock()

	if hc.onChange != nil {
		hc.onChange(firstErr == nil)
	}
	return results, firstErr
}

func (hc *HealthCheck) healthyChecks() map[string]string {
	results := make(map[string]string, len(hc.checks))
	for name := range hc.checks {
		results[name] = "healthy"
	}
	return results
}

// IsReady returns the current readiness status.
func (hc *HealthCheck) IsReady() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.ready
}

// LastCheck returns when the dependencies were last pinged.
func (hc *HealthCheck) LastCheck() time.Time {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.lastCheck
}

// SetReady sets the readiness status (for testing).
func (hc *HealthCheck) SetReady(ready bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.ready = ready
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
