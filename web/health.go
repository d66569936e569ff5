package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gobeaver/beaver-social/oauth"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthReport is the body of the health endpoint.
type HealthReport struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Providers []string               `json:"providers,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult represents the result of a single health check
type CheckResult struct {
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
}

// HealthChecker runs registered dependency checks (cache, database, NATS)
// and reports provider circuit breakers. An open breaker degrades the
// report, a failing check makes it unhealthy.
type HealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]func(context.Context) error
	breakers  map[string]oauth.CircuitBreaker
	providers []string
	version   string
	startTime time.Time
	timeout   time.Duration
	now       func() time.Time
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checks:    make(map[string]func(context.Context) error),
		breakers:  make(map[string]oauth.CircuitBreaker),
		version:   version,
		startTime: time.Now(),
		timeout:   5 * time.Second,
		now:       time.Now,
	}
}

// RegisterCheck registers a check such as cache.Cache.Ping or
// database.Database.PingContext.
func (h *HealthChecker) RegisterCheck(name string, check func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// RegisterBreaker reports the state of a provider's circuit breaker as the
// component "breaker_<provider>".
func (h *HealthChecker) RegisterBreaker(provider string, cb oauth.CircuitBreaker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.breakers["breaker_"+provider] = cb
}

func (h *HealthChecker) setProviders(names []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.providers = names
}

// Check runs every check.
func (h *HealthChecker) Check(ctx context.Context) *HealthReport {
	h.mu.RLock()
	checks := make(map[string]func(context.Context) error, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	breakers := make(map[string]oauth.CircuitBreaker, len(h.breakers))
	for name, cb := range h.breakers {
		breakers[name] = cb
	}
	providers := h.providers
	h.mu.RUnlock()

	report := &HealthReport{
		Status:    HealthStatusHealthy,
		Timestamp: h.now(),
		Version:   h.version,
		Uptime:    h.now().Sub(h.startTime).Round(time.Second).String(),
		Providers: providers,
		Checks:    make(map[string]CheckResult, len(checks)+len(breakers)),
	}

	for name, check := range checks {
		report.Checks[name] = h.runCheck(ctx, check)
	}
	for name, cb := range breakers {
		report.Checks[name] = h.checkBreaker(cb)
	}

	for _, c := range report.Checks {
		switch c.Status {
		case HealthStatusUnhealthy:
			report.Status = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if report.Status == HealthStatusHealthy {
				report.Status = HealthStatusDegraded
			}
		}
	}
	return report
}

// CheckComponent runs a single check or breaker by name.
func (h *HealthChecker) CheckComponent(ctx context.Context, component string) (*CheckResult, error) {
	h.mu.RLock()
	check, isCheck := h.checks[component]
	cb, isBreaker := h.breakers[component]
	h.mu.RUnlock()

	switch {
	case isCheck:
		result := h.runCheck(ctx, check)
		return &result, nil
	case isBreaker:
		result := h.checkBreaker(cb)
		return &result, nil
	}
	return nil, fmt.Errorf("unknown component: %s", component)
}

// Components returns the registered check and breaker names, sorted.
func (h *HealthChecker) Components() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checks)+len(h.breakers))
	for name := range h.checks {
		names = append(names, name)
	}
	for name := range h.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *HealthChecker) runCheck(ctx context.Context, check func(context.Context) error) CheckResult {
	start := h.now()

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := check(checkCtx); err != nil {
		return CheckResult{
			Status:      HealthStatusUnhealthy,
			Error:       err.Error(),
			Duration:    h.now().Sub(start),
			LastChecked: h.now(),
		}
	}
	return CheckResult{
		Status:      HealthStatusHealthy,
		Duration:    h.now().Sub(start),
		LastChecked: h.now(),
	}
}

func (h *HealthChecker) checkBreaker(cb oauth.CircuitBreaker) CheckResult {
	stats := cb.Stats()
	result := CheckResult{Status: HealthStatusHealthy, LastChecked: h.now()}
	switch stats.State {
	case oauth.StateOpen:
		result.Status = HealthStatusDegraded
		result.Message = fmt.Sprintf("Circuit breaker open, retry at %s", stats.NextRetryTime.Format(time.RFC3339))
	case oauth.StateHalfOpen:
		result.Status = HealthStatusDegraded
		result.Message = "Circuit breaker in half-open state"
	default:
		result.Message = fmt.Sprintf("%d requests, %d failures", stats.Requests, stats.TotalFailures)
	}
	return result
}

// HandleHealth serves the full report. Degraded still answers 200.
func (h *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report := h.Check(r.Context())

	status := http.StatusOK
	if report.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// HandleLiveness handles the liveness probe endpoint
func (h *HealthChecker) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "alive",
		"timestamp": h.now().Format(time.RFC3339),
	})
}

// HandleReadiness handles the readiness probe endpoint
func (h *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	if h.Check(r.Context()).Status == HealthStatusUnhealthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":    "not_ready",
			"reason":    "unhealthy",
			"timestamp": h.now().Format(time.RFC3339),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ready",
		"timestamp": h.now().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
