package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// HealthStatus is the state of one dependency or of the whole service
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

var severity = map[HealthStatus]int{
	HealthStatusHealthy:   0,
	HealthStatusDegraded:  1,
	HealthStatusUnhealthy: 2,
}

const checkTimeout = 5 * time.Second

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is the outcome of one probe
type ComponentHealth struct {
	Name    string                 `json:"name"`
	Status  HealthStatus           `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemHealth is the body of /healthz
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Components []ComponentHealth `json:"components"`
	Version    string            `json:"version"`
	Uptime     string            `json:"uptime"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// HealthChecker probes the dependencies serve and worker register: the
// price directory, and Redis, NATS and the report store when enabled
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]HealthCheck
	version string
	started time.Time
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]HealthCheck),
		version: version,
		started: time.Now(),
	}
}

// RegisterCheck adds or replaces the probe for name
func (hc *HealthChecker) RegisterCheck(name string, check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// CheckHealth runs every probe concurrently, each under its own timeout.
// Components are sorted by name and the service takes the worst status.
func (hc *HealthChecker) CheckHealth(ctx context.Context) SystemHealth {
	hc.mu.RLock()
	names := lo.Keys(hc.checks)
	sort.Strings(names)
	checks := make([]HealthCheck, len(names))
	for i, name := range names {
		checks[i] = hc.checks[name]
	}
	hc.mu.RUnlock()

	components := make([]ComponentHealth, len(names))
	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			result := checks[i](checkCtx)
			result.Name = name
			components[i] = result
			return nil
		})
	}
	g.Wait()

	status := HealthStatusHealthy
	for _, c := range components {
		if severity[c.Status] > severity[status] {
			status = c.Status
		}
	}
	return SystemHealth{
		Status:     status,
		Components: components,
		Version:    hc.version,
		Uptime:     time.Since(hc.started).Round(time.Second).String(),
		CheckedAt:  time.Now().UTC(),
	}
}

// HTTPHandler serves CheckHealth. Only an unhealthy service answers 503.
func (hc *HealthChecker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hc.CheckHealth(r.Context())
		code := http.StatusOK
		if health.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(health)
	}
}

// PingHealthCheck turns a ping into a probe. Optional dependencies such as
// the Redis table cache only degrade the service when they fail.
func PingHealthCheck(ping func(ctx context.Context) error, optional bool) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		err := ping(ctx)
		if err == nil {
			return ComponentHealth{Status: HealthStatusHealthy}
		}
		return ComponentHealth{
			Status:  lo.Ternary(optional, HealthStatusDegraded, HealthStatusUnhealthy),
			Message: err.Error(),
		}
	}
}

// DataDirHealthCheck checks that a directory of price files or stored
// reports is readable
func DataDirHealthCheck(path string) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		entries, err := os.ReadDir(path)
		if err != nil {
			return ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("failed to read %s: %v", path, err),
			}
		}
		return ComponentHealth{
			Status:  HealthStatusHealthy,
			Details: map[string]interface{}{"path": path, "files": len(entries)},
		}
	}
}
