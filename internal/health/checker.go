// Package health provides health check functionality for liveness and readiness probes.
package health

import (
	"context"
	"sync"
	"time"
)

// ReadinessChecker is the interface for readiness checks.
// Implemented by the sandbox runner, the object store and the lock backends.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Dependency is one named readiness check. A failing optional dependency
// degrades readiness instead of failing it.
type Dependency struct {
	Name     string
	Checker  ReadinessChecker
	Optional bool
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker performs health checks on dependencies.
type Checker struct {
	deps    []Dependency
	timeout time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a new health checker.
func NewChecker(deps ...Dependency) *Checker {
	return &Checker{
		deps:    deps,
		timeout: 5 * time.Second,
	}
}

// Liveness returns true if the service is alive.
// This should be a lightweight check that doesn't depend on external services.
// Failing this probe should trigger a container restart.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness checks if the service is ready to accept traffic.
// Failing this probe should remove the instance from load balancer rotation.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}

	// Use cached result if recent (avoid hammering the daemon and the share)
	if c.cachedReady != nil && time.Since(c.lastCheck) < time.Second {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	response := &Response{
		Status: StatusHealthy,
		Checks: make(map[string]CheckResult, len(c.deps)),
	}
	if len(c.deps) == 0 {
		response.Status = StatusUnhealthy
		response.Checks["dependencies"] = CheckResult{Status: StatusUnhealthy, Message: "no dependencies configured"}
	}

	for _, dep := range c.deps {
		result := c.check(ctx, dep.Checker)
		if result.Status != StatusHealthy && dep.Optional {
			result.Status = StatusDegraded
		}
		response.Checks[dep.Name] = result
		response.Status = worst(response.Status, result.Status)
	}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

func (c *Checker) check(ctx context.Context, checker ReadinessChecker) CheckResult {
	if checker == nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "not configured",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := checker.Ready(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: err.Error(),
		}
	}

	return CheckResult{
		Status: StatusHealthy,
	}
}

func worst(a, b Status) Status {
	switch {
	case a == StatusUnhealthy || b == StatusUnhealthy:
		return StatusUnhealthy
	case a == StatusDegraded || b == StatusDegraded:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// IsReady returns true unless a required dependency is failing.
func (r *Response) IsReady() bool {
	return r.Status != StatusUnhealthy
}

// SetShuttingDown marks the service as shutting down.
// This causes readiness checks to return unhealthy, signaling
// load balancers to stop sending new traffic.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil // Clear cache to ensure immediate effect
}
