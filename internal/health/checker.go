// Package health provides liveness and readiness probes.
package health

import (
	"context"
	"sync"
	"time"
)

// ReadinessChecker reports whether the export dispatch loop is accepting
// commands.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// StoreChecker reports whether the ledger store is usable.
type StoreChecker interface {
	Check() error
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult contains the result of a single check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker performs health checks on the agent's dependencies.
type Checker struct {
	orchestrator ReadinessChecker
	store        StoreChecker
	timeout      time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a health checker. The store checker is optional.
func NewChecker(orchestrator ReadinessChecker, store StoreChecker) *Checker {
	return &Checker{
		orchestrator: orchestrator,
		store:        store,
		timeout:      5 * time.Second,
	}
}

// Liveness returns true if the process is alive. Lightweight on purpose:
// failing this probe should trigger a container restart.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness checks if the agent is ready to accept export commands.
// Failing this probe should remove the instance from rotation.
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

	// Serve a cached result when recent to keep probe traffic off the
	// dependencies.
	if c.cachedReady != nil && time.Since(c.lastCheck) < time.Second {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	checks := make(map[string]CheckResult)
	overall := StatusHealthy

	loopCheck := c.checkDispatchLoop(ctx)
	checks["dispatch_loop"] = loopCheck
	if loopCheck.Status != StatusHealthy {
		overall = StatusUnhealthy
	}

	if c.store != nil {
		storeCheck := c.checkStore()
		checks["ledger_store"] = storeCheck
		if storeCheck.Status != StatusHealthy {
			overall = StatusUnhealthy
		}
	}

	response := &Response{
		Status: overall,
		Checks: checks,
	}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

func (c *Checker) checkDispatchLoop(ctx context.Context) CheckResult {
	if c.orchestrator == nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "orchestrator not configured",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.orchestrator.Ready(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: err.Error(),
		}
	}

	return CheckResult{
		Status: StatusHealthy,
	}
}

func (c *Checker) checkStore() CheckResult {
	if err := c.store.Check(); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: err.Error(),
		}
	}
	return CheckResult{
		Status: StatusHealthy,
	}
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// SetShuttingDown marks the service as shutting down, causing readiness
// checks to fail so load balancers stop sending new traffic.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}
