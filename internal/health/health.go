// Package health aggregates component liveness and serves the operational
// HTTP endpoints: health, readiness and Prometheus metrics.
package health

import (
	"context"
	"sync"

	"flashgate/internal/core"
)

// Monitor aggregates named health checks
type Monitor struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

// NewMonitor creates an empty monitor. An empty monitor reports healthy.
func NewMonitor(logger core.ILogger) *Monitor {
	m := &Monitor{checks: make(map[string]func() error)}
	if logger != nil {
		m.logger = logger.WithField("component", "health")
	}
	return m
}

// Register adds a health check for a component, replacing any previous one
func (m *Monitor) Register(component string, check func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// GetStatus runs every check and reports per-component status
func (m *Monitor) GetStatus() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]string, len(m.checks))
	for component, check := range m.checks {
		if err := check(); err != nil {
			status[component] = "Unhealthy: " + err.Error()
		} else {
			status[component] = "Healthy"
		}
	}
	return status
}

// IsHealthy reports whether every registered check passes
func (m *Monitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, check := range m.checks {
		if err := check(); err != nil {
			return false
		}
	}
	return true
}

// StoreCheck verifies the correlation store answers reads
func StoreCheck(store core.IStore) func() error {
	return func() error {
		_, _, err := store.Get(context.Background(), "health:probe")
		return err
	}
}
