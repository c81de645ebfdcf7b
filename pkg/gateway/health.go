package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mailroom/pkg/metrics"
)

const healthCheckTimeout = 10 * time.Second

// healthChecker is the provider-facing side of an agent.
type healthChecker interface {
	ID() string
	Health(ctx context.Context) error
}

type agentHealth struct {
	Healthy  bool   `json:"healthy"`
	LastOKAt string `json:"last_ok_at,omitempty"`
	Error    string `json:"error,omitempty"`
	checked  bool
}

// healthMonitor tracks the last provider health result of every agent.
type healthMonitor struct {
	agents []healthChecker
	log    *slog.Logger

	mu    sync.RWMutex
	state map[string]agentHealth
}

func newHealthMonitor(agents []healthChecker, log *slog.Logger) *healthMonitor {
	state := make(map[string]agentHealth, len(agents))
	for _, a := range agents {
		state[a.ID()] = agentHealth{}
	}

	return &healthMonitor{
		agents: agents,
		log:    log.With("component", "gateway.health"),
		state:  state,
	}
}

// checkAll probes every agent once, concurrently.
func (m *healthMonitor) checkAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, a := range m.agents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.check(ctx, a)
		}()
	}
	wg.Wait()
}

func (m *healthMonitor) check(ctx context.Context, a healthChecker) {
	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	err := a.Health(checkCtx)

	m.mu.Lock()
	prev := m.state[a.ID()]
	next := agentHealth{LastOKAt: prev.LastOKAt, checked: true}
	if err != nil {
		next.Error = err.Error()
	} else {
		next.Healthy = true
		next.LastOKAt = time.Now().UTC().Format(time.RFC3339)
	}
	m.state[a.ID()] = next
	m.mu.Unlock()

	if err != nil {
		metrics.ProviderHealthy.WithLabelValues(a.ID()).Set(0)
		if !prev.checked || prev.Healthy {
			m.log.Warn("Provider unhealthy", "agent", a.ID(), "error", err)
		}
		return
	}

	metrics.ProviderHealthy.WithLabelValues(a.ID()).Set(1)
	if prev.checked && !prev.Healthy {
		m.log.Info("Provider recovered", "agent", a.ID())
	}
}

// run re-checks every interval until ctx ends.
func (m *healthMonitor) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

// healthy reports whether every agent passed its last check.
func (m *healthMonitor) healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, h := range m.state {
		if !h.Healthy {
			return false
		}
	}
	return true
}

func (m *healthMonitor) snapshot() map[string]agentHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]agentHealth, len(m.state))
	for id, h := range m.state {
		out[id] = h
	}
	return out
}
