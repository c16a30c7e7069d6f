package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cofferhq/coffer/pkg/log"
	"github.com/cofferhq/coffer/pkg/metrics"
)

// Monitor periodically probes collaborators and mirrors their verdicts
// into the registry backing the health and readiness endpoints.
type Monitor struct {
	cfg      Config
	checkers []Checker
	statuses map[string]*Status
	logger   zerolog.Logger
	mu       sync.RWMutex
	stopCh   chan struct{}
}

// NewMonitor creates a monitor for the given checkers
func NewMonitor(cfg Config, checkers ...Checker) *Monitor {
	statuses := make(map[string]*Status, len(checkers))
	for _, c := range checkers {
		statuses[c.Name()] = NewStatus()
		metrics.RegisterComponent(c.Name(), true, "")
	}

	return &Monitor{
		cfg:      cfg,
		checkers: checkers,
		statuses: statuses,
		logger:   log.WithComponent("health"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the probe loop. The first sweep runs immediately so
// readiness does not wait out a full interval.
func (m *Monitor) Start() {
	m.logger.Info().
		Dur("interval", m.cfg.Interval).
		Int("checkers", len(m.checkers)).
		Msg("Starting health monitor")

	go m.run()
}

// Stop terminates the probe loop
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	m.sweep()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) sweep() {
	for _, checker := range m.checkers {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
		result := checker.Check(ctx)
		cancel()

		m.apply(checker.Name(), result)
	}
}

func (m *Monitor) apply(name string, result Result) {
	m.mu.Lock()
	status := m.statuses[name]

	if !result.Healthy && status.InStartPeriod(m.cfg) {
		// Grace window: record the probe but do not count the failure
		status.LastCheck = result.CheckedAt
		status.LastResult = result
		m.mu.Unlock()
		return
	}

	wasHealthy := status.Healthy
	status.Update(result, m.cfg)
	healthy := status.Healthy
	failures := status.ConsecutiveFailures
	m.mu.Unlock()

	message := ""
	if !healthy {
		message = result.Message
	}
	metrics.UpdateComponent(name, healthy, message)

	if wasHealthy && !healthy {
		m.logger.Warn().
			Str("check", name).
			Str("message", result.Message).
			Int("failures", failures).
			Msg("Component became unhealthy")
	} else if !wasHealthy && healthy {
		m.logger.Info().
			Str("check", name).
			Msg("Component recovered")
	}
}

// Healthy returns the current verdict for one component. Unknown
// components report false.
func (m *Monitor) Healthy(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statuses[name]
	return ok && status.Healthy
}

// LastResult returns the most recent probe result for one component
func (m *Monitor) LastResult(name string) (Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statuses[name]
	if !ok {
		return Result{}, false
	}
	return status.LastResult, true
}
