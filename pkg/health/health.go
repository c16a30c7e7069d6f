package health

import (
	"context"
	"time"
)

// Result represents the outcome of one probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one collaborator the worker cannot run without
type Checker interface {
	// Name identifies the component in the health registry
	Name() string

	// Check performs the probe and returns the result
	Check(ctx context.Context) Result
}

// Config contains common configuration for all probes
type Config struct {
	// Interval is the time between probes
	Interval time.Duration

	// Timeout is the maximum time to wait for a probe to complete
	Timeout time.Duration

	// Retries is the number of consecutive failures before marking a
	// component unhealthy
	Retries int

	// StartPeriod is a grace window after startup during which failures
	// are not counted, for collaborators that come up after the worker
	StartPeriod time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval:    15 * time.Second,
		Timeout:     5 * time.Second,
		Retries:     3,
		StartPeriod: 0,
	}
}

// Status tracks the rolling health verdict for one component
type Status struct {
	// ConsecutiveFailures tracks the number of consecutive failed probes
	ConsecutiveFailures int

	// ConsecutiveSuccesses tracks the number of consecutive successful probes
	ConsecutiveSuccesses int

	// LastCheck is the timestamp of the last probe
	LastCheck time.Time

	// LastResult is the result of the last probe
	LastResult Result

	// Healthy flips to false only after Retries consecutive failures and
	// back to true on the first success
	Healthy bool

	// StartedAt is when monitoring of this component began
	StartedAt time.Time
}

// NewStatus creates a Status that assumes health until proven otherwise
func NewStatus() *Status {
	return &Status{
		Healthy:   true,
		StartedAt: time.Now(),
	}
}

// Update folds a probe result into the status
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}

// InStartPeriod returns true while the startup grace window is still open
func (s *Status) InStartPeriod(config Config) bool {
	if config.StartPeriod == 0 {
		return false
	}
	return time.Since(s.StartedAt) < config.StartPeriod
}
