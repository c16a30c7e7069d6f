package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cofferhq/coffer/pkg/metrics"
)

// scriptedChecker reports whatever verdict the test sets
type scriptedChecker struct {
	name    string
	mu      sync.Mutex
	healthy bool
	checks  int
}

func newScriptedChecker(name string, healthy bool) *scriptedChecker {
	return &scriptedChecker{name: name, healthy: healthy}
}

func (c *scriptedChecker) Name() string {
	return c.name
}

func (c *scriptedChecker) Check(_ context.Context) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks++

	return Result{
		Healthy:   c.healthy,
		Message:   "scripted",
		CheckedAt: time.Now(),
	}
}

func (c *scriptedChecker) set(healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = healthy
}

func (c *scriptedChecker) checkCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checks
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestMonitor_MarksUnhealthyAfterRetries(t *testing.T) {
	checker := newScriptedChecker("flaky-backend", false)
	config := Config{Interval: 10 * time.Millisecond, Timeout: time.Second, Retries: 2}

	monitor := NewMonitor(config, checker)
	monitor.Start()
	defer monitor.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return !monitor.Healthy("flaky-backend")
	}, "Expected component to become unhealthy after repeated failures")

	health := metrics.GetHealth()
	if health.Components["flaky-backend"].Healthy {
		t.Error("Expected registry to report unhealthy")
	}

	checker.set(true)

	waitFor(t, 2*time.Second, func() bool {
		return monitor.Healthy("flaky-backend")
	}, "Expected component to recover on the next successful probe")

	health = metrics.GetHealth()
	if !health.Components["flaky-backend"].Healthy {
		t.Error("Expected registry to report healthy")
	}
}

func TestMonitor_FirstSweepRunsImmediately(t *testing.T) {
	checker := newScriptedChecker("fast-backend", true)
	// Long interval: any probe within the test window came from the
	// immediate first sweep
	config := Config{Interval: time.Hour, Timeout: time.Second, Retries: 3}

	monitor := NewMonitor(config, checker)
	monitor.Start()
	defer monitor.Stop()

	waitFor(t, time.Second, func() bool {
		return checker.checkCount() > 0
	}, "Expected the first sweep to run without waiting an interval")
}

func TestMonitor_StartPeriodSuppressesFailures(t *testing.T) {
	checker := newScriptedChecker("slow-backend", false)
	config := Config{
		Interval:    10 * time.Millisecond,
		Timeout:     time.Second,
		Retries:     1,
		StartPeriod: time.Hour,
	}

	monitor := NewMonitor(config, checker)
	monitor.Start()
	defer monitor.Stop()

	waitFor(t, time.Second, func() bool {
		return checker.checkCount() >= 3
	}, "Expected probes to keep running during the start period")

	if !monitor.Healthy("slow-backend") {
		t.Error("Expected failures inside the start period to be ignored")
	}

	result, ok := monitor.LastResult("slow-backend")
	if !ok {
		t.Fatal("Expected a recorded probe result")
	}
	if result.Healthy {
		t.Error("Expected the recorded result to reflect the failing probe")
	}
}

func TestMonitor_UnknownComponent(t *testing.T) {
	monitor := NewMonitor(DefaultConfig())

	if monitor.Healthy("ghost") {
		t.Error("Expected unknown component to report unhealthy")
	}
	if _, ok := monitor.LastResult("ghost"); ok {
		t.Error("Expected no result for an unknown component")
	}
}
