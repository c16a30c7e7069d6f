package metrics

import (
	"time"

	"github.com/cofferhq/coffer/pkg/storage"
)

// Collector samples state gauges from the store
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	// Collect import metrics
	c.collectImportMetrics()

	// Collect approval metrics
	c.collectApprovalMetrics()
}

func (c *Collector) collectImportMetrics() {
	imports, err := c.store.ListReplicationImports()
	if err != nil {
		return
	}

	// Reset counters so vanished statuses drop to zero
	counts := map[string]int{"ok": 0, "failed": 0, "pending": 0}

	for _, imp := range imports {
		switch {
		case imp.LastReplicated.IsZero():
			counts["pending"]++
		case imp.IsReplicationSuccess:
			counts["ok"]++
		default:
			counts["failed"]++
		}
	}

	// Update metrics
	for status, count := range counts {
		ImportsTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectApprovalMetrics() {
	requests, err := c.store.ListApprovalRequests()
	if err != nil {
		return
	}

	counts := map[string]int{"open": 0, "closed": 0, "merged": 0}

	for _, req := range requests {
		counts[string(req.Status)]++
	}

	// Update metrics
	for status, count := range counts {
		ApprovalRequestsTotal.WithLabelValues(status).Set(float64(count))
	}
}
