package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cofferhq/coffer/pkg/log"
	"github.com/cofferhq/coffer/pkg/metrics"
	"github.com/cofferhq/coffer/pkg/storage"
	"github.com/cofferhq/coffer/pkg/types"
)

// DefaultInterval is the sweep cadence when none is configured
const DefaultInterval = 10 * time.Minute

// Resyncer re-enqueues a full replication of one import. The replication
// worker provides it.
type Resyncer interface {
	Resync(ctx context.Context, importID string) error
}

// Reconciler sweeps the replication imports and re-enqueues the ones whose
// last run was stamped as failed. Jobs promote their source versions even
// when an import fails, so a broken import stays stale until either the
// next source change or this sweep reaches it.
type Reconciler struct {
	store    storage.Store
	resyncer Resyncer
	interval time.Duration
	logger   zerolog.Logger
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewReconciler creates a reconciler. A zero interval disables the loop.
func NewReconciler(store storage.Store, resyncer Resyncer, interval time.Duration) *Reconciler {
	if interval < 0 {
		interval = 0
	}
	return &Reconciler{
		store:    store,
		resyncer: resyncer,
		interval: interval,
		logger:   log.WithComponent("reconciler"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the repair loop
func (r *Reconciler) Start() {
	if r.interval == 0 {
		r.logger.Info().Msg("Reconciler disabled")
		return
	}
	go r.run()
}

// Stop stops the repair loop
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.reconcile(context.Background()); err != nil {
				r.logger.Error().Err(err).Msg("Reconciliation sweep failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// reconcile performs one sweep over the replication imports
func (r *Reconciler) reconcile(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	imports, err := r.store.ListReplicationImports()
	if err != nil {
		return fmt.Errorf("failed to list imports: %w", err)
	}

	repaired := 0
	for _, imp := range imports {
		if !failed(imp) {
			continue
		}
		r.logger.Info().Str("import_id", imp.ID).Str("status", imp.ReplicationStatus).Msg("Re-enqueueing failed import")
		if err := r.resyncer.Resync(ctx, imp.ID); err != nil {
			r.logger.Error().Err(err).Str("import_id", imp.ID).Msg("Failed to re-enqueue import")
			continue
		}
		repaired++
	}
	if repaired > 0 {
		r.logger.Info().Int("imports", repaired).Msg("Reconciliation sweep re-enqueued imports")
	}
	return nil
}

// failed reports whether an import's last attempt was stamped unsuccessful.
// Imports that never ran are not repair candidates.
func failed(imp *types.SecretImport) bool {
	return !imp.IsReplicationSuccess && !imp.LastReplicated.IsZero()
}
