package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cofferhq/coffer/pkg/approval"
	"github.com/cofferhq/coffer/pkg/events"
	"github.com/cofferhq/coffer/pkg/keystore"
	"github.com/cofferhq/coffer/pkg/log"
	"github.com/cofferhq/coffer/pkg/metrics"
	"github.com/cofferhq/coffer/pkg/queue"
	"github.com/cofferhq/coffer/pkg/storage"
	"github.com/cofferhq/coffer/pkg/types"
)

const (
	lockTTL   = 5 * time.Second
	markerTTL = 10 * time.Second

	// statusLimit caps the failure message stored on an import row
	statusLimit = 500
)

// Syncer fans a folder's landed changes out to integrations and nested
// subscribers. pkg/syncer provides the queue-backed implementation.
type Syncer interface {
	SyncFolder(ctx context.Context, req types.SyncRequest) error
}

// Worker replicates changed source secrets into every folder subscribed to
// the source location. One Worker serves all jobs on the replication queue.
type Worker struct {
	store    storage.Store
	keys     *keystore.Client
	oracle   approval.Oracle
	syncer   Syncer
	broker   *events.Broker
	runtime  *queue.Runtime
	failures events.Subscriber
	logger   zerolog.Logger
}

func NewWorker(store storage.Store, keys *keystore.Client, oracle approval.Oracle, syncer Syncer, broker *events.Broker) *Worker {
	return &Worker{
		store:  store,
		keys:   keys,
		oracle: oracle,
		syncer: syncer,
		broker: broker,
		logger: log.WithComponent("replication"),
	}
}

// Attach registers the worker on the replication queue and starts the
// failure listener.
func (w *Worker) Attach(rt *queue.Runtime) {
	w.runtime = rt
	rt.Register(queue.QueueSecretReplication, w.Handle)
	w.failures = w.broker.Subscribe()
	go w.watchFailures(w.failures)
}

// Stop detaches the failure listener
func (w *Worker) Stop() {
	if w.failures != nil {
		w.broker.Unsubscribe(w.failures)
		w.failures = nil
	}
}

// Handle decodes a queue delivery and runs the replication protocol. Jobs
// enqueued by the cascade path carry no id of their own and inherit the
// queue-assigned one.
func (w *Worker) Handle(ctx context.Context, jobID string, payload []byte) error {
	var job types.ReplicationJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("failed to decode replication job: %w", err)
	}
	if job.ID == "" {
		job.ID = jobID
	}
	return w.Process(ctx, &job)
}

// Process replicates one job. Import failures are recorded on their import
// rows and do not fail the job; an error returned here means the job wrote
// no durable replication state, or lost its actor's standing mid-run, and
// the queue redelivers it.
func (w *Worker) Process(ctx context.Context, job *types.ReplicationJob) error {
	logger := w.logger.With().Str("job_id", job.ID).Str("folder_id", job.FolderID).Logger()
	timer := metrics.NewTimer()

	// 1. Discover the imports subscribed to this source location
	imports, err := w.store.ReplicationImportsBySource(job.EnvironmentID, job.SecretPath)
	if err != nil {
		metrics.ReplicationJobsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to discover imports: %w", err)
	}
	imports = pickImports(imports, job.PickOnlyImportIDs)
	if len(imports) == 0 || len(job.Secrets) == 0 {
		logger.Debug().Msg("No subscribers, nothing to replicate")
		metrics.ReplicationJobsTotal.WithLabelValues("noop").Inc()
		return nil
	}

	// 2. Re-read the source versions; the job payload may be stale
	secretIDs := make([]string, 0, len(job.Secrets))
	for _, s := range job.Secrets {
		secretIDs = append(secretIDs, s.ID)
	}
	versions, err := w.store.LatestSecretVersions(job.FolderID, secretIDs)
	if err != nil {
		metrics.ReplicationJobsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to read source versions: %w", err)
	}

	// 3. Keep only versions eligible for replication
	sources := make(map[string]*types.SecretVersion, len(versions))
	for id, v := range versions {
		if eligible(v) {
			sources[id] = v
		}
	}

	// 4. Drop job entries without an eligible source
	incoming := make([]types.JobSecret, 0, len(job.Secrets))
	for _, s := range job.Secrets {
		if _, ok := sources[s.ID]; ok {
			incoming = append(incoming, s)
		}
	}
	if len(incoming) == 0 {
		logger.Debug().Msg("No eligible secrets, nothing to replicate")
		metrics.ReplicationJobsTotal.WithLabelValues("noop").Inc()
		return nil
	}

	// 5. Serialize on the replicated secrets across the fleet
	names := make([]string, 0, len(sources))
	for id := range sources {
		names = append(names, id)
	}
	sort.Strings(names)
	locks, err := w.keys.AcquireLocks(ctx, names, lockTTL)
	if err != nil {
		metrics.LockFailuresTotal.Inc()
		metrics.ReplicationJobsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to lock secrets: %w", err)
	}
	defer func() {
		// Locks release on every exit path, even when ctx is gone
		if err := w.keys.Unlock(context.Background(), locks); err != nil {
			logger.Warn().Err(err).Msg("Failed to release replication locks")
		}
	}()

	refreshCtx, stopRefresh := context.WithCancel(ctx)
	defer stopRefresh()
	go w.refreshLocks(refreshCtx, locks)

	// 6. One import at a time; a failed import never blocks the rest
	for _, imp := range imports {
		err := w.processImport(ctx, job, imp, incoming, sources)
		if err == nil {
			metrics.ReplicationImportsTotal.WithLabelValues("ok").Inc()
			continue
		}
		if errors.Is(err, ErrMembershipMissing) {
			// No standing to open approval requests in this project
			metrics.ReplicationJobsTotal.WithLabelValues("failed").Inc()
			logger.Error().Str("import_id", imp.ID).Str("actor_id", job.ActorID).Msg("Actor has no project membership, aborting job")
			return err
		}
		metrics.ReplicationImportsTotal.WithLabelValues("failed").Inc()
		w.recordImportFailure(imp, err)
	}

	// 7. Promote the source versions whether or not every import landed; the
	// import rows carry the failures and resync repairs them later
	versionIDs := make([]string, 0, len(sources))
	for _, v := range sources {
		versionIDs = append(versionIDs, v.ID)
	}
	if err := w.store.MarkVersionsReplicated(versionIDs); err != nil {
		metrics.ReplicationJobsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to mark versions replicated: %w", err)
	}

	timer.ObserveDuration(metrics.ReplicationJobDuration)
	metrics.ReplicationJobsTotal.WithLabelValues("ok").Inc()
	logger.Info().Int("imports", len(imports)).Int("secrets", len(incoming)).Msg("Replication job completed")
	return nil
}

// processImport runs the per-import protocol: marker short-circuit, path
// resolution, reserved folder, classification, routing, success stamp.
func (w *Worker) processImport(ctx context.Context, job *types.ReplicationJob, imp *types.SecretImport, incoming []types.JobSecret, sources map[string]*types.SecretVersion) error {
	logger := w.logger.With().Str("job_id", job.ID).Str("import_id", imp.ID).Logger()

	// a. A marker means an earlier delivery of this job finished this import
	marker := keystore.SuccessKey(job.ID, imp.ID)
	done, err := w.keys.HasMarker(ctx, marker)
	if err != nil {
		return fmt.Errorf("failed to check idempotency marker: %w", err)
	}
	if done {
		logger.Info().Msg("Import already replicated by this job, skipping")
		return nil
	}

	// b. Resolve the destination folder's external path
	dest, err := w.store.FolderPath(job.ProjectID, imp.FolderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrImportedFolderMissing
		}
		return fmt.Errorf("failed to resolve destination folder: %w", err)
	}

	// c. Materialize the reserved folder holding this import's replicas
	reserved, err := w.reservedFolder(imp)
	if err != nil {
		return err
	}

	// d. Local replicas keyed by the blind indexes in play
	indexes := make([]string, 0, len(sources))
	for _, v := range sources {
		indexes = append(indexes, v.BlindIndex)
	}
	locals, err := w.store.SecretsByBlindIndexes(reserved.ID, indexes)
	if err != nil {
		return fmt.Errorf("failed to read local secrets: %w", err)
	}

	// e. Reconcile carried operations against local state
	ops := classify(incoming, sources, locals)
	if len(ops) > 0 {
		// f. A guarded destination routes user changes through approval
		policy, err := w.oracle.PolicyForPath(ctx, job.ProjectID, dest.EnvSlug, dest.Path)
		if err != nil {
			return fmt.Errorf("failed to consult approval policy: %w", err)
		}

		ic := &importContext{job: job, imp: imp, dest: dest, reserved: reserved, ops: ops}
		var rec recorder
		if policy != nil && job.Actor == types.ActorUser {
			ic.policy = policy
			rec = &approvalRecorder{store: w.store, broker: w.broker, logger: logger}
		} else {
			rec = &directRecorder{store: w.store, syncer: w.syncer, logger: logger}
		}
		if err := rec.record(ctx, ic); err != nil {
			return err
		}
	}

	// g. Marker first, then the success stamp on the import row
	if err := w.keys.SetMarker(ctx, marker, markerTTL); err != nil {
		return fmt.Errorf("failed to set idempotency marker: %w", err)
	}
	if err := w.store.UpdateImportStatus(imp.ID, "", true); err != nil {
		return fmt.Errorf("failed to record import success: %w", err)
	}

	logger.Info().Str("folder_id", reserved.ID).Int("operations", len(ops)).Msg("Import replicated")
	return nil
}

// reservedFolder finds or creates the reserved child folder that hosts an
// import's replicas. The unique (parent, name) slot resolves creation races
// between jobs whose lock sets do not overlap.
func (w *Worker) reservedFolder(imp *types.SecretImport) (*types.Folder, error) {
	name := types.ReservedFolderName(imp.ID)
	folder, err := w.store.GetFolderByName(imp.FolderID, name)
	if err == nil {
		return folder, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up reserved folder: %w", err)
	}

	parent, err := w.store.GetFolder(imp.FolderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load destination folder: %w", err)
	}

	now := time.Now()
	folder = &types.Folder{
		ID:         uuid.New().String(),
		EnvID:      parent.EnvID,
		ParentID:   parent.ID,
		Path:       childPath(parent.Path, name),
		Name:       name,
		IsReserved: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = w.store.Transact(func(tx storage.Tx) error {
		return tx.CreateFolder(folder)
	})
	if err == nil {
		return folder, nil
	}

	// Lost the creation race; the winner's folder serves
	existing, lookupErr := w.store.GetFolderByName(imp.FolderID, name)
	if lookupErr == nil {
		return existing, nil
	}
	return nil, fmt.Errorf("failed to create reserved folder: %w", err)
}

// recordImportFailure stamps the failure on the import row so the
// reconciler can pick it up
func (w *Worker) recordImportFailure(imp *types.SecretImport, cause error) {
	w.logger.Error().Err(cause).Str("import_id", imp.ID).Msg("Import replication failed")
	w.broker.Publish(&events.Event{
		Type:     events.EventImportFailed,
		ImportID: imp.ID,
		FolderID: imp.FolderID,
		Error:    cause.Error(),
	})
	if err := w.store.UpdateImportStatus(imp.ID, truncate(cause.Error(), statusLimit), false); err != nil {
		w.logger.Error().Err(err).Str("import_id", imp.ID).Msg("Failed to record import failure")
	}
}

// refreshLocks extends the lock TTL while the job runs
func (w *Worker) refreshLocks(ctx context.Context, locks []*keystore.LockKey) {
	ticker := time.NewTicker(lockTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := w.keys.Refresh(ctx, lockTTL, locks)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Warn().Err(err).Msg("Failed to refresh replication locks")
				}
				continue
			}
			if !ok {
				w.logger.Warn().Msg("Lost replication lock ownership mid-job")
			}
		}
	}
}

// watchFailures logs replication jobs the queue marked failed. Import-level
// failures are already stamped on their import rows; this catches errors
// outside the per-import loop.
func (w *Worker) watchFailures(sub events.Subscriber) {
	for ev := range sub {
		if ev.Type != events.EventJobFailed || ev.Queue != queue.QueueSecretReplication {
			continue
		}
		w.logger.Error().Str("job_id", ev.JobID).Str("error", ev.Error).Str("payload", ev.Payload).Msg("Replication job failed")
	}
}

// eligible reports whether a source version may replicate: shared, carrying
// a blind index, and either brand new or not behind its replication
// watermark.
func eligible(v *types.SecretVersion) bool {
	if v.BlindIndex == "" || v.Type == types.SecretPersonal {
		return false
	}
	return v.Version == 1 || v.LatestReplicatedVersion <= v.Version
}

// pickImports narrows discovered imports to the job's explicit pick list
func pickImports(imports []*types.SecretImport, pickOnly []string) []*types.SecretImport {
	if len(pickOnly) == 0 {
		return imports
	}
	picked := make([]*types.SecretImport, 0, len(imports))
	for _, imp := range imports {
		for _, id := range pickOnly {
			if imp.ID == id {
				picked = append(picked, imp)
				break
			}
		}
	}
	return picked
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func childPath(parent, name string) string {
	if parent == "" || parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}
