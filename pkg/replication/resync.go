package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cofferhq/coffer/pkg/events"
	"github.com/cofferhq/coffer/pkg/metrics"
	"github.com/cofferhq/coffer/pkg/queue"
	"github.com/cofferhq/coffer/pkg/security"
	"github.com/cofferhq/coffer/pkg/types"
)

// Resync enqueues a full-folder replication job scoped to one import. Every
// shared source secret rides as an update, so the replica converges with the
// source no matter what a failed run left behind. The job runs as the
// platform actor and therefore lands directly even on guarded destinations.
func (w *Worker) Resync(ctx context.Context, importID string) error {
	if w.runtime == nil {
		return errors.New("worker is not attached to a queue runtime")
	}

	imp, err := w.store.GetSecretImport(importID)
	if err != nil {
		return fmt.Errorf("failed to load import: %w", err)
	}
	if !imp.IsReplication {
		return fmt.Errorf("import %s is not a replication import", importID)
	}

	source, err := w.store.GetFolderByPath(imp.ImportEnvID, imp.ImportPath)
	if err != nil {
		return fmt.Errorf("failed to resolve source folder: %w", err)
	}
	env, err := w.store.GetEnvironment(imp.ImportEnvID)
	if err != nil {
		return fmt.Errorf("failed to load source environment: %w", err)
	}

	secrets, err := w.store.ListSecrets(source.ID)
	if err != nil {
		return fmt.Errorf("failed to list source secrets: %w", err)
	}
	jobSecrets := make([]types.JobSecret, 0, len(secrets))
	for _, s := range secrets {
		if s.Type != types.SecretShared {
			continue
		}
		jobSecrets = append(jobSecrets, types.JobSecret{ID: s.ID, Operation: types.OperationUpdate})
	}
	if len(jobSecrets) == 0 {
		w.logger.Info().Str("import_id", importID).Msg("Source folder holds no shared secrets, nothing to resync")
		return nil
	}

	jobID, err := security.NewJobID()
	if err != nil {
		return err
	}
	job := &types.ReplicationJob{
		ID:                jobID,
		Secrets:           jobSecrets,
		FolderID:          source.ID,
		SecretPath:        imp.ImportPath,
		EnvironmentID:     imp.ImportEnvID,
		ProjectID:         env.ProjectID,
		Actor:             types.ActorPlatform,
		PickOnlyImportIDs: []string{importID},
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode replication job: %w", err)
	}
	if err := w.runtime.Enqueue(ctx, queue.QueueSecretReplication, job.ID, payload); err != nil {
		return err
	}

	metrics.ResyncsTotal.Inc()
	w.broker.Publish(&events.Event{
		Type:     events.EventResyncRequested,
		JobID:    job.ID,
		ImportID: importID,
	})
	w.logger.Info().Str("import_id", importID).Str("job_id", job.ID).Int("secrets", len(jobSecrets)).Msg("Resync enqueued")
	return nil
}
