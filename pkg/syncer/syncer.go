package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cofferhq/coffer/pkg/log"
	"github.com/cofferhq/coffer/pkg/queue"
	"github.com/cofferhq/coffer/pkg/storage"
	"github.com/cofferhq/coffer/pkg/types"
)

// Enqueuer fans a folder's materialized changes out to the sync queue and,
// when other folders subscribe to the changed path, back into replication.
type Enqueuer struct {
	store  storage.Store
	queue  *queue.Runtime
	logger zerolog.Logger
}

// NewEnqueuer creates a sync enqueuer
func NewEnqueuer(store storage.Store, rt *queue.Runtime) *Enqueuer {
	return &Enqueuer{
		store:  store,
		queue:  rt,
		logger: log.WithComponent("syncer"),
	}
}

// SyncFolder enqueues the integration sync for a changed folder and cascades
// a replication job when imports subscribe to the folder's path. The dedup
// sets carried on req stop the fan-out from visiting a folder twice; both
// sets ride every enqueued payload verbatim.
func (e *Enqueuer) SyncFolder(ctx context.Context, req types.SyncRequest) error {
	key := folderKey(req.ProjectID, req.EnvironmentSlug, req.SecretPath)

	if !hasKey(req.DeDupeSync, key) {
		req.DeDupeSync = append(req.DeDupeSync, key)

		payload, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to encode sync request: %w", err)
		}
		if err := e.queue.Enqueue(ctx, queue.QueueSecretSync, "", payload); err != nil {
			return err
		}
		e.logger.Debug().Str("folder_id", req.FolderID).Str("key", key).Msg("Sync enqueued")
	}

	if hasKey(req.DeDupeReplication, key) {
		return nil
	}

	subscribers, err := e.store.ReplicationImportsBySource(req.EnvironmentID, req.SecretPath)
	if err != nil {
		return fmt.Errorf("failed to look up replication subscribers: %w", err)
	}
	if len(subscribers) == 0 {
		return nil
	}

	req.DeDupeReplication = append(req.DeDupeReplication, key)

	job := &types.ReplicationJob{
		Secrets:           jobSecrets(req.Secrets),
		FolderID:          req.FolderID,
		SecretPath:        req.SecretPath,
		EnvironmentID:     req.EnvironmentID,
		ProjectID:         req.ProjectID,
		ActorID:           req.ActorID,
		Actor:             req.Actor,
		DeDupeReplication: req.DeDupeReplication,
		DeDupeSync:        req.DeDupeSync,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode replication job: %w", err)
	}
	if err := e.queue.Enqueue(ctx, queue.QueueSecretReplication, "", payload); err != nil {
		return err
	}

	e.logger.Info().Str("folder_id", req.FolderID).Int("subscribers", len(subscribers)).Msg("Replication cascade enqueued")
	return nil
}

// jobSecrets converts materialized sync changes to replication job entries
func jobSecrets(secrets []types.SyncSecret) []types.JobSecret {
	out := make([]types.JobSecret, 0, len(secrets))
	for _, s := range secrets {
		out = append(out, types.JobSecret{ID: s.ID, Operation: s.Operation})
	}
	return out
}

func folderKey(projectID, envSlug, path string) string {
	return projectID + ":" + envSlug + ":" + path
}

func hasKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
