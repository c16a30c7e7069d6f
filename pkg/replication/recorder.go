package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cofferhq/coffer/pkg/events"
	"github.com/cofferhq/coffer/pkg/metrics"
	"github.com/cofferhq/coffer/pkg/security"
	"github.com/cofferhq/coffer/pkg/storage"
	"github.com/cofferhq/coffer/pkg/types"
)

// importContext carries everything needed to land one import's classified
// diff: the job, the import row, the destination folder's external path, the
// reserved folder the writes target, the classified operations, and the
// approval policy when one guards the destination.
type importContext struct {
	job      *types.ReplicationJob
	imp      *types.SecretImport
	dest     *types.FolderRef
	reserved *types.Folder
	ops      []classifiedOp
	policy   *types.ApprovalPolicy
}

// recorder lands a classified diff. The direct recorder writes the replicas
// and fans out a sync; the approval recorder files an approval request and
// leaves the folder untouched.
type recorder interface {
	record(ctx context.Context, ic *importContext) error
}

type directRecorder struct {
	store  storage.Store
	syncer Syncer
	logger zerolog.Logger
}

func (r *directRecorder) record(ctx context.Context, ic *importContext) error {
	applied := make([]types.SyncSecret, 0, len(ic.ops))

	err := r.store.Transact(func(tx storage.Tx) error {
		var deleteIDs []string
		for _, op := range ic.ops {
			switch op.op {
			case types.OperationCreate:
				secret, version := replicaRows(ic.reserved.ID, op.source, nil)
				if err := tx.CreateSecret(secret, version); err != nil {
					return err
				}
				// Replicas never carry cross-environment references
				if err := tx.UpsertSecretReferences(secret.ID, nil); err != nil {
					return err
				}
				applied = append(applied, types.SyncSecret{ID: secret.ID, Version: secret.Version, Operation: types.OperationCreate})
			case types.OperationUpdate:
				secret, version := replicaRows(ic.reserved.ID, op.source, op.local)
				if err := tx.UpdateSecret(secret, version); err != nil {
					return err
				}
				if err := tx.UpsertSecretReferences(secret.ID, nil); err != nil {
					return err
				}
				applied = append(applied, types.SyncSecret{ID: secret.ID, Version: secret.Version, Operation: types.OperationUpdate})
			case types.OperationDelete:
				// The replica's own id, not the source secret's
				deleteIDs = append(deleteIDs, op.local.ID)
				applied = append(applied, types.SyncSecret{ID: op.local.ID, Version: op.local.Version, Operation: types.OperationDelete})
			}
		}
		if len(deleteIDs) > 0 {
			if _, err := tx.DeleteSecrets(ic.reserved.ID, deleteIDs, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write replicated secrets: %w", err)
	}

	for _, op := range applied {
		metrics.ReplicationSecretsTotal.WithLabelValues(string(op.Operation)).Inc()
	}
	r.logger.Info().Str("folder_id", ic.reserved.ID).Int("secrets", len(applied)).Msg("Replicated secrets into reserved folder")

	// Landed changes fan out to integrations and nested subscribers
	return r.syncer.SyncFolder(ctx, types.SyncRequest{
		ProjectID:         ic.job.ProjectID,
		SecretPath:        ic.dest.Path,
		EnvironmentSlug:   ic.dest.EnvSlug,
		EnvironmentID:     ic.reserved.EnvID,
		FolderID:          ic.reserved.ID,
		Secrets:           applied,
		Actor:             ic.job.Actor,
		ActorID:           ic.job.ActorID,
		DeDupeReplication: ic.job.DeDupeReplication,
		DeDupeSync:        ic.job.DeDupeSync,
	})
}

type approvalRecorder struct {
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger
}

func (r *approvalRecorder) record(ctx context.Context, ic *importContext) error {
	membership, err := r.store.Membership(ic.job.ProjectID, ic.job.ActorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrMembershipMissing
		}
		return fmt.Errorf("failed to load membership: %w", err)
	}

	// One batched read for the latest local version of every touched replica
	var localIDs []string
	for _, op := range ic.ops {
		if op.local != nil {
			localIDs = append(localIDs, op.local.ID)
		}
	}
	latest := make(map[string]*types.SecretVersion)
	if len(localIDs) > 0 {
		latest, err = r.store.LatestSecretVersions(ic.reserved.ID, localIDs)
		if err != nil {
			return fmt.Errorf("failed to load local secret versions: %w", err)
		}
	}

	slug, err := security.RandomSlug(12)
	if err != nil {
		return err
	}
	request := &types.ApprovalRequest{
		ID:           uuid.New().String(),
		PolicyID:     ic.policy.ID,
		FolderID:     ic.reserved.ID,
		Slug:         slug,
		Status:       types.ApprovalStatusOpen,
		HasMerged:    false,
		CommitterID:  membership.ID,
		IsReplicated: true,
		CreatedAt:    time.Now(),
	}

	err = r.store.Transact(func(tx storage.Tx) error {
		if err := tx.CreateApprovalRequest(request); err != nil {
			return err
		}
		for _, op := range ic.ops {
			rs := &types.ApprovalRequestSecret{
				ID:                    uuid.New().String(),
				RequestID:             request.ID,
				Op:                    op.op,
				BlindIndex:            op.source.BlindIndex,
				Type:                  op.source.Type,
				KeyEncoding:           op.source.KeyEncoding,
				Algorithm:             op.source.Algorithm,
				Metadata:              op.source.Metadata,
				KeyCipher:             op.source.KeyCipher,
				ValueCipher:           op.source.ValueCipher,
				CommentCipher:         op.source.CommentCipher,
				SkipMultilineEncoding: op.source.SkipMultilineEncoding,
				TagIDs:                op.source.TagIDs,
				IsReplicated:          true,
			}
			if op.local != nil {
				rs.SecretID = op.local.ID
				if v := latest[op.local.ID]; v != nil {
					rs.SecretVersionID = v.ID
				}
			}
			if err := tx.CreateApprovalRequestSecret(rs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create approval request: %w", err)
	}

	metrics.ApprovalsTotal.Inc()
	r.broker.Publish(&events.Event{
		Type:      events.EventApprovalCreated,
		ImportID:  ic.imp.ID,
		FolderID:  ic.reserved.ID,
		RequestID: request.ID,
	})
	r.logger.Info().Str("request_id", request.ID).Str("folder_id", ic.reserved.ID).Int("secrets", len(ic.ops)).Msg("Opened approval request for replicated changes")
	return nil
}

// replicaRows builds the replica secret row and its version row from a source
// version. An existing local row fixes the id and advances the version;
// otherwise the replica starts at version 1. Versions written here carry the
// replication watermark so cascaded hops stay eligible.
func replicaRows(folderID string, source *types.SecretVersion, local *types.Secret) (*types.Secret, *types.SecretVersion) {
	now := time.Now()
	secret := &types.Secret{
		ID:                    uuid.New().String(),
		FolderID:              folderID,
		BlindIndex:            source.BlindIndex,
		Type:                  source.Type,
		Version:               1,
		IsReplicated:          true,
		KeyEncoding:           source.KeyEncoding,
		Algorithm:             source.Algorithm,
		Metadata:              source.Metadata,
		KeyCipher:             source.KeyCipher,
		ValueCipher:           source.ValueCipher,
		CommentCipher:         source.CommentCipher,
		SkipMultilineEncoding: source.SkipMultilineEncoding,
		TagIDs:                source.TagIDs,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if local != nil {
		secret.ID = local.ID
		secret.Version = local.Version + 1
		secret.CreatedAt = local.CreatedAt
	}

	version := &types.SecretVersion{
		ID:                      uuid.New().String(),
		SecretID:                secret.ID,
		FolderID:                folderID,
		Version:                 secret.Version,
		LatestReplicatedVersion: secret.Version,
		IsReplicated:            true,
		BlindIndex:              secret.BlindIndex,
		Type:                    secret.Type,
		KeyEncoding:             secret.KeyEncoding,
		Algorithm:               secret.Algorithm,
		Metadata:                secret.Metadata,
		KeyCipher:               secret.KeyCipher,
		ValueCipher:             secret.ValueCipher,
		CommentCipher:           secret.CommentCipher,
		SkipMultilineEncoding:   secret.SkipMultilineEncoding,
		TagIDs:                  secret.TagIDs,
		CreatedAt:               now,
	}
	return secret, version
}
