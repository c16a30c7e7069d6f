package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cofferhq/coffer/pkg/approval"
	"github.com/cofferhq/coffer/pkg/events"
	"github.com/cofferhq/coffer/pkg/keystore"
	"github.com/cofferhq/coffer/pkg/log"
	"github.com/cofferhq/coffer/pkg/queue"
	"github.com/cofferhq/coffer/pkg/storage"
	"github.com/cofferhq/coffer/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type captureSyncer struct {
	mu   sync.Mutex
	reqs []types.SyncRequest
}

func (c *captureSyncer) SyncFolder(_ context.Context, req types.SyncRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	return nil
}

func (c *captureSyncer) requests() []types.SyncRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.SyncRequest(nil), c.reqs...)
}

type fixture struct {
	store  *storage.BoltStore
	keys   *keystore.Client
	rdb    *redis.Client
	broker *events.Broker
	syncer *captureSyncer
	worker *Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	syncer := &captureSyncer{}
	keys := keystore.NewClient(rdb)
	worker := NewWorker(store, keys, approval.NewStoreOracle(store), syncer, broker)

	return &fixture{store: store, keys: keys, rdb: rdb, broker: broker, syncer: syncer, worker: worker}
}

// seedWorld creates one project with a source folder (/app in prod) and a
// destination folder (/team in stage) subscribed to it via imp-1.
func (f *fixture) seedWorld(t *testing.T) {
	t.Helper()
	for _, env := range []*types.Environment{
		{ID: "env-prod", ProjectID: "proj-1", Slug: "prod", Name: "Production"},
		{ID: "env-stage", ProjectID: "proj-1", Slug: "stage", Name: "Staging"},
	} {
		require.NoError(t, f.store.CreateEnvironment(env))
	}
	for _, folder := range []*types.Folder{
		{ID: "folder-src", EnvID: "env-prod", Path: "/app", Name: "app"},
		{ID: "folder-dest", EnvID: "env-stage", Path: "/team", Name: "team"},
	} {
		require.NoError(t, f.store.CreateFolder(folder))
	}
	require.NoError(t, f.store.CreateSecretImport(&types.SecretImport{
		ID:            "imp-1",
		FolderID:      "folder-dest",
		ImportEnvID:   "env-prod",
		ImportPath:    "/app",
		IsReplication: true,
		Position:      1,
	}))
}

func (f *fixture) seedSourceSecret(t *testing.T, id, blindIndex string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, f.store.Transact(func(tx storage.Tx) error {
		return tx.CreateSecret(
			&types.Secret{
				ID:          id,
				FolderID:    "folder-src",
				BlindIndex:  blindIndex,
				Type:        types.SecretShared,
				Version:     1,
				KeyCipher:   types.CipherText{IV: "iv", Tag: "tag", Data: "key-" + id},
				ValueCipher: types.CipherText{IV: "iv", Tag: "tag", Data: "value-" + id},
				CreatedAt:   now,
				UpdatedAt:   now,
			},
			&types.SecretVersion{
				ID:          id + "-v1",
				SecretID:    id,
				FolderID:    "folder-src",
				Version:     1,
				BlindIndex:  blindIndex,
				Type:        types.SecretShared,
				KeyCipher:   types.CipherText{IV: "iv", Tag: "tag", Data: "key-" + id},
				ValueCipher: types.CipherText{IV: "iv", Tag: "tag", Data: "value-" + id},
				CreatedAt:   now,
			},
		)
	}))
}

func (f *fixture) bumpSourceSecret(t *testing.T, id, blindIndex string, version int) {
	t.Helper()
	now := time.Now()
	data := fmt.Sprintf("value-%s-v%d", id, version)
	require.NoError(t, f.store.Transact(func(tx storage.Tx) error {
		return tx.UpdateSecret(
			&types.Secret{
				ID:          id,
				FolderID:    "folder-src",
				BlindIndex:  blindIndex,
				Type:        types.SecretShared,
				Version:     version,
				ValueCipher: types.CipherText{IV: "iv", Tag: "tag", Data: data},
				UpdatedAt:   now,
			},
			&types.SecretVersion{
				ID:          fmt.Sprintf("%s-v%d", id, version),
				SecretID:    id,
				FolderID:    "folder-src",
				Version:     version,
				BlindIndex:  blindIndex,
				Type:        types.SecretShared,
				ValueCipher: types.CipherText{IV: "iv", Tag: "tag", Data: data},
				CreatedAt:   now,
			},
		)
	}))
}

func (f *fixture) reserved(t *testing.T, parentID, importID string) *types.Folder {
	t.Helper()
	folder, err := f.store.GetFolderByName(parentID, types.ReservedFolderName(importID))
	require.NoError(t, err)
	return folder
}

func (f *fixture) replica(t *testing.T, folderID, blindIndex string) *types.Secret {
	t.Helper()
	locals, err := f.store.SecretsByBlindIndexes(folderID, []string{blindIndex})
	require.NoError(t, err)
	secret := locals[blindIndex]
	require.NotNil(t, secret, "expected a replica for blind index %s", blindIndex)
	return secret
}

func replicationJob(id string, secrets ...types.JobSecret) *types.ReplicationJob {
	return &types.ReplicationJob{
		ID:            id,
		Secrets:       secrets,
		FolderID:      "folder-src",
		SecretPath:    "/app",
		EnvironmentID: "env-prod",
		ProjectID:     "proj-1",
		Actor:         types.ActorPlatform,
		ActorID:       "platform",
	}
}

func TestProcessFirstReplication(t *testing.T) {
	fx := newFixture(t)
	fx.seedWorld(t)
	fx.seedSourceSecret(t, "sec-db", "bi-db")

	job := replicationJob("job-1", types.JobSecret{ID: "sec-db", Operation: types.OperationCreate})
	require.NoError(t, fx.worker.Process(context.Background(), job))

	reserved := fx.reserved(t, "folder-dest", "imp-1")
	assert.True(t, reserved.IsReserved)
	assert.Equal(t, "env-stage", reserved.EnvID)
	assert.Equal(t, "/team/"+types.ReservedFolderName("imp-1"), reserved.Path)

	replica := fx.replica(t, reserved.ID, "bi-db")
	assert.True(t, replica.IsReplicated)
	assert.Equal(t, 1, replica.Version)
	assert.Equal(t, "value-sec-db", replica.ValueCipher.Data)
	assert.NotEqual(t, "sec-db", replica.ID)

	versions, err := fx.store.LatestSecretVersions(reserved.ID, []string{replica.ID})
	require.NoError(t, err)
	require.NotNil(t, versions[replica.ID])
	assert.True(t, versions[replica.ID].IsReplicated)
	assert.Equal(t, 1, versions[replica.ID].LatestReplicatedVersion)

	imp, err := fx.store.GetSecretImport("imp-1")
	require.NoError(t, err)
	assert.True(t, imp.IsReplicationSuccess)
	assert.Empty(t, imp.ReplicationStatus)
	assert.False(t, imp.LastReplicated.IsZero())

	source, err := fx.store.LatestSecretVersions("folder-src", []string{"sec-db"})
	require.NoError(t, err)
	assert.True(t, source["sec-db"].IsReplicated)

	reqs := fx.syncer.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, reserved.ID, reqs[0].FolderID)
	assert.Equal(t, "stage", reqs[0].EnvironmentSlug)
	assert.Equal(t, "/team", reqs[0].SecretPath)
	require.Len(t, reqs[0].Secrets, 1)
	assert.Equal(t, replica.ID, reqs[0].Secrets[0].ID)
	assert.Equal(t, types.OperationCreate, reqs[0].Secrets[0].Operation)

	marked, err := fx.keys.HasMarker(context.Background(), keystore.SuccessKey("job-1", "imp-1"))
	require.NoError(t, err)
	assert.True(t, marked)
}

func TestProcessUpdateWithoutReplicaCreates(t *testing.T) {
	fx := newFixture(t)
	fx.seedWorld(t)
	fx.seedSourceSecret(t, "sec-api", "bi-api")

	job := replicationJob("job-1", types.JobSecret{ID: "sec-api", Operation: types.OperationUpdate})
	require.NoError(t, fx.worker.Process(context.Background(), job))

	reserved := fx.reserved(t, "folder-dest", "imp-1")
	replica := fx.replica(t, reserved.ID, "bi-api")
	assert.Equal(t, 1, replica.Version)

	reqs := fx.syncer.requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Secrets, 1)
	assert.Equal(t, types.OperationCreate, reqs[0].Secrets[0].Operation)
}

func TestProcessCreateOverExistingReplicaUpdates(t *testing.T) {
	fx := newFixture(t)
	fx.seedWorld(t)
	fx.seedSourceSecret(t, "sec-db", "bi-db")

	job := replicationJob("job-1", types.JobSecret{ID: "sec-db", Operation: types.OperationCreate})
	require.NoError(t, fx.worker.Process(context.Background(), job))

	fx.bumpSourceSecret(t, "sec-db", "bi-db", 2)

	job = replicationJob("job-2", types.JobSecret{ID: "sec-db", Operation: types.OperationCreate})
	require.NoError(t, fx.worker.Process(context.Background(), job))

	reserved := fx.reserved(t, "folder-dest", "imp-1")
	replica := fx.replica(t, reserved.ID, "bi-db")
	assert.Equal(t, 2, replica.Version)
	assert.Equal(t, "value-sec-db-v2", replica.ValueCipher.Data)

	history, err := fx.store.ListSecretVersions(replica.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	reqs := fx.syncer.requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[1].Secrets, 1)
	assert.Equal(t, types.OperationUpdate, reqs[1].Secrets[0].Operation)
}

func TestProcessDeleteRemovesReplica(t *testing.T) {
	fx := newFixture(t)
	fx.seedWorld(t)
	fx.seedSourceSecret(t, "sec-db", "bi-db")

	job := replicationJob("job-1", types.JobSecret{ID: "sec-db", Operation: types.OperationCreate})
	require.NoError(t, fx.worker.Process(context.Background(), job))

	reserved := fx.reserved(t, "folder-dest", "imp-1")
	replica := fx.replica(t, reserved.ID, "bi-db")

	// Source deletion keeps version rows around, as the real delete path does
	require.NoError(t, fx.store.Transact(func(tx storage.Tx) error {
		_, err := tx.DeleteSecrets("folder-src", []string{"sec-db"}, false)
		return err
	}))

	job = replicationJob("job-2", types.JobSecret{ID: "sec-db", Operation: types.OperationDelete})
	require.NoError(t, fx.worker.Process(context.Background(), job))

	locals, err := fx.store.SecretsByBlindIndexes(reserved.ID, []string{"bi-db"})
	require.NoError(t, err)
	assert.Empty(t, locals)

	reqs := fx.syncer.requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[1].Secrets, 1)
	assert.Equal(t, replica.ID, reqs[1].Secrets[0].ID)
	assert.Equal(t, types.OperationDelete, reqs[1].Secrets[0].Operation)
	assert.Equal(t, 1, reqs[1].Secrets[0].Version)
}

func TestProcessRoutesGuardedDestinationToApproval(t *testing.T) {
	fx := newFixture(t)
	fx.seedWorld(t)
	fx.seedSourceSecret(t, "sec-db", "bi-db")
	require.NoError(t, fx.store.CreateApprovalPolicy(&types.ApprovalPolicy{
		ID: "pol-1", ProjectID: "proj-1", EnvID: "env-stage", SecretPath: "/team", Name: "Team changes", Approvals: 1,
	}))
	require.NoError(t, fx.store.CreateMembership(&types.Membership{
		ID: "mem-1", ProjectID: "proj-1", UserID: "user-1", Role: "admin",
	}))

	job := replicationJob("job-1", types.JobSecret{ID: "sec-db", Operation: types.OperationCreate})
	job.Actor = types.ActorUser
	job.ActorID = "user-1"
	require.NoError(t, fx.worker.Process(context.Background(), job))

	// The reserved folder exists but holds nothing until the request merges
	reserved := fx.reserved(t, "folder-dest", "imp-1")
	locals, err := fx.store.SecretsByBlindIndexes(reserved.ID, []string{"bi-db"})
	require.NoError(t, err)
	assert.Empty(t, locals)
	assert.Empty(t, fx.syncer.requests())

	requests, err := fx.store.ListApprovalRequests()
	require.NoError(t, err)
	require.Len(t, requests, 1)
	request := requests[0]
	assert.Equal(t, types.ApprovalStatusOpen, request.Status)
	assert.Equal(t, "pol-1", request.PolicyID)
	assert.Equal(t, reserved.ID, request.FolderID)
	assert.Equal(t, "mem-1", request.CommitterID)
	assert.True(t, request.IsReplicated)
	assert.False(t, request.HasMerged)
	assert.NotEmpty(t, request.Slug)

	secrets, err := fx.store.ListApprovalRequestSecrets(request.ID)
	require.NoError(t, err)
	require.Len(t, secrets, 1)
	assert.Equal(t, types.OperationCreate, secrets[0].Op)
	assert.Equal(t, "bi-db", secrets[0].BlindIndex)
	assert.Equal(t, "value-sec-db", secrets[0].ValueCipher.Data)
	assert.Empty(t, secrets[0].SecretID)
	assert.True(t, secrets[0].IsReplicated)

	// The import still counts as replicated and the source is promoted
	imp, err := fx.store.GetSecretImport("imp-1")
	require.NoError(t, err)
	assert.True(t, imp.IsReplicationSuccess)
	source, err := fx.store.LatestSecretVersions("folder-src", []string{"sec-db"})
	require.NoError(t, err)
	assert.True(t, source["sec-db"].IsReplicated)
}

func TestProcessServiceActorBypassesApproval(t *testing.T) {
	fx := newFixture(t)
	fx.seedWorld(t)
	fx.seedSourceSecret(t, "sec-db", "bi-db")
	require.NoError(t, fx.store.CreateApprovalPolicy(&types.ApprovalPolicy{
		ID: "pol-1", ProjectID: "proj-1", EnvID: "env-stage", SecretPath: "/team", Name: "Team changes", Approvals: 1,
	}))

	job := replicationJob("job-1", types.JobSecret{ID: "sec-db", Operation: types.OperationCreate})
	job.Actor = types.ActorService
	job.ActorID = "svc-1"
	require.NoError(t, fx.worker.Process(context.Background(), job))

	reserved := fx.reserved(t, "folder-dest", "imp-1")
	fx.replica(t, reserved.ID, "bi-db")

	requests, err := fx.store.ListApprovalRequests()
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func TestProcessApprovalCarriesLocalVersions(t *testing.T) {
	fx := newFixture(t)
	fx.seedWorld(t)
	fx.seedSourceSecret(t, "sec-db", "bi-db")

	job := replicationJob("job-1", types.JobSecret{ID: "sec-db", Operation: types.OperationCreate})
	require.NoError(t, fx.worker.Process(context.Background(), job))

	reserved := fx.reserved(t, "folder-dest", "imp-1")
	replica := fx.replica(t, reserved.ID, "bi-db")
	versions, err := fx.store.LatestSecretVersions(reserved.ID, []string{replica.ID})
	require.NoError(t, err)
	replicaV1 := versions[replica.ID].ID

	require.NoError(t, fx.store.CreateApprovalPolicy(&types.ApprovalPolicy{
		ID: "pol-1", ProjectID: "proj-1", EnvID: "env-stage", SecretPath: "/team", Name: "Team changes", Approvals: 1,
	}))
	require.NoError(t, fx.store.CreateMembership(&types.Membership{
		ID: "mem-1", ProjectID: "proj-1", UserID: "user-1", Role: "member",
	}))
	fx.bumpSourceSecret(t, "sec-db", "bi-db", 2)

	job = replicationJob("job-2", types.JobSecret{ID: "sec-db", Operation: types.OperationUpdate})
	job.Actor = types.ActorUser
	job.ActorID = "user-1"
	require.NoError(t, fx.worker.Process(context.Background(), job))

	requests, err := fx.store.ListApprovalRequests()
	require.NoError(t, err)
	require.Len(t, requests, 1)
	secrets, err := fx.store.ListApprovalRequestSecrets(requests[0].ID)
	require.NoError(t, err)
	require.Len(t, secrets, 1)
	assert.Equal(t, types.OperationUpdate, secrets[0].Op)
	assert.Equal(t, replica.ID, secrets[0].SecretID)
	assert.Equal(t, replicaV1, secrets[0].SecretVersionID)
	assert.Equal(t, "value-sec-db-v2", secrets[0].ValueCipher.Data)

	// The replica itself stays at version 1
	assert.Equal(t, 1, fx.replica(t, reserved.ID, "bi-db").Version)
}

func TestProcessAbortsWhenMembershipMissing(t *testing.T) {
	fx := newFixture(t)
	fx.seedWorld(t)
	fx.seedSourceSecret(t, "sec-db", "bi-db")
	require.NoError(t, fx.store.CreateApprovalPolicy(&types.ApprovalPolicy{
		ID: "pol-1", ProjectID: "proj-1", EnvID: "env-stage", SecretPath: "/team", Name: "Team changes", Approvals: 1,
	}))

	job := replicationJob("job-1", types.JobSecret{ID: "sec-db", Operation: types.OperationCreate})
	job.Actor = types.ActorUser
	job.ActorID = "user-ghost"
	err := fx.worker.Process(context.Background(), job)
	require.ErrorIs(t, err, ErrMembershipMissing)

	requests, listErr := fx.store.ListApprovalRequests()
	require.NoError(t, listErr)
	assert.Empty(t, requests)

	// The abort leaves the import unstamped and the source unpromoted, so a
	// redelivery starts from scratch
	imp, getErr := fx.store.GetSecretImport("imp-1")
	require.NoError(t, getErr)
	assert.False(t, imp.IsReplicationSuccess)
	assert.True(t, imp.LastReplicated.IsZero())

	source, srcErr := fx.store.LatestSecretVersions("folder-src", []string{"sec-db"})
	require.NoError(t, srcErr)
	assert.False(t, source["sec-db"].IsReplicated)
}

func TestProcessReplaySkipsFinishedImports(t *testing.T) {
	fx := newFixture(t)
	fx.seedWorld(t)
	fx.seedSourceSecret(t, "sec-db", "bi-db")

	job := replicationJob("job-1", types.JobSecret{ID: "sec-db", Operation: types.OperationCreate})
	require.NoError(t, fx.worker.Process(context.Background(), job))
	require.NoError(t, fx.worker.Process(context.Background(), job))

	reserved := fx.reserved(t, "folder-dest", "imp-1")
	replica := fx.replica(t, reserved.ID, "bi-db")
	history, err := fx.store.ListSecretVersions(replica.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Len(t, fx.syncer.requests(), 1)
}

func TestProcessIsolatesImportFailures(t *testing.T) {
	fx := newFixture(t)
	fx.seedWorld(t)
	fx.seedSourceSecret(t, "sec-db", "bi-db")
	// A second subscriber whose destination folder is gone
	require.NoError(t, fx.store.CreateSecretImport(&types.SecretImport{
		ID:            "imp-2",
		FolderID:      "folder-ghost",
		ImportEnvID:   "env-prod",
		ImportPath:    "/app",
		IsReplication: true,
		Position:      2,
	}))

	job := replicationJob("job-1", types.JobSecret{ID: "sec-db", Operation: types.OperationCreate})
	require.NoError(t, fx.worker.Process(context.Background(), job))

	healthy, err := fx.store.GetSecretImport("imp-1")
	require.NoError(t, err)
	assert.True(t, healthy.IsReplicationSuccess)

	broken, err := fx.store.GetSecretImport("imp-2")
	require.NoError(t, err)
	assert.False(t, broken.IsReplicationSuccess)
	assert.Equal(t, ErrImportedFolderMissing.Error(), broken.ReplicationStatus)
	assert.False(t, broken.LastReplicated.IsZero())

	// Source versions are promoted even though one import failed
	source, err := fx.store.LatestSecretVersions("folder-src", []string{"sec-db"})
	require.NoError(t, err)
	assert.True(t, source["sec-db"].IsReplicated)
}

type flakyStore struct {
	storage.Store
	err error
}

func (s *flakyStore) Transact(fn func(tx storage.Tx) error) error {
	if s.err != nil {
		return s.err
	}
	return s.Store.Transact(fn)
}

func TestProcessRecordsTransactionFailures(t *testing.T) {
	fx := newFixture(t)
	fx.seedWorld(t)
	fx.seedSourceSecret(t, "sec-db", "bi-db")

	job := replicationJob("job-1", types.JobSecret{ID: "sec-db", Operation: types.OperationCreate})
	require.NoError(t, fx.worker.Process(context.Background(), job))

	fx.bumpSourceSecret(t, "sec-db", "bi-db", 2)
	flaky := &flakyStore{Store: fx.store, err: errors.New(strings.Repeat("x", 600))}
	worker := NewWorker(flaky, fx.keys, approval.NewStoreOracle(fx.store), fx.syncer, fx.broker)

	job = replicationJob("job-2", types.JobSecret{ID: "sec-db", Operation: types.OperationUpdate})
	require.NoError(t, worker.Process(context.Background(), job))

	imp, err := fx.store.GetSecretImport("imp-1")
	require.NoError(t, err)
	assert.False(t, imp.IsReplicationSuccess)
	assert.Len(t, imp.ReplicationStatus, 500)

	// No success marker for the failed import, so a redelivery retries it
	marked, err := fx.keys.HasMarker(context.Background(), keystore.SuccessKey("job-2", "imp-1"))
	require.NoError(t, err)
	assert.False(t, marked)

	// The source version is promoted regardless
	source, err := fx.store.LatestSecretVersions("folder-src", []string{"sec-db"})
	require.NoError(t, err)
	assert.True(t, source["sec-db"].IsReplicated)

	// The replica still holds the previous value
	reserved := fx.reserved(t, "folder-dest", "imp-1")
	assert.Equal(t, "value-sec-db", fx.replica(t, reserved.ID, "bi-db").ValueCipher.Data)
}

func TestProcessFailsWhenSourceSecretsLocked(t *testing.T) {
	fx := newFixture(t)
	fx.seedWorld(t)
	fx.seedSourceSecret(t, "sec-db", "bi-db")

	held := keystore.CreateLockKeys([]string{"sec-db"})
	ok, err := fx.keys.Lock(context.Background(), time.Minute, held)
	require.NoError(t, err)
	require.True(t, ok)

	job := replicationJob("job-1", types.JobSecret{ID: "sec-db", Operation: types.OperationCreate})
	err = fx.worker.Process(context.Background(), job)
	require.ErrorIs(t, err, keystore.ErrLockUnavailable)

	// Nothing was written: no reserved folder, no stamp, no promotion
	_, err = fx.store.GetFolderByName("folder-dest", types.ReservedFolderName("imp-1"))
	require.ErrorIs(t, err, storage.ErrNotFound)

	imp, err := fx.store.GetSecretImport("imp-1")
	require.NoError(t, err)
	assert.True(t, imp.LastReplicated.IsZero())

	source, err := fx.store.LatestSecretVersions("folder-src", []string{"sec-db"})
	require.NoError(t, err)
	assert.False(t, source["sec-db"].IsReplicated)
	assert.Empty(t, fx.syncer.requests())
}

func TestProcessSkipsIneligibleSecrets(t *testing.T) {
	fx := newFixture(t)
	fx.seedWorld(t)
	fx.seedSourceSecret(t, "sec-ok", "bi-ok")
	fx.seedSourceSecret(t, "sec-noindex", "")
	now := time.Now()
	require.NoError(t, fx.store.Transact(func(tx storage.Tx) error {
		return tx.CreateSecret(
			&types.Secret{ID: "sec-personal", FolderID: "folder-src", BlindIndex: "bi-personal", Type: types.SecretPersonal, Version: 1, CreatedAt: now, UpdatedAt: now},
			&types.SecretVersion{ID: "sec-personal-v1", SecretID: "sec-personal", FolderID: "folder-src", Version: 1, BlindIndex: "bi-personal", Type: types.SecretPersonal, CreatedAt: now},
		)
	}))

	job := replicationJob("job-1",
		types.JobSecret{ID: "sec-ok", Operation: types.OperationCreate},
		types.JobSecret{ID: "sec-noindex", Operation: types.OperationCreate},
		types.JobSecret{ID: "sec-personal", Operation: types.OperationCreate},
		types.JobSecret{ID: "sec-ghost", Operation: types.OperationCreate},
	)
	require.NoError(t, fx.worker.Process(context.Background(), job))

	reserved := fx.reserved(t, "folder-dest", "imp-1")
	fx.replica(t, reserved.ID, "bi-ok")
	locals, err := fx.store.SecretsByBlindIndexes(reserved.ID, []string{"bi-personal"})
	require.NoError(t, err)
	assert.Empty(t, locals)

	// Only the replicated version is promoted
	source, err := fx.store.LatestSecretVersions("folder-src", []string{"sec-ok", "sec-noindex", "sec-personal"})
	require.NoError(t, err)
	assert.True(t, source["sec-ok"].IsReplicated)
	assert.False(t, source["sec-noindex"].IsReplicated)
	assert.False(t, source["sec-personal"].IsReplicated)
}

func TestProcessHonorsPickList(t *testing.T) {
	fx := newFixture(t)
	fx.seedWorld(t)
	fx.seedSourceSecret(t, "sec-db", "bi-db")
	require.NoError(t, fx.store.CreateFolder(&types.Folder{ID: "folder-dest2", EnvID: "env-stage", Path: "/ops", Name: "ops"}))
	require.NoError(t, fx.store.CreateSecretImport(&types.SecretImport{
		ID:            "imp-2",
		FolderID:      "folder-dest2",
		ImportEnvID:   "env-prod",
		ImportPath:    "/app",
		IsReplication: true,
		Position:      2,
	}))

	job := replicationJob("job-1", types.JobSecret{ID: "sec-db", Operation: types.OperationCreate})
	job.PickOnlyImportIDs = []string{"imp-2"}
	require.NoError(t, fx.worker.Process(context.Background(), job))

	picked, err := fx.store.GetSecretImport("imp-2")
	require.NoError(t, err)
	assert.True(t, picked.IsReplicationSuccess)

	skipped, err := fx.store.GetSecretImport("imp-1")
	require.NoError(t, err)
	assert.True(t, skipped.LastReplicated.IsZero())
	_, err = fx.store.GetFolderByName("folder-dest", types.ReservedFolderName("imp-1"))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProcessWithoutSubscribersIsNoop(t *testing.T) {
	fx := newFixture(t)
	fx.seedWorld(t)
	fx.seedSourceSecret(t, "sec-db", "bi-db")

	job := replicationJob("job-1", types.JobSecret{ID: "sec-db", Operation: types.OperationCreate})
	job.SecretPath = "/other"
	require.NoError(t, fx.worker.Process(context.Background(), job))

	assert.Empty(t, fx.syncer.requests())
	source, err := fx.store.LatestSecretVersions("folder-src", []string{"sec-db"})
	require.NoError(t, err)
	assert.False(t, source["sec-db"].IsReplicated)
}

func TestHandleAssignsQueueJobID(t *testing.T) {
	fx := newFixture(t)
	fx.seedWorld(t)
	fx.seedSourceSecret(t, "sec-db", "bi-db")

	job := replicationJob("", types.JobSecret{ID: "sec-db", Operation: types.OperationCreate})
	payload, err := json.Marshal(job)
	require.NoError(t, err)
	require.NoError(t, fx.worker.Handle(context.Background(), "job-from-queue", payload))

	marked, err := fx.keys.HasMarker(context.Background(), keystore.SuccessKey("job-from-queue", "imp-1"))
	require.NoError(t, err)
	assert.True(t, marked)
}

func TestEligible(t *testing.T) {
	tests := []struct {
		name string
		v    *types.SecretVersion
		want bool
	}{
		{"first version", &types.SecretVersion{BlindIndex: "bi", Type: types.SecretShared, Version: 1}, true},
		{"unreplicated later version", &types.SecretVersion{BlindIndex: "bi", Type: types.SecretShared, Version: 3}, true},
		{"at the watermark", &types.SecretVersion{BlindIndex: "bi", Type: types.SecretShared, Version: 2, LatestReplicatedVersion: 2}, true},
		{"behind the watermark", &types.SecretVersion{BlindIndex: "bi", Type: types.SecretShared, Version: 2, LatestReplicatedVersion: 3}, false},
		{"no blind index", &types.SecretVersion{Type: types.SecretShared, Version: 1}, false},
		{"personal override", &types.SecretVersion{BlindIndex: "bi", Type: types.SecretPersonal, Version: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eligible(tt.v))
		})
	}
}

func TestResyncEnqueuesFullFolderJob(t *testing.T) {
	fx := newFixture(t)
	fx.seedWorld(t)
	fx.seedSourceSecret(t, "sec-db", "bi-db")
	fx.seedSourceSecret(t, "sec-api", "bi-api")

	rt := queue.NewRuntime(fx.rdb, fx.broker, queue.DefaultConfig())
	fx.worker.Attach(rt)
	t.Cleanup(fx.worker.Stop)

	require.NoError(t, fx.worker.Resync(context.Background(), "imp-1"))

	msgs, err := fx.rdb.XRange(context.Background(), queue.QueueSecretReplication, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var job types.ReplicationJob
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["body"].(string)), &job))
	assert.Equal(t, msgs[0].Values["job_id"], job.ID)
	assert.Equal(t, []string{"imp-1"}, job.PickOnlyImportIDs)
	assert.Equal(t, "folder-src", job.FolderID)
	assert.Equal(t, "/app", job.SecretPath)
	assert.Equal(t, "proj-1", job.ProjectID)
	assert.Equal(t, types.ActorPlatform, job.Actor)
	require.Len(t, job.Secrets, 2)
	for _, s := range job.Secrets {
		assert.Equal(t, types.OperationUpdate, s.Operation)
	}
}

func TestResyncRequiresAttachedRuntime(t *testing.T) {
	fx := newFixture(t)
	fx.seedWorld(t)

	err := fx.worker.Resync(context.Background(), "imp-1")
	require.Error(t, err)

	rt := queue.NewRuntime(fx.rdb, fx.broker, queue.DefaultConfig())
	fx.worker.Attach(rt)
	t.Cleanup(fx.worker.Stop)

	err = fx.worker.Resync(context.Background(), "imp-ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
