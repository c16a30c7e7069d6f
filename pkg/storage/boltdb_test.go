package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cofferhq/coffer/pkg/types"
)

func testStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestFolderNameUniqueness(t *testing.T) {
	store := testStore(t)

	err := store.CreateFolder(&types.Folder{
		ID:    "folder-parent",
		EnvID: "env-1",
		Path:  "/app",
		Name:  "app",
	})
	assert.NoError(t, err)

	// First child claims the name slot
	err = store.CreateFolder(&types.Folder{
		ID:       "folder-child-1",
		EnvID:    "env-1",
		ParentID: "folder-parent",
		Path:     "/app/db",
		Name:     "db",
	})
	assert.NoError(t, err)

	// Second child with the same name must be rejected
	err = store.CreateFolder(&types.Folder{
		ID:       "folder-child-2",
		EnvID:    "env-1",
		ParentID: "folder-parent",
		Path:     "/app/db",
		Name:     "db",
	})
	assert.Error(t, err)

	// The rejected folder left no row behind
	_, err = store.GetFolder("folder-child-2")
	assert.True(t, errors.Is(err, ErrNotFound))

	folder, err := store.GetFolderByName("folder-parent", "db")
	assert.NoError(t, err)
	assert.Equal(t, "folder-child-1", folder.ID)
}

func TestReservedFolderNameRace(t *testing.T) {
	store := testStore(t)

	err := store.CreateFolder(&types.Folder{
		ID:    "folder-dest",
		EnvID: "env-1",
		Path:  "/imported",
		Name:  "imported",
	})
	assert.NoError(t, err)

	name := types.ReservedFolderName("import-1")

	// Two replication attempts racing to create the same reserved folder:
	// exactly one wins, the loser falls back to lookup
	err = store.CreateFolder(&types.Folder{
		ID:         "folder-reserved-a",
		EnvID:      "env-1",
		ParentID:   "folder-dest",
		Path:       "/imported/" + name,
		Name:       name,
		IsReserved: true,
	})
	assert.NoError(t, err)

	err = store.CreateFolder(&types.Folder{
		ID:         "folder-reserved-b",
		EnvID:      "env-1",
		ParentID:   "folder-dest",
		Path:       "/imported/" + name,
		Name:       name,
		IsReserved: true,
	})
	assert.Error(t, err)

	folder, err := store.GetFolderByName("folder-dest", name)
	assert.NoError(t, err)
	assert.Equal(t, "folder-reserved-a", folder.ID)
	assert.True(t, folder.IsReserved)
}

func TestBlindIndexUniqueness(t *testing.T) {
	store := testStore(t)

	err := store.Transact(func(tx Tx) error {
		return tx.CreateSecret(
			&types.Secret{ID: "secret-1", FolderID: "folder-1", BlindIndex: "bi-db-pass", Type: types.SecretShared, Version: 1},
			&types.SecretVersion{ID: "version-1", SecretID: "secret-1", FolderID: "folder-1", Version: 1},
		)
	})
	assert.NoError(t, err)

	// Same blind index in the same folder is rejected
	err = store.Transact(func(tx Tx) error {
		return tx.CreateSecret(
			&types.Secret{ID: "secret-2", FolderID: "folder-1", BlindIndex: "bi-db-pass", Type: types.SecretShared, Version: 1},
			&types.SecretVersion{ID: "version-2", SecretID: "secret-2", FolderID: "folder-1", Version: 1},
		)
	})
	assert.Error(t, err)

	// Same blind index in another folder is fine
	err = store.Transact(func(tx Tx) error {
		return tx.CreateSecret(
			&types.Secret{ID: "secret-3", FolderID: "folder-2", BlindIndex: "bi-db-pass", Type: types.SecretShared, Version: 1},
			&types.SecretVersion{ID: "version-3", SecretID: "secret-3", FolderID: "folder-2", Version: 1},
		)
	})
	assert.NoError(t, err)

	locals, err := store.SecretsByBlindIndexes("folder-1", []string{"bi-db-pass", "bi-missing", ""})
	assert.NoError(t, err)
	assert.Len(t, locals, 1)
	assert.Equal(t, "secret-1", locals["bi-db-pass"].ID)
}

func TestTransactRollback(t *testing.T) {
	store := testStore(t)

	boom := errors.New("boom")
	err := store.Transact(func(tx Tx) error {
		if err := tx.CreateSecret(
			&types.Secret{ID: "secret-1", FolderID: "folder-1", BlindIndex: "bi-1", Type: types.SecretShared, Version: 1},
			&types.SecretVersion{ID: "version-1", SecretID: "secret-1", FolderID: "folder-1", Version: 1},
		); err != nil {
			return err
		}
		if err := tx.CreateFolder(&types.Folder{
			ID:       "folder-x",
			EnvID:    "env-1",
			ParentID: "folder-1",
			Name:     "x",
			Path:     "/x",
		}); err != nil {
			return err
		}
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	// Every write in the failed transaction rolled back
	secrets, err := store.ListSecrets("folder-1")
	assert.NoError(t, err)
	assert.Empty(t, secrets)

	_, err = store.GetFolder("folder-x")
	assert.True(t, errors.Is(err, ErrNotFound))

	// The blind index slot was released too
	err = store.Transact(func(tx Tx) error {
		return tx.CreateSecret(
			&types.Secret{ID: "secret-2", FolderID: "folder-1", BlindIndex: "bi-1", Type: types.SecretShared, Version: 1},
			&types.SecretVersion{ID: "version-2", SecretID: "secret-2", FolderID: "folder-1", Version: 1},
		)
	})
	assert.NoError(t, err)
}

func TestFolderPathResolution(t *testing.T) {
	store := testStore(t)

	err := store.CreateEnvironment(&types.Environment{
		ID:        "env-staging",
		ProjectID: "project-1",
		Slug:      "staging",
		Name:      "Staging",
	})
	assert.NoError(t, err)

	err = store.CreateFolder(&types.Folder{
		ID:    "folder-db",
		EnvID: "env-staging",
		Path:  "/app/db",
		Name:  "db",
	})
	assert.NoError(t, err)

	ref, err := store.FolderPath("project-1", "folder-db")
	assert.NoError(t, err)
	assert.Equal(t, "env-staging", ref.EnvID)
	assert.Equal(t, "staging", ref.EnvSlug)
	assert.Equal(t, "/app/db", ref.Path)

	// Folder from another project is reported as missing
	_, err = store.FolderPath("project-2", "folder-db")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = store.FolderPath("project-1", "folder-gone")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLatestSecretVersions(t *testing.T) {
	store := testStore(t)

	err := store.Transact(func(tx Tx) error {
		return tx.CreateSecret(
			&types.Secret{ID: "secret-1", FolderID: "folder-1", BlindIndex: "bi-1", Type: types.SecretShared, Version: 1},
			&types.SecretVersion{ID: "version-1", SecretID: "secret-1", FolderID: "folder-1", Version: 1, BlindIndex: "bi-1"},
		)
	})
	assert.NoError(t, err)

	err = store.Transact(func(tx Tx) error {
		return tx.UpdateSecret(
			&types.Secret{ID: "secret-1", FolderID: "folder-1", BlindIndex: "bi-1", Type: types.SecretShared, Version: 2},
			&types.SecretVersion{ID: "version-2", SecretID: "secret-1", FolderID: "folder-1", Version: 2, BlindIndex: "bi-1"},
		)
	})
	assert.NoError(t, err)

	versions, err := store.LatestSecretVersions("folder-1", []string{"secret-1", "secret-unknown"})
	assert.NoError(t, err)
	assert.Len(t, versions, 1)
	assert.Equal(t, "version-2", versions["secret-1"].ID)
	assert.Equal(t, 2, versions["secret-1"].Version)

	// A folder mismatch hides the secret
	versions, err = store.LatestSecretVersions("folder-other", []string{"secret-1"})
	assert.NoError(t, err)
	assert.Empty(t, versions)

	history, err := store.ListSecretVersions("secret-1")
	assert.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Version)
	assert.Equal(t, 2, history[1].Version)
}

func TestMarkVersionsReplicated(t *testing.T) {
	store := testStore(t)

	err := store.Transact(func(tx Tx) error {
		return tx.CreateSecret(
			&types.Secret{ID: "secret-1", FolderID: "folder-1", BlindIndex: "bi-1", Type: types.SecretShared, Version: 3},
			&types.SecretVersion{ID: "version-3", SecretID: "secret-1", FolderID: "folder-1", Version: 3, BlindIndex: "bi-1"},
		)
	})
	assert.NoError(t, err)

	err = store.MarkVersionsReplicated([]string{"version-3"})
	assert.NoError(t, err)

	versions, err := store.LatestSecretVersions("folder-1", []string{"secret-1"})
	assert.NoError(t, err)
	assert.True(t, versions["secret-1"].IsReplicated)
	assert.Equal(t, 3, versions["secret-1"].LatestReplicatedVersion)

	err = store.MarkVersionsReplicated([]string{"version-gone"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteSecretsReplicatedOnly(t *testing.T) {
	store := testStore(t)

	err := store.Transact(func(tx Tx) error {
		if err := tx.CreateSecret(
			&types.Secret{ID: "secret-replica", FolderID: "folder-1", BlindIndex: "bi-replica", Type: types.SecretShared, Version: 1, IsReplicated: true},
			&types.SecretVersion{ID: "version-r", SecretID: "secret-replica", FolderID: "folder-1", Version: 1, BlindIndex: "bi-replica"},
		); err != nil {
			return err
		}
		return tx.CreateSecret(
			&types.Secret{ID: "secret-manual", FolderID: "folder-1", BlindIndex: "bi-manual", Type: types.SecretShared, Version: 1},
			&types.SecretVersion{ID: "version-m", SecretID: "secret-manual", FolderID: "folder-1", Version: 1, BlindIndex: "bi-manual"},
		)
	})
	assert.NoError(t, err)

	var deleted int
	err = store.Transact(func(tx Tx) error {
		var err error
		deleted, err = tx.DeleteSecrets("folder-1", []string{"secret-replica", "secret-manual", "secret-gone"}, true)
		return err
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, deleted, "Only the replicated row should be deleted")

	secrets, err := store.ListSecrets("folder-1")
	assert.NoError(t, err)
	assert.Len(t, secrets, 1)
	assert.Equal(t, "secret-manual", secrets[0].ID)

	// The deleted secret released its blind index slot, history survives
	locals, err := store.SecretsByBlindIndexes("folder-1", []string{"bi-replica", "bi-manual"})
	assert.NoError(t, err)
	assert.Len(t, locals, 1)

	history, err := store.ListSecretVersions("secret-replica")
	assert.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestReplicationImportsBySource(t *testing.T) {
	store := testStore(t)

	imports := []*types.SecretImport{
		{ID: "import-2", FolderID: "folder-b", ImportEnvID: "env-src", ImportPath: "/app", IsReplication: true, Position: 2},
		{ID: "import-1", FolderID: "folder-a", ImportEnvID: "env-src", ImportPath: "/app", IsReplication: true, Position: 1},
		{ID: "import-plain", FolderID: "folder-c", ImportEnvID: "env-src", ImportPath: "/app", IsReplication: false, Position: 3},
		{ID: "import-other", FolderID: "folder-d", ImportEnvID: "env-src", ImportPath: "/other", IsReplication: true, Position: 4},
	}
	for _, imp := range imports {
		assert.NoError(t, store.CreateSecretImport(imp))
	}

	subscribers, err := store.ReplicationImportsBySource("env-src", "/app")
	assert.NoError(t, err)
	assert.Len(t, subscribers, 2, "Plain and foreign imports should be filtered out")
	assert.Equal(t, "import-1", subscribers[0].ID)
	assert.Equal(t, "import-2", subscribers[1].ID)

	all, err := store.ListReplicationImports()
	assert.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestUpdateImportStatus(t *testing.T) {
	store := testStore(t)

	err := store.CreateSecretImport(&types.SecretImport{
		ID:            "import-1",
		FolderID:      "folder-1",
		ImportEnvID:   "env-src",
		ImportPath:    "/app",
		IsReplication: true,
	})
	assert.NoError(t, err)

	before := time.Now()
	err = store.UpdateImportStatus("import-1", "failed to resolve destination folder", false)
	assert.NoError(t, err)

	imp, err := store.GetSecretImport("import-1")
	assert.NoError(t, err)
	assert.Equal(t, "failed to resolve destination folder", imp.ReplicationStatus)
	assert.False(t, imp.IsReplicationSuccess)
	assert.False(t, imp.LastReplicated.Before(before), "LastReplicated should be stamped")

	err = store.UpdateImportStatus("import-1", "", true)
	assert.NoError(t, err)

	imp, err = store.GetSecretImport("import-1")
	assert.NoError(t, err)
	assert.Empty(t, imp.ReplicationStatus)
	assert.True(t, imp.IsReplicationSuccess)

	err = store.UpdateImportStatus("import-gone", "", true)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMembershipLookup(t *testing.T) {
	store := testStore(t)

	err := store.CreateMembership(&types.Membership{
		ID:        "member-1",
		ProjectID: "project-1",
		UserID:    "user-1",
		Role:      "admin",
	})
	assert.NoError(t, err)

	m, err := store.Membership("project-1", "user-1")
	assert.NoError(t, err)
	assert.Equal(t, "member-1", m.ID)

	_, err = store.Membership("project-2", "user-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}
