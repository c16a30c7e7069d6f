package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cofferhq/coffer/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketEnvironments     = []byte("environments")
	bucketFolders          = []byte("folders")
	bucketFolderNames      = []byte("folder_names")
	bucketSecrets          = []byte("secrets")
	bucketSecretIndexes    = []byte("secret_indexes")
	bucketSecretVersions   = []byte("secret_versions")
	bucketSecretVersionIDs = []byte("secret_version_ids")
	bucketSecretReferences = []byte("secret_references")
	bucketSecretImports    = []byte("secret_imports")
	bucketApprovalPolicies = []byte("approval_policies")
	bucketApprovalRequests = []byte("approval_requests")
	bucketApprovalSecrets  = []byte("approval_request_secrets")
	bucketMemberships      = []byte("memberships")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "coffer.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketEnvironments,
			bucketFolders,
			bucketFolderNames,
			bucketSecrets,
			bucketSecretIndexes,
			bucketSecretVersions,
			bucketSecretVersionIDs,
			bucketSecretReferences,
			bucketSecretImports,
			bucketApprovalPolicies,
			bucketApprovalRequests,
			bucketApprovalSecrets,
			bucketMemberships,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Environment operations
func (s *BoltStore) CreateEnvironment(env *types.Environment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEnvironments)
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		return b.Put([]byte(env.ID), data)
	})
}

func (s *BoltStore) GetEnvironment(id string) (*types.Environment, error) {
	var env types.Environment
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEnvironments)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: environment %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &env)
	})
	return &env, err
}

func (s *BoltStore) GetEnvironmentBySlug(projectID, slug string) (*types.Environment, error) {
	var found *types.Environment
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEnvironments)
		return b.ForEach(func(k, v []byte) error {
			var env types.Environment
			if err := json.Unmarshal(v, &env); err != nil {
				return err
			}
			if env.ProjectID == projectID && env.Slug == slug {
				found = &env
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: environment %s in project %s", ErrNotFound, slug, projectID)
	}
	return found, nil
}

func (s *BoltStore) ListEnvironments(projectID string) ([]*types.Environment, error) {
	var envs []*types.Environment
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEnvironments)
		return b.ForEach(func(k, v []byte) error {
			var env types.Environment
			if err := json.Unmarshal(v, &env); err != nil {
				return err
			}
			if env.ProjectID == projectID {
				envs = append(envs, &env)
			}
			return nil
		})
	})
	return envs, err
}

// Folder operations
func (s *BoltStore) CreateFolder(folder *types.Folder) error {
	return s.Transact(func(tx Tx) error {
		return tx.CreateFolder(folder)
	})
}

func (s *BoltStore) GetFolder(id string) (*types.Folder, error) {
	var folder types.Folder
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFolders)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: folder %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &folder)
	})
	return &folder, err
}

func (s *BoltStore) GetFolderByName(parentID, name string) (*types.Folder, error) {
	var folder types.Folder
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketFolderNames).Get(nameKey(parentID, name))
		if id == nil {
			return fmt.Errorf("%w: folder %s under %s", ErrNotFound, name, parentID)
		}
		data := tx.Bucket(bucketFolders).Get(id)
		if data == nil {
			return fmt.Errorf("%w: folder %s", ErrNotFound, string(id))
		}
		return json.Unmarshal(data, &folder)
	})
	return &folder, err
}

func (s *BoltStore) GetFolderByPath(envID, path string) (*types.Folder, error) {
	var found *types.Folder
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFolders)
		return b.ForEach(func(k, v []byte) error {
			var folder types.Folder
			if err := json.Unmarshal(v, &folder); err != nil {
				return err
			}
			if folder.EnvID == envID && folder.Path == path {
				found = &folder
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: folder %s in environment %s", ErrNotFound, path, envID)
	}
	return found, nil
}

// FolderPath resolves a folder id to its environment and full path. A folder
// whose environment belongs to a different project is reported as missing.
func (s *BoltStore) FolderPath(projectID, folderID string) (*types.FolderRef, error) {
	var ref types.FolderRef
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFolders).Get([]byte(folderID))
		if data == nil {
			return fmt.Errorf("%w: folder %s", ErrNotFound, folderID)
		}
		var folder types.Folder
		if err := json.Unmarshal(data, &folder); err != nil {
			return err
		}
		data = tx.Bucket(bucketEnvironments).Get([]byte(folder.EnvID))
		if data == nil {
			return fmt.Errorf("%w: environment %s", ErrNotFound, folder.EnvID)
		}
		var env types.Environment
		if err := json.Unmarshal(data, &env); err != nil {
			return err
		}
		if env.ProjectID != projectID {
			return fmt.Errorf("%w: folder %s in project %s", ErrNotFound, folderID, projectID)
		}
		ref = types.FolderRef{
			FolderID: folder.ID,
			EnvID:    env.ID,
			EnvSlug:  env.Slug,
			Path:     folder.Path,
		}
		return nil
	})
	return &ref, err
}

// Secret operations
func (s *BoltStore) ListSecrets(folderID string) ([]*types.Secret, error) {
	var secrets []*types.Secret
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSecrets).Cursor()
		prefix := []byte(folderID + "/")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var secret types.Secret
			if err := json.Unmarshal(v, &secret); err != nil {
				return err
			}
			secrets = append(secrets, &secret)
		}
		return nil
	})
	return secrets, err
}

// SecretsByBlindIndexes retrieves a folder's shared secrets keyed by blind
// index. Indexes with no matching secret are absent from the result.
func (s *BoltStore) SecretsByBlindIndexes(folderID string, indexes []string) (map[string]*types.Secret, error) {
	result := make(map[string]*types.Secret)
	err := s.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketSecretIndexes)
		b := tx.Bucket(bucketSecrets)
		for _, blindIndex := range indexes {
			if blindIndex == "" {
				continue
			}
			id := idx.Get(indexKey(folderID, blindIndex))
			if id == nil {
				continue
			}
			data := b.Get(secretKey(folderID, string(id)))
			if data == nil {
				continue
			}
			var secret types.Secret
			if err := json.Unmarshal(data, &secret); err != nil {
				return err
			}
			result[blindIndex] = &secret
		}
		return nil
	})
	return result, err
}

// Secret version operations

// LatestSecretVersions returns the newest version row of each secret, keyed
// by secret id. Secrets whose latest row lives in a different folder are
// skipped.
func (s *BoltStore) LatestSecretVersions(folderID string, secretIDs []string) (map[string]*types.SecretVersion, error) {
	result := make(map[string]*types.SecretVersion)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSecretVersions).Cursor()
		for _, secretID := range secretIDs {
			prefix := []byte(secretID + "/")
			var last []byte
			for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
				last = v
			}
			if last == nil {
				continue
			}
			var version types.SecretVersion
			if err := json.Unmarshal(last, &version); err != nil {
				return err
			}
			if version.FolderID != folderID {
				continue
			}
			result[secretID] = &version
		}
		return nil
	})
	return result, err
}

func (s *BoltStore) ListSecretVersions(secretID string) ([]*types.SecretVersion, error) {
	var versions []*types.SecretVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSecretVersions).Cursor()
		prefix := []byte(secretID + "/")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var version types.SecretVersion
			if err := json.Unmarshal(v, &version); err != nil {
				return err
			}
			versions = append(versions, &version)
		}
		return nil
	})
	return versions, err
}

// MarkVersionsReplicated flags version rows as propagated and advances their
// replication watermark to their own version number.
func (s *BoltStore) MarkVersionsReplicated(versionIDs []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		ids := tx.Bucket(bucketSecretVersionIDs)
		b := tx.Bucket(bucketSecretVersions)
		for _, versionID := range versionIDs {
			key := ids.Get([]byte(versionID))
			if key == nil {
				return fmt.Errorf("%w: secret version %s", ErrNotFound, versionID)
			}
			data := b.Get(key)
			if data == nil {
				return fmt.Errorf("%w: secret version %s", ErrNotFound, versionID)
			}
			var version types.SecretVersion
			if err := json.Unmarshal(data, &version); err != nil {
				return err
			}
			version.IsReplicated = true
			version.LatestReplicatedVersion = version.Version
			data, err := json.Marshal(&version)
			if err != nil {
				return err
			}
			if err := b.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Secret import operations
func (s *BoltStore) CreateSecretImport(imp *types.SecretImport) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecretImports)
		data, err := json.Marshal(imp)
		if err != nil {
			return err
		}
		return b.Put([]byte(imp.ID), data)
	})
}

func (s *BoltStore) GetSecretImport(id string) (*types.SecretImport, error) {
	var imp types.SecretImport
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecretImports)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: secret import %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &imp)
	})
	return &imp, err
}

func (s *BoltStore) ListReplicationImports() ([]*types.SecretImport, error) {
	var imports []*types.SecretImport
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecretImports)
		return b.ForEach(func(k, v []byte) error {
			var imp types.SecretImport
			if err := json.Unmarshal(v, &imp); err != nil {
				return err
			}
			if imp.IsReplication {
				imports = append(imports, &imp)
			}
			return nil
		})
	})
	return imports, err
}

// ReplicationImportsBySource returns the replication-enabled imports
// subscribed to a source location, ordered by position.
func (s *BoltStore) ReplicationImportsBySource(envID, path string) ([]*types.SecretImport, error) {
	var imports []*types.SecretImport
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecretImports)
		return b.ForEach(func(k, v []byte) error {
			var imp types.SecretImport
			if err := json.Unmarshal(v, &imp); err != nil {
				return err
			}
			if imp.IsReplication && imp.ImportEnvID == envID && imp.ImportPath == path {
				imports = append(imports, &imp)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(imports, func(i, j int) bool {
		return imports[i].Position < imports[j].Position
	})
	return imports, nil
}

// UpdateImportStatus records the outcome of the latest replication attempt
// against an import and stamps its replication time.
func (s *BoltStore) UpdateImportStatus(importID, status string, ok bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecretImports)
		data := b.Get([]byte(importID))
		if data == nil {
			return fmt.Errorf("%w: secret import %s", ErrNotFound, importID)
		}
		var imp types.SecretImport
		if err := json.Unmarshal(data, &imp); err != nil {
			return err
		}
		now := time.Now()
		imp.ReplicationStatus = status
		imp.IsReplicationSuccess = ok
		imp.LastReplicated = now
		imp.UpdatedAt = now
		data, err := json.Marshal(&imp)
		if err != nil {
			return err
		}
		return b.Put([]byte(importID), data)
	})
}

// --- Approvals ---

func (s *BoltStore) CreateApprovalPolicy(policy *types.ApprovalPolicy) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApprovalPolicies)
		data, err := json.Marshal(policy)
		if err != nil {
			return err
		}
		return b.Put([]byte(policy.ID), data)
	})
}

func (s *BoltStore) PoliciesByEnv(projectID, envID string) ([]*types.ApprovalPolicy, error) {
	var policies []*types.ApprovalPolicy
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApprovalPolicies)
		return b.ForEach(func(k, v []byte) error {
			var policy types.ApprovalPolicy
			if err := json.Unmarshal(v, &policy); err != nil {
				return err
			}
			if policy.ProjectID == projectID && policy.EnvID == envID {
				policies = append(policies, &policy)
			}
			return nil
		})
	})
	return policies, err
}

func (s *BoltStore) ListApprovalRequests() ([]*types.ApprovalRequest, error) {
	var requests []*types.ApprovalRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApprovalRequests)
		return b.ForEach(func(k, v []byte) error {
			var req types.ApprovalRequest
			if err := json.Unmarshal(v, &req); err != nil {
				return err
			}
			requests = append(requests, &req)
			return nil
		})
	})
	return requests, err
}

func (s *BoltStore) ListApprovalRequestSecrets(requestID string) ([]*types.ApprovalRequestSecret, error) {
	var secrets []*types.ApprovalRequestSecret
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketApprovalSecrets).Cursor()
		prefix := []byte(requestID + "/")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var secret types.ApprovalRequestSecret
			if err := json.Unmarshal(v, &secret); err != nil {
				return err
			}
			secrets = append(secrets, &secret)
		}
		return nil
	})
	return secrets, err
}

// --- Memberships ---

func (s *BoltStore) CreateMembership(m *types.Membership) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMemberships)
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return b.Put(membershipKey(m.ProjectID, m.UserID), data)
	})
}

func (s *BoltStore) Membership(projectID, userID string) (*types.Membership, error) {
	var m types.Membership
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMemberships)
		data := b.Get(membershipKey(projectID, userID))
		if data == nil {
			return fmt.Errorf("%w: membership of %s in project %s", ErrNotFound, userID, projectID)
		}
		return json.Unmarshal(data, &m)
	})
	return &m, err
}

// --- Transactions ---

// Transact runs fn inside one write transaction. Any error from fn rolls
// back every write made through the Tx.
func (s *BoltStore) Transact(fn func(tx Tx) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&boltTx{tx: btx})
	})
}

// boltTx implements Tx on top of an open bolt write transaction
type boltTx struct {
	tx *bolt.Tx
}

// CreateFolder inserts a folder. Folders with a parent claim their
// (parentID, name) slot; environment roots are not name-indexed.
func (t *boltTx) CreateFolder(folder *types.Folder) error {
	if folder.ParentID != "" {
		names := t.tx.Bucket(bucketFolderNames)
		key := nameKey(folder.ParentID, folder.Name)
		if names.Get(key) != nil {
			return fmt.Errorf("folder %s already exists under %s", folder.Name, folder.ParentID)
		}
		if err := names.Put(key, []byte(folder.ID)); err != nil {
			return err
		}
	}
	data, err := json.Marshal(folder)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketFolders).Put([]byte(folder.ID), data)
}

// CreateSecret inserts a secret and its initial version row. Shared secrets
// claim their (folderID, blindIndex) slot.
func (t *boltTx) CreateSecret(secret *types.Secret, version *types.SecretVersion) error {
	if secret.Type == types.SecretShared && secret.BlindIndex != "" {
		idx := t.tx.Bucket(bucketSecretIndexes)
		key := indexKey(secret.FolderID, secret.BlindIndex)
		if idx.Get(key) != nil {
			return fmt.Errorf("duplicate blind index in folder %s", secret.FolderID)
		}
		if err := idx.Put(key, []byte(secret.ID)); err != nil {
			return err
		}
	}
	data, err := json.Marshal(secret)
	if err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketSecrets).Put(secretKey(secret.FolderID, secret.ID), data); err != nil {
		return err
	}
	return t.putVersion(version)
}

// UpdateSecret overwrites an existing secret and appends a version row
func (t *boltTx) UpdateSecret(secret *types.Secret, version *types.SecretVersion) error {
	b := t.tx.Bucket(bucketSecrets)
	key := secretKey(secret.FolderID, secret.ID)
	data := b.Get(key)
	if data == nil {
		return fmt.Errorf("%w: secret %s in folder %s", ErrNotFound, secret.ID, secret.FolderID)
	}
	var old types.Secret
	if err := json.Unmarshal(data, &old); err != nil {
		return err
	}
	if old.BlindIndex != secret.BlindIndex {
		idx := t.tx.Bucket(bucketSecretIndexes)
		if old.Type == types.SecretShared && old.BlindIndex != "" {
			if err := idx.Delete(indexKey(secret.FolderID, old.BlindIndex)); err != nil {
				return err
			}
		}
		if secret.Type == types.SecretShared && secret.BlindIndex != "" {
			idxKey := indexKey(secret.FolderID, secret.BlindIndex)
			if idx.Get(idxKey) != nil {
				return fmt.Errorf("duplicate blind index in folder %s", secret.FolderID)
			}
			if err := idx.Put(idxKey, []byte(secret.ID)); err != nil {
				return err
			}
		}
	}
	data, err := json.Marshal(secret)
	if err != nil {
		return err
	}
	if err := b.Put(key, data); err != nil {
		return err
	}
	return t.putVersion(version)
}

// DeleteSecrets removes secrets from a folder and releases their blind index
// slots. With replicatedOnly set, rows not flagged as replicated survive.
// Version rows are kept for history either way.
func (t *boltTx) DeleteSecrets(folderID string, secretIDs []string, replicatedOnly bool) (int, error) {
	b := t.tx.Bucket(bucketSecrets)
	idx := t.tx.Bucket(bucketSecretIndexes)
	refs := t.tx.Bucket(bucketSecretReferences)
	deleted := 0
	for _, id := range secretIDs {
		key := secretKey(folderID, id)
		data := b.Get(key)
		if data == nil {
			continue
		}
		var secret types.Secret
		if err := json.Unmarshal(data, &secret); err != nil {
			return deleted, err
		}
		if replicatedOnly && !secret.IsReplicated {
			continue
		}
		if err := b.Delete(key); err != nil {
			return deleted, err
		}
		if secret.Type == types.SecretShared && secret.BlindIndex != "" {
			if err := idx.Delete(indexKey(folderID, secret.BlindIndex)); err != nil {
				return deleted, err
			}
		}
		if err := refs.Delete([]byte(id)); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// UpsertSecretReferences replaces a secret's recorded references
func (t *boltTx) UpsertSecretReferences(secretID string, refs []types.SecretReference) error {
	if refs == nil {
		refs = []types.SecretReference{}
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketSecretReferences).Put([]byte(secretID), data)
}

func (t *boltTx) CreateApprovalRequest(req *types.ApprovalRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketApprovalRequests).Put([]byte(req.ID), data)
}

func (t *boltTx) CreateApprovalRequestSecret(secret *types.ApprovalRequestSecret) error {
	data, err := json.Marshal(secret)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketApprovalSecrets).Put([]byte(secret.RequestID+"/"+secret.ID), data)
}

// putVersion stores a version row under its ordering key and indexes it by id
func (t *boltTx) putVersion(version *types.SecretVersion) error {
	data, err := json.Marshal(version)
	if err != nil {
		return err
	}
	key := []byte(fmt.Sprintf("%s/%010d", version.SecretID, version.Version))
	if err := t.tx.Bucket(bucketSecretVersions).Put(key, data); err != nil {
		return err
	}
	return t.tx.Bucket(bucketSecretVersionIDs).Put([]byte(version.ID), key)
}

func secretKey(folderID, secretID string) []byte {
	return []byte(folderID + "/" + secretID)
}

func indexKey(folderID, blindIndex string) []byte {
	return []byte(folderID + "/" + blindIndex)
}

func nameKey(parentID, name string) []byte {
	return []byte(parentID + "/" + name)
}

func membershipKey(projectID, userID string) []byte {
	return []byte(projectID + "/" + userID)
}
