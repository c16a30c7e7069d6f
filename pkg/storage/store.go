package storage

import (
	"errors"

	"github.com/cofferhq/coffer/pkg/types"
)

// ErrNotFound is returned when a requested row does not exist. Callers use
// errors.Is to distinguish missing rows from storage failures.
var ErrNotFound = errors.New("not found")

// Store defines the interface for Coffer's persistence gateway.
// This will be implemented by BoltDB-backed storage.
type Store interface {
	// Environments
	CreateEnvironment(env *types.Environment) error
	GetEnvironment(id string) (*types.Environment, error)
	GetEnvironmentBySlug(projectID, slug string) (*types.Environment, error)
	ListEnvironments(projectID string) ([]*types.Environment, error)

	// Folders
	CreateFolder(folder *types.Folder) error
	GetFolder(id string) (*types.Folder, error)
	GetFolderByName(parentID, name string) (*types.Folder, error)
	GetFolderByPath(envID, path string) (*types.Folder, error)
	FolderPath(projectID, folderID string) (*types.FolderRef, error)

	// Secrets
	ListSecrets(folderID string) ([]*types.Secret, error)
	SecretsByBlindIndexes(folderID string, indexes []string) (map[string]*types.Secret, error)

	// Secret versions
	LatestSecretVersions(folderID string, secretIDs []string) (map[string]*types.SecretVersion, error)
	ListSecretVersions(secretID string) ([]*types.SecretVersion, error)
	MarkVersionsReplicated(versionIDs []string) error

	// Secret imports
	CreateSecretImport(imp *types.SecretImport) error
	GetSecretImport(id string) (*types.SecretImport, error)
	ListReplicationImports() ([]*types.SecretImport, error)
	ReplicationImportsBySource(envID, path string) ([]*types.SecretImport, error)
	UpdateImportStatus(importID, status string, ok bool) error

	// Approvals
	CreateApprovalPolicy(policy *types.ApprovalPolicy) error
	PoliciesByEnv(projectID, envID string) ([]*types.ApprovalPolicy, error)
	ListApprovalRequests() ([]*types.ApprovalRequest, error)
	ListApprovalRequestSecrets(requestID string) ([]*types.ApprovalRequestSecret, error)

	// Memberships
	CreateMembership(m *types.Membership) error
	Membership(projectID, userID string) (*types.Membership, error)

	// Transact runs fn inside a single write transaction. Every write made
	// through the Tx is rolled back if fn returns an error.
	Transact(fn func(tx Tx) error) error

	// Utility
	Close() error
}

// Tx is the write surface available inside a transaction. All methods see
// the writes of earlier methods in the same transaction.
type Tx interface {
	// CreateFolder inserts a folder and claims its (parentID, name) slot.
	// It fails when a sibling with the same name already exists.
	CreateFolder(folder *types.Folder) error

	// CreateSecret inserts a secret together with its initial version row.
	// Shared secrets claim their (folderID, blindIndex) slot; inserting a
	// duplicate blind index fails the transaction.
	CreateSecret(secret *types.Secret, version *types.SecretVersion) error

	// UpdateSecret overwrites an existing secret row and appends a new
	// version row.
	UpdateSecret(secret *types.Secret, version *types.SecretVersion) error

	// DeleteSecrets removes secrets from a folder by id, returning how many
	// rows matched. With replicatedOnly set, rows whose IsReplicated flag is
	// false are left untouched. Version rows are never deleted.
	DeleteSecrets(folderID string, secretIDs []string, replicatedOnly bool) (int, error)

	// UpsertSecretReferences replaces the recorded references of a secret.
	UpsertSecretReferences(secretID string, refs []types.SecretReference) error

	CreateApprovalRequest(req *types.ApprovalRequest) error
	CreateApprovalRequestSecret(secret *types.ApprovalRequestSecret) error
}
