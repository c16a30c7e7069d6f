package types

import (
	"time"
)

// ReservedFolderPrefix prefixes the name of every reserved replication
// folder. External tooling relies on this prefix to recognize reserved
// folders, so it must never change.
const ReservedFolderPrefix = "__reserve_replication_"

// ReservedFolderName returns the name of the reserved folder owned by the
// given secret import.
func ReservedFolderName(importID string) string {
	return ReservedFolderPrefix + importID
}

// SecretType distinguishes shared secrets from personal overrides
type SecretType string

const (
	SecretShared   SecretType = "shared"
	SecretPersonal SecretType = "personal"
)

// SecretOperation is the kind of change carried by a replication job
type SecretOperation string

const (
	OperationCreate SecretOperation = "create"
	OperationUpdate SecretOperation = "update"
	OperationDelete SecretOperation = "delete"
)

// ActorType identifies who triggered a secret change
type ActorType string

const (
	ActorUser     ActorType = "user"
	ActorService  ActorType = "service"
	ActorPlatform ActorType = "platform"
)

// ApprovalStatus represents the lifecycle state of an approval request
type ApprovalStatus string

const (
	ApprovalStatusOpen   ApprovalStatus = "open"
	ApprovalStatusClosed ApprovalStatus = "closed"
	ApprovalStatusMerged ApprovalStatus = "merged"
)

// CipherText is an opaque encrypted blob. Replication copies these fields
// verbatim and never decrypts them.
type CipherText struct {
	IV   string
	Tag  string
	Data string
}

// Environment represents one environment (dev, staging, prod) of a project
type Environment struct {
	ID        string
	ProjectID string
	Slug      string
	Name      string
}

// Folder is a node in an environment's secret folder tree. A reserved
// folder hosts replicated copies of secrets for exactly one import; its
// name encodes the owning import id.
type Folder struct {
	ID         string
	EnvID      string
	ParentID   string // empty for environment roots
	Path       string // full path from the environment root, e.g. "/app/db"
	Name       string
	IsReserved bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FolderRef is a resolved view of a folder: its environment and full path
// alongside the raw ids. Lookups that cross the folder/environment boundary
// return this instead of forcing callers to chase both rows.
type FolderRef struct {
	FolderID string
	EnvID    string
	EnvSlug  string
	Path     string
}

// Secret is one encrypted key/value pair inside a folder.
// Within one folder, (BlindIndex, type=shared) is unique.
type Secret struct {
	ID                    string
	FolderID              string
	BlindIndex            string // empty when the secret has no blind index yet
	Type                  SecretType
	Version               int
	IsReplicated          bool
	KeyEncoding           string
	Algorithm             string
	Metadata              map[string]string
	KeyCipher             CipherText
	ValueCipher           CipherText
	CommentCipher         CipherText
	SkipMultilineEncoding bool
	TagIDs                []string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// SecretVersion is an immutable snapshot of a secret at one version.
// LatestReplicatedVersion records the highest version of this secret that
// has already been propagated to subscribers.
type SecretVersion struct {
	ID                      string
	SecretID                string
	FolderID                string
	Version                 int
	LatestReplicatedVersion int
	IsReplicated            bool
	BlindIndex              string
	Type                    SecretType
	KeyEncoding             string
	Algorithm               string
	Metadata                map[string]string
	KeyCipher               CipherText
	ValueCipher             CipherText
	CommentCipher           CipherText
	SkipMultilineEncoding   bool
	TagIDs                  []string
	CreatedAt               time.Time
}

// SecretReference names another environment location a secret's value is
// pulled from. Replicated copies carry no references; their payload is
// already resolved at the source.
type SecretReference struct {
	EnvSlug    string
	SecretPath string
}

// SecretImport subscribes a destination folder to a source folder.
// The destination is FolderID; the source is (ImportEnvID, ImportPath).
// Only imports with IsReplication=true participate in replication.
type SecretImport struct {
	ID                   string
	FolderID             string // destination folder
	ImportEnvID          string // source environment
	ImportPath           string // source folder path
	IsReplication        bool
	LastReplicated       time.Time // zero when never replicated
	ReplicationStatus    string    // last failure message, empty when healthy
	IsReplicationSuccess bool
	Position             int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ApprovalPolicy binds a change-approval requirement to a secret path.
// An empty or "/" SecretPath applies to the whole environment.
type ApprovalPolicy struct {
	ID         string
	ProjectID  string
	EnvID      string
	SecretPath string
	Name       string
	Approvals  int
}

// ApprovalRequest is a pending change set awaiting reviewer sign-off
type ApprovalRequest struct {
	ID           string
	PolicyID     string
	FolderID     string
	Slug         string
	Status       ApprovalStatus
	HasMerged    bool
	CommitterID  string
	IsReplicated bool
	CreatedAt    time.Time
}

// ApprovalRequestSecret is one proposed change inside an approval request.
// SecretID and SecretVersionID reference the local secret being updated or
// deleted; both are empty for creates.
type ApprovalRequestSecret struct {
	ID                    string
	RequestID             string
	Op                    SecretOperation
	SecretID              string
	SecretVersionID       string
	BlindIndex            string
	Type                  SecretType
	KeyEncoding           string
	Algorithm             string
	Metadata              map[string]string
	KeyCipher             CipherText
	ValueCipher           CipherText
	CommentCipher         CipherText
	SkipMultilineEncoding bool
	TagIDs                []string
	IsReplicated          bool
}

// Membership ties a user to a project
type Membership struct {
	ID        string
	ProjectID string
	UserID    string
	Role      string
}

// JobSecret names one source secret touched by a replication job
type JobSecret struct {
	ID        string
	Operation SecretOperation
}

// ReplicationJob is the payload of the secret-replication queue. FolderID
// names the source folder whose secrets changed; Secrets lists the changed
// secret ids with the operation the producer observed.
type ReplicationJob struct {
	ID                string
	Secrets           []JobSecret
	FolderID          string
	SecretPath        string
	EnvironmentID     string
	ProjectID         string
	ActorID           string
	Actor             ActorType
	PickOnlyImportIDs []string
	DeDupeReplication []string
	DeDupeSync        []string
}

// SyncSecret names one materialized change in a destination folder
type SyncSecret struct {
	ID        string
	Version   int
	Operation SecretOperation
}

// SyncRequest describes a folder that just received secret changes so that
// integration syncing and further replication can fan out from it. The two
// DeDupe sets ride through every hop of the fan-out verbatim.
type SyncRequest struct {
	ProjectID         string
	SecretPath        string
	EnvironmentSlug   string
	EnvironmentID     string
	FolderID          string
	Secrets           []SyncSecret
	Actor             ActorType
	ActorID           string
	DeDupeReplication []string
	DeDupeSync        []string
}
