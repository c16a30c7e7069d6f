/*
Package types defines the core data structures used throughout Coffer.

This package contains all fundamental types that represent Coffer's domain
model: environments, secret folders, encrypted secrets and their versions,
replicated imports, approval policies and requests, project memberships,
and the queue payloads exchanged between the replication worker and its
collaborators. These types are used by every other package for persistence,
queue traffic, and replication logic.

# Architecture

The types package is the foundation of Coffer's data model. It defines:

  - Folder trees per environment, including reserved replication folders
  - Encrypted secrets with opaque ciphertext triples (key, value, comment)
  - Immutable secret versions with replication watermarks
  - Secret imports subscribing destination folders to source folders
  - Approval policies, requests, and per-change request secrets
  - Project memberships used as the committer identity on approvals
  - Queue payloads (ReplicationJob inbound, SyncRequest outbound)

All types are designed to be:
  - Serializable (JSON for BoltDB values and queue payloads)
  - Opaque about cryptography (ciphertexts pass through verbatim)
  - Self-documenting (typed string constants for enums)

# Core Types

Folder Tree:
  - Environment: One environment (dev, staging, prod) of a project
  - Folder: A node in the environment's folder tree; Path is the full
    path from the environment root
  - ReservedFolderPrefix / ReservedFolderName: Naming scheme for the
    reserved child folders that host replicated secrets

Secrets:
  - Secret: Encrypted key/value pair; ciphertext triples for key, value
    and comment; BlindIndex is the cross-folder identity
  - SecretVersion: Immutable snapshot at one version with the
    LatestReplicatedVersion watermark
  - CipherText: Opaque (IV, Tag, Data) triple, never decrypted here
  - SecretType: shared or personal; personal secrets never replicate

Replication:
  - SecretImport: Subscribes a destination folder to a source folder;
    records last outcome (LastReplicated, ReplicationStatus,
    IsReplicationSuccess)
  - ReplicationJob: Inbound queue payload naming the source folder, the
    changed secrets, the actor, and the fan-out dedup sets
  - SyncRequest / SyncSecret: Outbound payload describing materialized
    changes in a destination folder

Approvals:
  - ApprovalPolicy: Binds an approval requirement to (env, secret path)
  - ApprovalRequest: Pending change set awaiting sign-off
  - ApprovalRequestSecret: One proposed change, carrying the full
    ciphertext payload of the source secret
  - Membership: Project membership; its ID becomes the committer id

Enums:
  - SecretOperation: create, update, delete
  - ActorType: user, service, platform
  - ApprovalStatus: open, closed, merged

# Identity Model

Secrets are identified across folders by their blind index: a
deterministic, non-reversible identifier of the secret's key. Replication
never sees plaintext keys, so the blind index is the only cross-folder
identity. Personal secrets (type=personal) never replicate; within one
folder the pair (BlindIndex, type=shared) is unique. A secret whose
BlindIndex is empty has not been indexed yet and is invisible to
replication.

# Replication Model

A SecretImport with IsReplication=true subscribes its destination folder
to a source folder named by (ImportEnvID, ImportPath). Replicated copies
never land in the destination folder itself: each import owns exactly one
reserved child folder named ReservedFolderPrefix + import id, and all
copies live there. The reserved folder is created lazily on the first
successful replication and persists for the lifetime of the import.

SecretVersion.LatestReplicatedVersion is the watermark deciding which
source versions are still eligible for propagation: a version v is
eligible when v == 1 or LatestReplicatedVersion <= v. After a replication
episode every considered version carries IsReplicated=true.

# Queue Payloads

ReplicationJob is the inbound payload: the source folder, the changed
secret ids with the operation the producer observed, the acting identity,
an optional PickOnlyImportIDs restriction (used by resync), and the two
dedup sets that ride through the whole fan-out. SyncRequest is the
outbound payload describing a folder that just received changes; the
downstream sync enqueuer uses it both for integration syncing and for
cascading further replication hops.

Both payloads are JSON-marshaled onto Redis streams, so every field must
stay JSON-serializable.

# Usage

Building a replication job:

	job := &types.ReplicationJob{
		ID:            "job-7f3a",
		FolderID:      sourceFolder.ID,
		SecretPath:    "/app",
		EnvironmentID: env.ID,
		ProjectID:     project.ID,
		Actor:         types.ActorPlatform,
		Secrets: []types.JobSecret{
			{ID: secret.ID, Operation: types.OperationUpdate},
		},
	}

Creating a secret row for a replica:

	replica := &types.Secret{
		ID:           uuid.New().String(),
		FolderID:     reserved.ID,
		BlindIndex:   source.BlindIndex,
		Type:         types.SecretShared,
		Version:      1,
		IsReplicated: true,
		KeyCipher:    source.KeyCipher,
		ValueCipher:  source.ValueCipher,
		CreatedAt:    time.Now(),
	}

Resolving the reserved folder name of an import:

	name := types.ReservedFolderName(imp.ID)
	// "__reserve_replication_<import id>"

# Operation Classification

The worker reconciles the producer's operation against local state in the
reserved folder; existence of the blind index locally is the only truth:

	Incoming op       Local has index?   Effective op
	create/update     no                 create
	create/update     yes                update
	delete            yes                delete
	delete            no                 dropped

This upsert behavior exists because create and update events from the
producing side are indistinguishable at the replica.

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants for safety and clarity:
	  type SecretOperation string
	  const (
	      OperationCreate SecretOperation = "create"
	      OperationUpdate SecretOperation = "update"
	  )

Optional Fields:

	Absence is encoded with zero values rather than pointers:
	  - BlindIndex "" = secret not indexed, invisible to replication
	  - LastReplicated zero time = import never replicated
	  - ReplicationStatus "" = last run healthy

Opaque Payloads:

	CipherText triples and Metadata are copied between rows without
	interpretation. No package outside the producing dashboard may
	assume anything about their contents.

# Integration Points

This package integrates with:

  - pkg/storage: Persists all entities to BoltDB as JSON
  - pkg/replication: Consumes ReplicationJob, produces replica rows
  - pkg/syncer: Builds and forwards SyncRequest payloads
  - pkg/approval: Matches ApprovalPolicy rows to folder paths
  - pkg/queue: Marshals ReplicationJob and SyncRequest onto streams
  - pkg/reconciler: Reads SecretImport outcome fields for repair

# Thread Safety

All types in this package are designed to be:
  - Read-safe: Can be read concurrently from multiple goroutines
  - Write-unsafe: Mutations must be synchronized by callers
  - Immutable-preferred: Use new instances for updates where possible

The storage layer (pkg/storage) handles all synchronization for persisted
state; queue payloads are owned by the queue runtime from enqueue to ack.

# See Also

  - pkg/storage for the persistence layer
  - pkg/replication for the worker state machine
  - pkg/syncer for the downstream fan-out
*/
package types
