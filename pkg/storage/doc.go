/*
Package storage provides BoltDB-backed persistence for Coffer's secret data.

The storage package implements the Store interface using BoltDB as the
underlying database, providing ACID transactions for environments, folders,
secrets, secret versions, secret imports, approval policies, approval
requests, and project memberships. All data is serialized as JSON and stored
in separate buckets, with composite keys acting as secondary indexes where
the replication engine needs them.

# Architecture

Coffer uses BoltDB (bbolt) for embedded, transactional storage with zero
external dependencies:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/coffer.db                │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Transactions: ACID with fsync            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  ┌──────────────────────────────────────┐  │          │
	│  │  │ environments     (env ID)            │  │          │
	│  │  │ folders          (folder ID)         │  │          │
	│  │  │ folder_names     (parent/name → ID)  │  │          │
	│  │  │ secrets          (folder/secret)     │  │          │
	│  │  │ secret_indexes   (folder/blind → ID) │  │          │
	│  │  │ secret_versions  (secret/version)    │  │          │
	│  │  │ secret_version_ids (version ID → key)│  │          │
	│  │  │ secret_references (secret ID)        │  │          │
	│  │  │ secret_imports   (import ID)         │  │          │
	│  │  │ approval_policies (policy ID)        │  │          │
	│  │  │ approval_requests (request ID)       │  │          │
	│  │  │ approval_request_secrets (req/row)   │  │          │
	│  │  │ memberships      (project/user)      │  │          │
	│  │  └──────────────────────────────────────┘  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Transaction Management                │          │
	│  │  - Read: db.View() - Concurrent reads       │          │
	│  │  - Write: db.Update() - Serialized writes   │          │
	│  │  - Transact(): multi-row writes, one commit │          │
	│  │  - Rollback: Automatic on error             │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - Implements Store interface using BoltDB
  - Single database file per worker deployment
  - Automatic bucket creation on initialization
  - Thread-safe via BoltDB's transaction model

Composite Keys:
  - secrets: "<folderID>/<secretID>" groups a folder's rows for prefix scans
  - secret_versions: "<secretID>/<%010d version>" keeps version history in
    insertion order so the last key under a prefix is the latest version
  - secret_indexes: "<folderID>/<blindIndex>" enforces one shared secret
    per blind index per folder
  - folder_names: "<parentID>/<name>" enforces unique sibling names, which
    is what makes reserved folder creation safe to race

Transact:
  - Exposes a narrow write surface (Tx) bound to one bolt transaction
  - Replication writes a whole diff (creates, updates, deletes, reference
    rows) in a single Transact call; any failure rolls all of it back
  - Index maintenance lives inside Tx methods, so callers cannot desync
    a row from its index entries

# Not-Found Semantics

Reads that miss return an error wrapping ErrNotFound. Callers use
errors.Is(err, storage.ErrNotFound) to tell missing rows from real
failures. FolderPath treats a folder whose environment belongs to another
project as missing rather than leaking its existence.

# Usage

Creating a Store:

	store, err := storage.NewBoltStore("/var/lib/coffer")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

Folder Operations:

	// Resolve an import's destination
	ref, err := store.FolderPath(projectID, imp.FolderID)

	// Find the reserved folder of an import
	folder, err := store.GetFolderByName(imp.FolderID, types.ReservedFolderName(imp.ID))

Secret Operations:

	// Local replica state for a diff
	locals, err := store.SecretsByBlindIndexes(reserved.ID, indexes)

	// Latest version rows for eligibility checks
	versions, err := store.LatestSecretVersions(folderID, secretIDs)

	// Apply a replication diff atomically
	err = store.Transact(func(tx storage.Tx) error {
		if err := tx.CreateSecret(secret, version); err != nil {
			return err
		}
		return tx.UpsertSecretReferences(secret.ID, nil)
	})

Import Operations:

	// Subscribers of a source location
	imports, err := store.ReplicationImportsBySource(envID, "/app/db")

	// Record the outcome of an attempt
	err = store.UpdateImportStatus(imp.ID, "", true)

# Integration Points

This package integrates with:

  - pkg/replication: Reads source versions and local replicas, writes diffs
  - pkg/approval: Reads policies for the approval oracle
  - pkg/syncer: Reads subscriber imports when cascading
  - pkg/reconciler: Scans imports for failed replication attempts
  - pkg/types: All entity definitions

# Design Patterns

Filter Pattern:
  - List all, filter in memory (ReplicationImportsBySource, GetFolderByPath)
  - Simple implementation for small datasets
  - Hot paths (blind index, folder name, version lookups) use key indexes

Index-In-Transaction:
  - Unique constraints checked and claimed inside the same bolt transaction
    as the row write
  - Duplicate blind index or sibling folder name fails the whole Transact

Version Append:
  - Secret writes never mutate version history; every update appends a row
  - Deletes remove the secret row but keep its version rows

# Performance Characteristics

Read Operations:
  - Get by key: O(log n) via B+tree, typically < 1ms
  - Prefix scans: O(k) in rows under the prefix
  - Full scans: O(n), used only for import and environment filters

Write Operations:
  - Single row: O(log n) for key, ~1-5ms with fsync
  - Replication diff: one transaction regardless of row count
  - Serialized: Only one writer at a time (BoltDB limitation)

# See Also

  - pkg/replication for the consumer of the diff surface
  - pkg/types for all entity definitions
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
