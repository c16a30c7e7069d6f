package replication

import "errors"

var (
	// ErrImportedFolderMissing reports a destination folder that vanished
	// between subscriber discovery and path resolution. Only the import
	// referencing the folder fails.
	ErrImportedFolderMissing = errors.New("imported folder missing")

	// ErrMembershipMissing reports an approval-path actor with no membership
	// in the destination project. The whole job aborts.
	ErrMembershipMissing = errors.New("actor has no project membership")
)
