/*
Package syncer fans out the changes a folder just received.

Every materialized change set triggers two kinds of downstream work: an
integration sync (external consumers read the secret-sync queue and push
secrets to third-party targets) and, when other folders import from the
changed path, another replication hop. SyncFolder enqueues both.

Replication chains can revisit a folder (A imports B, B imports A, or
longer cycles through shared paths). Two dedup sets ride on every payload:
once a folder key ("project:env:path") has been marked for sync or
replication anywhere in the fan-out, later hops skip that enqueue. The sets
are forwarded verbatim, so the guarantee holds across processes without
shared state.

The approval path never reaches this package: a guarded folder's sync
happens only after the approval request is merged by the control plane.
*/
package syncer
