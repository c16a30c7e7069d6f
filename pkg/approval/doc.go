/*
Package approval decides whether secret changes on a path require reviewer
sign-off before landing.

A policy binds an approval requirement to a (project, environment, secret
path) triple. The Oracle resolves the policy for a destination folder: an
exact path match wins, a policy bound to "" or "/" guards the whole
environment. Paths with no policy are unguarded and the replication worker
writes to them directly; guarded paths receive an approval request holding
the proposed change set instead (see pkg/replication).

Approval requests themselves are reviewed and merged by the control plane;
this package only answers the routing question.
*/
package approval
