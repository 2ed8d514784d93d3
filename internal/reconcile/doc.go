// Package reconcile implements the branch reconciliation state machine: for
// each configured branch pair it fetches remotes, prepares the target branch,
// optionally seeds new branches with a squash merge of the downstream overlay
// branch guarded by a sentinel file, merges the upstream source branch, runs
// verification hooks, commits, and pushes. Failures are contained per pair
// and surfaced as structured results.
package reconcile
