// Package gitrepo contains helpers for interrogating and manipulating Git repositories.
//
// It exposes RepositoryManager for cloning, remote management, branch
// checkout, merging with structured outcome classification, pushing, and the
// cleanup primitives the reconciliation loop relies on, plus utilities for
// parsing remote URLs and embedding push credentials.
package gitrepo
