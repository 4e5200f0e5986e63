// Package store defines the narrow storage capability the lock protocol in
// lib/dlm is built on: a single-key, strongly-consistent, conditional-write
// key-value surface.
//
// Unlike a general purpose key-value store, an Adapter exposes exactly the
// four operations the version-lease technique needs: create-if-absent,
// update-if-version-matches, delete-if-version-matches, and a plain read.
// Every write that succeeds is expected to be immediately visible to every
// subsequent read across all callers of the same Adapter - the protocol's
// correctness depends on this.
//
// Two implementations are provided:
//
//   - memstore: a single mutex guarding a map, for tests and single-process
//     use.
//   - raftstore: a Dragonboat-replicated state machine that applies the
//     conditional check as part of the same Raft-committed step as the
//     mutation, giving linearizable conditional writes across a cluster.
package store
