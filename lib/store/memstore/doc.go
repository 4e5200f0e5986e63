// Package memstore is a single-process, mutex-guarded implementation of
// store.Adapter. It is used by the lib/dlm test suites and by "qlock serve"
// memory shards (--shards ID=NAME=memory) for local experimentation where a Raft cluster is
// unnecessary overhead.
package memstore
