// Package raftstore is documented in store.go and statemachine.go.
//
// A raftstore shard needs a running Dragonboat NodeHost with the shard's
// replicas already started via CreateStateMachineFactory before
// NewRaftStore can serve traffic for it - starting replicas is the
// responsibility of the caller (see cmd/serve), since it requires cluster
// membership information a bare store.Adapter constructor has no business
// knowing about.
package raftstore
