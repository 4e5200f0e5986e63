package raftstore_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/arannis-dev/qlock/lib/db"
	"github.com/arannis-dev/qlock/lib/db/engines/maple"
	"github.com/arannis-dev/qlock/lib/dlm/dlmtesting"
	"github.com/arannis-dev/qlock/lib/store"
	"github.com/arannis-dev/qlock/lib/store/raftstore"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/config"
)

const (
	testShardID   = 1
	testReplicaID = 1
)

// newSingleNodeRaftStore starts a one-replica Dragonboat NodeHost hosting a
// single raft shard, the same way rpc/server/server.go wires a raft-backed
// table, and returns a store.Adapter backed by it.
//
// Every subtest in the protocol suite shares this one shard instead of each
// getting a fresh NodeHost: starting a NodeHost and waiting out leader
// election costs far more than anything the suite actually checks for, and
// every subtest already operates on a distinct lock name, so sharing the
// shard causes no cross-test interference.
func newSingleNodeRaftStore(t *testing.T) store.Adapter {
	t.Helper()

	dataDir := t.TempDir()
	raftAddress := "localhost:63101"

	nh, err := dragonboat.NewNodeHost(config.NodeHostConfig{
		WALDir:         filepath.Join(dataDir, "wal"),
		NodeHostDir:    filepath.Join(dataDir, "nh"),
		RTTMillisecond: 50,
		RaftAddress:    raftAddress,
	})
	if err != nil {
		t.Fatalf("NewNodeHost: %v", err)
	}
	t.Cleanup(nh.Close)

	factory := raftstore.CreateStateMachineFactory(func() db.KVDB {
		return maple.NewMapleDB(maple.DefaultOptions())
	})

	members := map[uint64]string{testReplicaID: raftAddress}
	shardConfig := config.Config{
		ReplicaID:          testReplicaID,
		ShardID:            testShardID,
		ElectionRTT:        10,
		HeartbeatRTT:       1,
		CheckQuorum:        true,
		SnapshotEntries:    10,
		CompactionOverhead: 5,
	}
	if err := nh.StartConcurrentReplica(members, false, factory, shardConfig); err != nil {
		t.Fatalf("StartConcurrentReplica: %v", err)
	}

	waitForLeader(t, nh, testShardID)

	return raftstore.NewRaftStore(nh, testShardID, 5*time.Second)
}

// waitForLeader blocks until the shard has completed leader election. A
// single-node shard elects itself almost immediately once its replica has
// started, but the timing is not synchronous with StartConcurrentReplica
// returning.
func waitForLeader(t *testing.T, nh *dragonboat.NodeHost, shardID uint64) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if leaderID, valid, err := nh.GetLeaderID(shardID); err == nil && valid && leaderID != 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("shard %d did not elect a leader in time", shardID)
}

// TestRaftStoreProtocol runs the full lock protocol suite against a raft-
// replicated store.Adapter, the same suite lib/dlm runs against memstore.
// It proves the protocol's conditional writes stay linearizable through
// Dragonboat's propose/apply path, not just against the in-memory adapter.
func TestRaftStoreProtocol(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping raft-backed protocol suite in short mode")
	}

	adapter := newSingleNodeRaftStore(t)
	dlmtesting.RunProtocolTests(t, "raftstore", func() store.Adapter {
		return adapter
	})
}
