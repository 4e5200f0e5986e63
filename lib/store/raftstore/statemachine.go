package raftstore

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/arannis-dev/qlock/lib/db"
	"github.com/arannis-dev/qlock/lib/store"
	"github.com/arannis-dev/qlock/lib/store/raftstore/internal"
	"github.com/lni/dragonboat/v4/logger"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

var log = logger.GetLogger("raftstore")

// DBFactory creates the db.KVDB instance a state machine replica uses to
// persist its records, letting the caller choose the storage engine
// (rpc/server passes the maple engine) independently of the state machine
// logic.
type DBFactory func() db.KVDB

// lockStateMachine applies conditional writes to a db.KVDB as single,
// Raft-committed steps: the precondition check and the mutation happen in
// the same Update() call, so no other write can be interleaved between
// them across the whole cluster.
type lockStateMachine struct {
	replicaID uint64
	shardID   uint64
	database  db.KVDB
}

// CreateStateMachineFactory returns a Dragonboat state machine factory bound
// to dbFactory.
func CreateStateMachineFactory(dbFactory DBFactory) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &lockStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			database:  dbFactory(),
		}
	}
}

// Lookup serves read-only queries against the current state.
func (fsm *lockStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid query type: %T", itf))
	}

	switch q.Type {
	case internal.QueryTGet:
		val, ok := fsm.database.Get(q.Key)
		return internal.QueryResult{Value: val, Ok: ok}, nil
	default:
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("unknown query type: %d", q.Type))
	}
}

// Update applies a batch of conditional write commands. Each entry's
// precondition is checked against the current state right before its
// mutation is applied, so within one batch a later entry sees the effects
// of an earlier one.
func (fsm *lockStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	for idx, e := range entries {
		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{
				Value: uint64(store.RetCInternalError),
				Data:  []byte(fmt.Sprintf("failed to deserialize command: %v", err)),
			}
			continue
		}
		entries[idx].Result = fsm.apply(cmd, e.Index)
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("Update took long: %d entries in %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// apply performs a single conditional write against fsm.database.
func (fsm *lockStateMachine) apply(cmd internal.Command, writeIndex uint64) sm.Result {
	current, hasCurrent := fsm.database.Get(cmd.Key)
	var currentRec store.Record
	if hasCurrent {
		if err := json.Unmarshal(current, &currentRec); err != nil {
			return sm.Result{Value: uint64(store.RetCInternalError), Data: []byte(err.Error())}
		}
	}

	switch cmd.Type {
	case internal.CommandTPutIfAbsent:
		if hasCurrent {
			return sm.Result{Value: uint64(store.RetCConflict), Data: []byte("record already exists")}
		}
		fsm.database.Set(cmd.Key, cmd.Record, writeIndex)
		return sm.Result{Value: uint64(store.RetCSuccess)}

	case internal.CommandTPutIfVersion:
		if !hasCurrent || currentRec.VersionNumber != cmd.ExpectedVersion {
			return sm.Result{Value: uint64(store.RetCConflict), Data: []byte("version mismatch or record absent")}
		}
		fsm.database.Set(cmd.Key, cmd.Record, writeIndex)
		return sm.Result{Value: uint64(store.RetCSuccess)}

	case internal.CommandTDeleteIfVersion:
		if !hasCurrent || currentRec.VersionNumber != cmd.ExpectedVersion {
			return sm.Result{Value: uint64(store.RetCConflict), Data: []byte("version mismatch or record absent")}
		}
		fsm.database.Delete(cmd.Key, writeIndex)
		return sm.Result{Value: uint64(store.RetCSuccess)}

	default:
		return sm.Result{Value: uint64(store.RetCInternalError), Data: []byte(fmt.Sprintf("unknown command type: %s", cmd.Type))}
	}
}

// PrepareSnapshot returns no extra state; SaveSnapshot reads directly off
// fsm.database at call time.
func (fsm *lockStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

func (fsm *lockStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureSave) {
		return fmt.Errorf("the configured db.KVDB does not support Save()")
	}
	return fsm.database.Save(writer)
}

func (fsm *lockStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureLoad) {
		return fmt.Errorf("the configured db.KVDB does not support Load()")
	}
	return fsm.database.Load(r)
}

func (fsm *lockStateMachine) Close() error {
	return fsm.database.Close()
}
