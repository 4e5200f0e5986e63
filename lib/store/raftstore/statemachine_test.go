package raftstore

import (
	"encoding/json"
	"testing"

	"github.com/arannis-dev/qlock/lib/db"
	"github.com/arannis-dev/qlock/lib/db/engines/maple"
	"github.com/arannis-dev/qlock/lib/store"
	"github.com/arannis-dev/qlock/lib/store/raftstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

func newTestFSM(t *testing.T) *lockStateMachine {
	t.Helper()
	factory := CreateStateMachineFactory(func() db.KVDB {
		return maple.NewMapleDB(maple.DefaultOptions())
	})
	fsm := factory(1, 1).(*lockStateMachine)
	t.Cleanup(func() { fsm.Close() })
	return fsm
}

func applyOne(t *testing.T, fsm *lockStateMachine, cmd internal.Command, index uint64) sm.Result {
	t.Helper()
	entries := []sm.Entry{{Index: index, Cmd: cmd.Serialize()}}
	out, err := fsm.Update(entries)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	return out[0].Result
}

func lookupGet(t *testing.T, fsm *lockStateMachine, key string) internal.QueryResult {
	t.Helper()
	res, err := fsm.Lookup(internal.Query{Type: internal.QueryTGet, Key: key})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	return res.(internal.QueryResult)
}

func TestStateMachinePutIfAbsent(t *testing.T) {
	fsm := newTestFSM(t)

	rec, _ := json.Marshal(store.Record{LockKey: "k", VersionNumber: "v1"})
	result := applyOne(t, fsm, internal.Command{Type: internal.CommandTPutIfAbsent, Key: "k", Record: rec}, 1)
	if result.Value != uint64(store.RetCSuccess) {
		t.Fatalf("first PutIfAbsent should succeed, got %d: %s", result.Value, result.Data)
	}

	rec2, _ := json.Marshal(store.Record{LockKey: "k", VersionNumber: "v2"})
	result = applyOne(t, fsm, internal.Command{Type: internal.CommandTPutIfAbsent, Key: "k", Record: rec2}, 2)
	if result.Value != uint64(store.RetCConflict) {
		t.Fatalf("second PutIfAbsent should conflict, got %d", result.Value)
	}

	got := lookupGet(t, fsm, "k")
	if !got.Ok {
		t.Fatalf("expected key to exist")
	}
	var storedRec store.Record
	if err := json.Unmarshal(got.Value, &storedRec); err != nil {
		t.Fatalf("unmarshal stored record: %v", err)
	}
	if storedRec.VersionNumber != "v1" {
		t.Fatalf("expected stored version v1, got %s", storedRec.VersionNumber)
	}
}

func TestStateMachinePutIfVersion(t *testing.T) {
	fsm := newTestFSM(t)

	rec, _ := json.Marshal(store.Record{LockKey: "k", VersionNumber: "v1"})
	applyOne(t, fsm, internal.Command{Type: internal.CommandTPutIfAbsent, Key: "k", Record: rec}, 1)

	rec2, _ := json.Marshal(store.Record{LockKey: "k", VersionNumber: "v2"})
	result := applyOne(t, fsm, internal.Command{
		Type: internal.CommandTPutIfVersion, Key: "k", Record: rec2, ExpectedVersion: "wrong",
	}, 2)
	if result.Value != uint64(store.RetCConflict) {
		t.Fatalf("PutIfVersion with a stale expected version should conflict, got %d", result.Value)
	}

	result = applyOne(t, fsm, internal.Command{
		Type: internal.CommandTPutIfVersion, Key: "k", Record: rec2, ExpectedVersion: "v1",
	}, 3)
	if result.Value != uint64(store.RetCSuccess) {
		t.Fatalf("PutIfVersion with the correct expected version should succeed, got %d", result.Value)
	}
}

func TestStateMachineDeleteIfVersion(t *testing.T) {
	fsm := newTestFSM(t)

	rec, _ := json.Marshal(store.Record{LockKey: "k", VersionNumber: "v1"})
	applyOne(t, fsm, internal.Command{Type: internal.CommandTPutIfAbsent, Key: "k", Record: rec}, 1)

	result := applyOne(t, fsm, internal.Command{Type: internal.CommandTDeleteIfVersion, Key: "k", ExpectedVersion: "wrong"}, 2)
	if result.Value != uint64(store.RetCConflict) {
		t.Fatalf("DeleteIfVersion with a stale version should conflict, got %d", result.Value)
	}

	result = applyOne(t, fsm, internal.Command{Type: internal.CommandTDeleteIfVersion, Key: "k", ExpectedVersion: "v1"}, 3)
	if result.Value != uint64(store.RetCSuccess) {
		t.Fatalf("DeleteIfVersion with the correct version should succeed, got %d", result.Value)
	}

	got := lookupGet(t, fsm, "k")
	if got.Ok {
		t.Fatalf("expected key to be gone after DeleteIfVersion")
	}

	result = applyOne(t, fsm, internal.Command{Type: internal.CommandTDeleteIfVersion, Key: "k", ExpectedVersion: "v1"}, 4)
	if result.Value != uint64(store.RetCConflict) {
		t.Fatalf("DeleteIfVersion on an absent key should conflict, got %d", result.Value)
	}
}

func TestStateMachineBatchSeesEarlierWritesInSameBatch(t *testing.T) {
	fsm := newTestFSM(t)

	rec1, _ := json.Marshal(store.Record{LockKey: "k", VersionNumber: "v1"})
	rec2, _ := json.Marshal(store.Record{LockKey: "k", VersionNumber: "v2"})

	putAbsent := internal.Command{Type: internal.CommandTPutIfAbsent, Key: "k", Record: rec1}
	putVersion := internal.Command{Type: internal.CommandTPutIfVersion, Key: "k", Record: rec2, ExpectedVersion: "v1"}

	entries := []sm.Entry{{Index: 1, Cmd: putAbsent.Serialize()}, {Index: 2, Cmd: putVersion.Serialize()}}
	out, err := fsm.Update(entries)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if out[0].Result.Value != uint64(store.RetCSuccess) || out[1].Result.Value != uint64(store.RetCSuccess) {
		t.Fatalf("expected both batched entries to succeed: %v, %v", out[0].Result, out[1].Result)
	}

	got := lookupGet(t, fsm, "k")
	var storedRec store.Record
	if err := json.Unmarshal(got.Value, &storedRec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if storedRec.VersionNumber != "v2" {
		t.Fatalf("expected v2 to have won, got %s", storedRec.VersionNumber)
	}
}
