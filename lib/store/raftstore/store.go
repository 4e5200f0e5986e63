// Package raftstore implements store.Adapter on top of a Dragonboat
// replicated state machine, giving linearizable conditional writes across a
// multi-node cluster: the version check and the mutation it guards happen
// inside the same Raft-committed log entry.
package raftstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arannis-dev/qlock/lib/store"
	"github.com/arannis-dev/qlock/lib/store/raftstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries   = 5
	storeLog  = logger.GetLogger("raftstore")
)

// storeImpl is the store.Adapter implementation backed by a Dragonboat
// NodeHost.
type storeImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewRaftStore creates a store.Adapter that replicates its state via Raft
// consensus across the shard identified by shardID. The shard's replicas
// must already be started on nh (see CreateStateMachineFactory).
func NewRaftStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) store.Adapter {
	return &storeImpl{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
	}
}

func (s *storeImpl) write(ctx context.Context, cmd internal.Command) error {
	for i := 0; i < retries; i++ {
		propCtx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.nh.SyncPropose(propCtx, s.cs, cmd.Serialize())
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			storeLog.Infof("SyncPropose: system busy, retrying (%d/%d)", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}
		if err != nil {
			return store.NewError(store.RetCTransient, err.Error())
		}
		if res.Value != uint64(store.RetCSuccess) {
			return store.NewError(store.RetCode(res.Value), string(res.Data))
		}
		return nil
	}
	return store.NewError(store.RetCTransient, "timeout waiting for a quorum")
}

func read[R any](ctx context.Context, s *storeImpl, q internal.Query) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {
		readCtx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.nh.SyncRead(readCtx, s.shardID, q)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			storeLog.Infof("SyncRead: system busy, retrying (%d/%d)", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}
		if err != nil {
			return zero, store.NewError(store.RetCTransient, err.Error())
		}

		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError, fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, store.NewError(store.RetCTransient, "timeout waiting for a quorum")
}

func (s *storeImpl) PutIfAbsent(ctx context.Context, key string, rec store.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return store.NewError(store.RetCInternalError, err.Error())
	}
	return s.write(ctx, internal.Command{
		Type:   internal.CommandTPutIfAbsent,
		Key:    key,
		Record: data,
	})
}

func (s *storeImpl) PutIfVersion(ctx context.Context, key string, rec store.Record, expectedVersion string) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return store.NewError(store.RetCInternalError, err.Error())
	}
	return s.write(ctx, internal.Command{
		Type:            internal.CommandTPutIfVersion,
		Key:             key,
		Record:          data,
		ExpectedVersion: expectedVersion,
	})
}

func (s *storeImpl) DeleteIfVersion(ctx context.Context, key string, expectedVersion string) error {
	return s.write(ctx, internal.Command{
		Type:            internal.CommandTDeleteIfVersion,
		Key:             key,
		ExpectedVersion: expectedVersion,
	})
}

func (s *storeImpl) Get(ctx context.Context, key string) (*store.Record, error) {
	res, err := read[internal.QueryResult](ctx, s, internal.Query{
		Type: internal.QueryTGet,
		Key:  key,
	})
	if err != nil {
		return nil, err
	}
	if !res.Ok {
		return nil, nil
	}
	var rec store.Record
	if err := json.Unmarshal(res.Value, &rec); err != nil {
		return nil, store.NewError(store.RetCInternalError, err.Error())
	}
	return &rec, nil
}
