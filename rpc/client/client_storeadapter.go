package client

import (
	"context"

	"github.com/arannis-dev/qlock/lib/store"
	"github.com/arannis-dev/qlock/rpc/common"
	"github.com/arannis-dev/qlock/rpc/serializer"
	"github.com/arannis-dev/qlock/rpc/transport"
)

// NewRPCStoreAdapter creates a store.Adapter that forwards every operation
// to shardId on a remote server, letting lib/dlm.Session run its protocol
// against a table it doesn't host locally.
func NewRPCStoreAdapter(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.Adapter, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &rpcStoreAdapter{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcStoreAdapter struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store.Adapter)
// --------------------------------------------------------------------------

func (a *rpcStoreAdapter) PutIfAbsent(_ context.Context, key string, rec store.Record) error {
	req := common.NewPutIfAbsentRequest(key, nil, rec.LeaseDuration, rec.VersionNumber, rec.HostIdentifier)
	_, err := invokeRPCRequest(a.shardId, req, a.transport, a.serializer)
	return err
}

func (a *rpcStoreAdapter) PutIfVersion(_ context.Context, key string, rec store.Record, expectedVersion string) error {
	req := common.NewPutIfVersionRequest(key, nil, rec.LeaseDuration, rec.VersionNumber, rec.HostIdentifier, expectedVersion)
	_, err := invokeRPCRequest(a.shardId, req, a.transport, a.serializer)
	return err
}

func (a *rpcStoreAdapter) DeleteIfVersion(_ context.Context, key string, expectedVersion string) error {
	req := common.NewDeleteIfVersionRequest(key, expectedVersion)
	_, err := invokeRPCRequest(a.shardId, req, a.transport, a.serializer)
	return err
}

func (a *rpcStoreAdapter) Get(_ context.Context, key string) (*store.Record, error) {
	req := common.NewGetRequest(key)
	resp, err := invokeRPCRequest(a.shardId, req, a.transport, a.serializer)
	if err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, nil
	}
	return &store.Record{
		LockKey:        key,
		LeaseDuration:  resp.RespLease,
		VersionNumber:  resp.RespVersion,
		HostIdentifier: resp.RespHost,
	}, nil
}
