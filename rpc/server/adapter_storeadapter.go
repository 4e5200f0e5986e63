package server

import (
	"context"
	"fmt"

	"github.com/arannis-dev/qlock/lib/store"
	"github.com/arannis-dev/qlock/rpc/common"
)

// NewStoreAdapterServerAdapter creates an IRPCServerAdapter translating wire
// messages into calls against a store.Adapter.
func NewStoreAdapterServerAdapter() IRPCServerAdapter {
	return &storeAdapterServerAdapter{}
}

type storeAdapterServerAdapter struct{}

func (a *storeAdapterServerAdapter) Handle(req *common.Message, adapter store.Adapter) *common.Message {
	if adapter == nil {
		return common.NewErrorResponse("handler: adapter is nil")
	}

	ctx := context.Background()

	switch req.MsgType {
	case common.MsgTPutIfAbsent:
		rec := store.Record{
			LockKey:        req.Key,
			LeaseDuration:  req.LeaseSeconds,
			VersionNumber:  req.Version,
			HostIdentifier: req.Host,
		}
		err := adapter.PutIfAbsent(ctx, req.Key, rec)
		return common.NewWriteResponse(err)

	case common.MsgTPutIfVersion:
		rec := store.Record{
			LockKey:        req.Key,
			LeaseDuration:  req.LeaseSeconds,
			VersionNumber:  req.Version,
			HostIdentifier: req.Host,
		}
		err := adapter.PutIfVersion(ctx, req.Key, rec, req.ExpectedVersion)
		return common.NewWriteResponse(err)

	case common.MsgTDeleteIfVersion:
		err := adapter.DeleteIfVersion(ctx, req.Key, req.ExpectedVersion)
		return common.NewWriteResponse(err)

	case common.MsgTGet:
		rec, err := adapter.Get(ctx, req.Key)
		if err != nil {
			return common.NewGetResponse(false, nil, "", 0, "", err)
		}
		if rec == nil {
			return common.NewGetResponse(false, nil, "", 0, "", nil)
		}
		return common.NewGetResponse(true, nil, rec.VersionNumber, rec.LeaseDuration, rec.HostIdentifier, nil)

	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC StoreAdapter - unsupported message type: %s", req.MsgType),
		)
	}
}
