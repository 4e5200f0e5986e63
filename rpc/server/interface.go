package server

import (
	"github.com/arannis-dev/qlock/lib/store"
	"github.com/arannis-dev/qlock/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters. It is
// responsible for translating a decoded request into calls against a
// store.Adapter and encoding the result back into a response.
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response. If an error occurs,
	// it is carried in the response rather than returned directly, so the
	// caller can still serialize and send it back over the wire.
	Handle(req *common.Message, adapter store.Adapter) (resp *common.Message)
}
