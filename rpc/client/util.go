package client

import (
	"fmt"

	"github.com/arannis-dev/qlock/rpc/common"
	"github.com/arannis-dev/qlock/rpc/serializer"
	"github.com/arannis-dev/qlock/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter stores everything an RPC client implementation needs to
// invoke requests against one shard. Used by rpcStoreAdapter and
// RPCTableAdminClient with composition.
type rpcClientAdapter struct {
	shardId    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invokeRPCRequest serializes req, sends it to shardId over transport, and
// decodes the response, checking that it isn't an error response and that
// its type matches the request.
func invokeRPCRequest(shardId uint64, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	respBytes, err := transport.Send(shardId, reqBytes)
	if err != nil {
		return nil, err
	}

	resp := &common.Message{}
	if err := serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("rpc client: failed to decode response: %s", err)
	}

	if resp.MsgType == common.MsgTError || resp.Err != "" {
		return nil, resp.AsStoreError()
	}

	return resp, nil
}
