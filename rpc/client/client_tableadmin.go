package client

import (
	"github.com/arannis-dev/qlock/rpc/common"
	"github.com/arannis-dev/qlock/rpc/serializer"
	"github.com/arannis-dev/qlock/rpc/transport"
)

// NewRPCTableAdminClient creates a client for the CreateTable/DeleteTable/
// ListTables administration surface, sent against common.AdminShardID.
func NewRPCTableAdminClient(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*RPCTableAdminClient, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &RPCTableAdminClient{
		rpcClientAdapter{
			shardId:    common.AdminShardID,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

// RPCTableAdminClient lets a caller create, delete and list tables on a
// remote server without going through a store.Adapter, since table
// administration isn't a store.Adapter operation.
type RPCTableAdminClient struct {
	rpcClientAdapter
}

// CreateTable provisions a new memory-backed table with the given name.
func (a *RPCTableAdminClient) CreateTable(name string) error {
	req := common.NewCreateTableRequest(name, 0, 0)
	_, err := invokeRPCRequest(a.shardId, req, a.transport, a.serializer)
	return err
}

// DeleteTable tears down the table with the given name.
func (a *RPCTableAdminClient) DeleteTable(name string) error {
	req := common.NewDeleteTableRequest(name)
	_, err := invokeRPCRequest(a.shardId, req, a.transport, a.serializer)
	return err
}

// ListTables returns the names of every table known to the server.
func (a *RPCTableAdminClient) ListTables() ([]string, error) {
	req := common.NewListTablesRequest()
	resp, err := invokeRPCRequest(a.shardId, req, a.transport, a.serializer)
	if err != nil {
		return nil, err
	}
	return resp.TableList, nil
}
