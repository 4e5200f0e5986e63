package server

import (
	"fmt"
	"runtime"
	"syscall"
	"time"

	"github.com/arannis-dev/qlock/lib/db"
	"github.com/arannis-dev/qlock/lib/db/engines/maple"
	"github.com/arannis-dev/qlock/lib/store"
	"github.com/arannis-dev/qlock/lib/store/memstore"
	"github.com/arannis-dev/qlock/lib/store/raftstore"
	"github.com/arannis-dev/qlock/lib/store/tableadmin"
	"github.com/arannis-dev/qlock/rpc/common"
	"github.com/arannis-dev/qlock/rpc/serializer"
	"github.com/arannis-dev/qlock/rpc/transport"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"os/signal"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a struct that represents a shard in the RPC server. It
// contains the store.Adapter it exposes and the wire adapter that
// translates requests into calls against it.
type serverShard struct {
	Name    string
	Adapter store.Adapter
	Wire    IRPCServerAdapter
}

// NewRPCServer creates a new RPC server.
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewJSONSerializer(),
//		registry,
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
	registry *tableadmin.Registry,
) rpcServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	shardMap := xsync.NewMapOf[uint64, serverShard]()

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return rpcServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     shardMap,
		registry:   registry,
	}
}

type rpcServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
	registry   *tableadmin.Registry

	nodeHost         *dragonboat.NodeHost
	timeout          time.Duration
	nextDynamicShard uint64
}

func (s *rpcServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(shardId uint64, req []byte) []byte {
		var msg common.Message
		var respMsg common.Message

		if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.Message{
				MsgType: common.MsgTError,
				Err:     fmt.Sprintf("failed to deserialize request: %s", err),
			}
		} else if shardId == common.AdminShardID {
			respMsg = *s.handleAdminRequest(&msg)
		} else if shard, ok := s.shards.Load(shardId); ok {
			respMsg = *shard.Wire.Handle(&msg, shard.Adapter)
		} else {
			respMsg = common.Message{
				MsgType: common.MsgTError,
				Err:     fmt.Sprintf("shard %d not found", shardId),
			}
		}

		val, err := s.serializer.Serialize(respMsg)
		if err != nil {
			val, _ = s.serializer.Serialize(common.Message{
				MsgType: common.MsgTError,
				Err:     fmt.Sprintf("failed to serialize response: %s", err),
			})
		}
		return val
	})
}

// handleAdminRequest implements CreateTable, DeleteTable and ListTables.
// Tables created this way are always memory-backed: promoting a table to a
// raft shard requires the multi-step Dragonboat membership-change dance
// (propose, wait for quorum, start the replica on every node) which this
// single-process registry has no way to coordinate. Raft-backed tables are
// still supported, but only via the statically configured ServerConfig.Shards
// list a server starts with.
func (s *rpcServer) handleAdminRequest(req *common.Message) *common.Message {
	switch req.MsgType {
	case common.MsgTCreateTable:
		if _, exists, _ := s.registry.Lookup(req.TableName); exists {
			return common.NewErrorResponse(fmt.Sprintf("table %q already exists", req.TableName))
		}
		shardID := s.allocateDynamicShardID()
		if err := s.registry.Create(req.TableName, shardID); err != nil {
			return common.NewErrorResponse(err.Error())
		}
		s.shards.Store(shardID, serverShard{
			Name:    req.TableName,
			Adapter: memstore.NewMemStore(),
			Wire:    NewStoreAdapterServerAdapter(),
		})
		Logger.Infof("created table %q on shard %d", req.TableName, shardID)
		return common.NewWriteResponse(nil)

	case common.MsgTDeleteTable:
		table, exists, err := s.registry.Lookup(req.TableName)
		if err != nil {
			return common.NewErrorResponse(err.Error())
		}
		if !exists {
			return common.NewErrorResponse(fmt.Sprintf("table %q does not exist", req.TableName))
		}
		if err := s.registry.Delete(req.TableName); err != nil {
			return common.NewErrorResponse(err.Error())
		}
		s.shards.Delete(table.ShardID)
		return common.NewWriteResponse(nil)

	case common.MsgTListTables:
		tables, err := s.registry.List()
		if err != nil {
			return common.NewListTablesResponse(nil, err)
		}
		names := make([]string, 0, len(tables))
		for _, staticShard := range s.config.Shards {
			names = append(names, staticShard.Name)
		}
		for _, t := range tables {
			names = append(names, t.Name)
		}
		return common.NewListTablesResponse(names, nil)

	default:
		return common.NewErrorResponse(fmt.Sprintf("RPC admin adapter - unsupported message type: %s", req.MsgType))
	}
}

// allocateDynamicShardID picks a shard ID for a table created at runtime,
// starting well above any statically configured shard ID to avoid collision.
func (s *rpcServer) allocateDynamicShardID() uint64 {
	if s.nextDynamicShard == 0 {
		s.nextDynamicShard = 1 << 32
		for _, shard := range s.config.Shards {
			if shard.ShardID >= s.nextDynamicShard {
				s.nextDynamicShard = shard.ShardID + 1
			}
		}
	}
	id := s.nextDynamicShard
	s.nextDynamicShard++
	return id
}

func (s *rpcServer) init() error {
	common.InitLoggers(s.config)

	dbFactory := func() db.KVDB { return maple.NewMapleDB(maple.DefaultOptions()) }

	if s.config.HasRaftShard() {
		nh, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		s.nodeHost = nh
	}

	s.timeout = time.Duration(s.config.TimeoutSecond) * time.Second

	for _, shardConfig := range s.config.Shards {
		switch shardConfig.Type {
		case common.ShardTypeMemory:
			s.shards.Store(shardConfig.ShardID, serverShard{
				Name:    shardConfig.Name,
				Adapter: memstore.NewMemStore(),
				Wire:    NewStoreAdapterServerAdapter(),
			})
			Logger.Infof("created memory table %q on shard %d", shardConfig.Name, shardConfig.ShardID)

		case common.ShardTypeRaft:
			if s.nodeHost == nil {
				return fmt.Errorf("node host is nil, cannot create raft table %q", shardConfig.Name)
			}
			factory := raftstore.CreateStateMachineFactory(dbFactory)
			if err := s.nodeHost.StartConcurrentReplica(s.config.ClusterMembers, false, factory, s.config.ToDragonboatConfig(shardConfig.ShardID)); err != nil {
				return fmt.Errorf("failed to start raft table %q on shard %d: %w", shardConfig.Name, shardConfig.ShardID, err)
			}
			s.shards.Store(shardConfig.ShardID, serverShard{
				Name:    shardConfig.Name,
				Adapter: raftstore.NewRaftStore(s.nodeHost, shardConfig.ShardID, s.timeout),
				Wire:    NewStoreAdapterServerAdapter(),
			})
			Logger.Infof("created raft table %q on shard %d", shardConfig.Name, shardConfig.ShardID)

		default:
			return fmt.Errorf("invalid shard type: %s", shardConfig.Type)
		}
	}

	Logger.Infof("qlock server setup completed successfully")

	s.registerTransportHandler()
	return nil
}

// Serve starts the RPC server. It initializes every configured shard and
// then blocks on the transport's Listen loop.
func (s *rpcServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}
