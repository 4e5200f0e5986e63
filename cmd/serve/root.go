package serve

import (
	"fmt"
	stdhttp "net/http"
	"strconv"
	"strings"

	cmdUtil "github.com/arannis-dev/qlock/cmd/util"
	dbutil "github.com/arannis-dev/qlock/lib/db/util"
	"github.com/arannis-dev/qlock/lib/metrics"
	"github.com/arannis-dev/qlock/lib/store/tableadmin"
	"github.com/arannis-dev/qlock/rpc/common"
	"github.com/arannis-dev/qlock/rpc/serializer"
	"github.com/arannis-dev/qlock/rpc/server"
	"github.com/arannis-dev/qlock/rpc/transport"
	"github.com/arannis-dev/qlock/rpc/transport/http"
	"github.com/arannis-dev/qlock/rpc/transport/tcp"
	"github.com/arannis-dev/qlock/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig  = &common.ServerConfig{}
	registryPath    string
	tcpBufferSizeKB int
	metricsAddr     string

	ServeCmd = &cobra.Command{
		Use:     "serve",
		Short:   "Start the qlock server",
		Long:    `Start the qlock server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is QLOCK_<flag> (e.g. QLOCK_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "shards"
	ServeCmd.PersistentFlags().String(key, "1=locks=memory", cmdUtil.WrapString("Comma-separated list of statically configured shards to serve. Format: ID=NAME=TYPE where TYPE is one of: memory, raft"))

	key = "registry"
	ServeCmd.PersistentFlags().StringVar(&registryPath, key, "data/tables.json", cmdUtil.WrapString("Path to the table registry file, tracking tables created at runtime via CreateTable"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(raft shards only) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. \nOther raft timings are expressed in multiples of this value (ElectionRTT=10, HeartbeatRTT=1)"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 10, cmdUtil.WrapString("(raft shards only) SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. SnapshotEntries can be set to 0 to disable such automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("(raft shards only) CompactionOverhead defines the number of snapshots that should be retained in the system. When a new snapshot is generated, the system will attempt to remove older snapshots that go beyond the specified number of retained snapshots. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("(raft shards only) DataDir is the directory used for storing the snapshots"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(raft shards only) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(raft shards only) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for raft proposals against raft-backed shards, also used as the read/write deadline of tcp/unix connections"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080, /tmp/qlock.sock, ...)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "tcp-buffer"
	ServeCmd.PersistentFlags().IntVar(&tcpBufferSizeKB, key, 64, cmdUtil.WrapString("Buffer size in KB: the request framing buffer of the unix transport, and the socket read/write buffer sizes of the tcp transport"))

	key = "metrics-addr"
	ServeCmd.PersistentFlags().StringVar(&metricsAddr, key, "", cmdUtil.WrapString("Address to expose Prometheus-format metrics on, e.g. localhost:9090 (empty disables the metrics endpoint)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	shardsConfig := viper.GetString("shards")
	serveCmdConfig.Shards = []common.ServerShard{}
	for _, shardConfig := range strings.Split(shardsConfig, ",") {
		parts := strings.Split(shardConfig, "=")
		if len(parts) != 3 {
			return fmt.Errorf("invalid shard format: %s (expected ID=NAME=TYPE)", shardConfig)
		}

		shardID, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid shard ID %s: %v", parts[0], err)
		}

		name := strings.TrimSpace(parts[1])
		shardType := strings.TrimSpace(parts[2])
		var serverShardType common.ServerShardType

		switch shardType {
		case "memory":
			serverShardType = common.ShardTypeMemory
		case "raft":
			serverShardType = common.ShardTypeRaft
		default:
			return fmt.Errorf("invalid shard type: %s (expected one of: memory, raft)", shardType)
		}

		serveCmdConfig.Shards = append(serveCmdConfig.Shards, common.ServerShard{
			Name:    name,
			ShardID: shardID,
			Type:    serverShardType,
		})
	}

	serveCmdConfig.Transport.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.Transport.WriteBufferSize = tcpBufferSizeKB * 1024
	serveCmdConfig.Transport.ReadBufferSize = tcpBufferSizeKB * 1024

	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if id := viper.GetString("replica-id"); id != "" {
		serveCmdConfig.ReplicaID = uint64(dbutil.HashString(id, 0))
	} else if serveCmdConfig.HasRaftShard() {
		return fmt.Errorf("replica-id is required when serving a raft-backed shard")
	}

	if clusterMembers := viper.GetString("cluster-members"); clusterMembers != "" {
		serveCmdConfig.ClusterMembers = make(map[uint64]string)
		for _, member := range strings.Split(clusterMembers, ",") {
			parts := strings.Split(member, "=")
			if len(parts) != 2 {
				return fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
			}
			idHash := dbutil.HashString(parts[0], 0)
			serveCmdConfig.ClusterMembers[uint64(idHash)] = parts[1]
		}
	} else if serveCmdConfig.HasRaftShard() {
		return fmt.Errorf("cluster-members is required when serving a raft-backed shard")
	}

	if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok && serveCmdConfig.HasRaftShard() {
		return fmt.Errorf("no address found for replica ID %d in cluster members", serveCmdConfig.ReplicaID)
	}

	registryPath = viper.GetString("registry")
	metricsAddr = viper.GetString("metrics-addr")

	return nil
}

// run starts the qlock server
func run(_ *cobra.Command, _ []string) error {
	var s serializer.IRPCSerializer
	switch viper.GetString("serializer") {
	case "json":
		s = serializer.NewJSONSerializer()
	case "gob":
		s = serializer.NewGOBSerializer()
	case "binary":
		s = serializer.NewBinarySerializer()
	default:
		return fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}

	var t transport.IRPCServerTransport
	switch viper.GetString("transport") {
	case "http":
		t = http.NewHttpServerTransport()
	case "tcp":
		t = tcp.NewTCPServerTransport()
	case "unix":
		t = unix.NewUnixServerTransport(tcpBufferSizeKB * 1024)
	default:
		return fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}

	registry, err := tableadmin.Open(registryPath)
	if err != nil {
		return fmt.Errorf("failed to open table registry: %w", err)
	}

	if metricsAddr != "" {
		mux := stdhttp.NewServeMux()
		mux.HandleFunc("/metrics", func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
			metrics.WritePrometheus(w)
		})
		go func() {
			server.Logger.Infof("starting metrics server on %s", metricsAddr)
			server.Logger.Infof("%v", stdhttp.ListenAndServe(metricsAddr, mux))
		}()
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
		registry,
	)

	return serv.Serve()
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("qlock")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
