// Package server implements the RPC server exposing store.Adapter shards
// (tables) over the wire, plus a small table-administration surface for
// creating, deleting and listing tables at runtime.
//
// The package focuses on:
//   - Server-side RPC request handling for the four store.Adapter
//     operations (PutIfAbsent, PutIfVersion, DeleteIfVersion, Get)
//   - Adapter pattern to decouple request handling from RPC mechanics
//   - Statically configured memory- or raft-backed shards at startup, plus
//     dynamically created memory-backed tables via CreateTable
//
// Key Components:
//
//   - IRPCServerAdapter: interface defining the contract for shard-level
//     adapters, with the Handle method that processes incoming requests
//     against a store.Adapter.
//
//   - NewStoreAdapterServerAdapter: factory function creating the adapter
//     that translates RPC requests to store.Adapter method calls.
//
//   - NewRPCServer: factory function creating a configured server with the
//     specified transport, serializer and table registry.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {Name: "locks", ShardID: 1, Type: common.ShardTypeMemory},
//	  },
//	  Transport: common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	  TimeoutSecond: 5,
//	  LogLevel: "info",
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPServerTransport(),
//	  serializer.NewBinarySerializer(),
//	  registry,
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Requests for shard ID common.AdminShardID are routed to table
// administration instead of any store.Adapter, and are handled directly by
// the server rather than through IRPCServerAdapter, since creating or
// deleting a table mutates the server's own shard map.
//
// Thread Safety:
//
//	The server implementation is thread-safe and can handle concurrent
//	requests across multiple connections. Each request is processed
//	independently. The Serve method is not thread-safe and should be
//	called only once.
package server
