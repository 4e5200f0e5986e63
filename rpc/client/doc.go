// Package client implements RPC clients for the distributed lock manager
// system. It provides a store.Adapter implementation that forwards every
// operation to a remote shard, plus a small client for the table
// administration surface.
//
// The package focuses on:
//   - Transparent RPC access to a remote store.Adapter shard
//   - Integration with the transport and serialization layers
//   - Preserving store.Error kinds (RetCConflict, RetCTransient, ...) across
//     the wire, so lib/dlm's retry logic behaves the same whether its
//     store.Adapter is local or remote
//
// Key Components:
//
//   - NewRPCStoreAdapter: factory function that creates a client implementing
//     the store.Adapter interface. This client forwards all operations to a
//     remote server via the configured transport layer.
//
//   - NewRPCTableAdminClient: factory function that creates a client for
//     creating, deleting and listing tables on a remote server.
//
// Usage Example:
//
//	// Configure the client
//	cfg := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:              []string{"localhost:5000"},
//	    RetryCount:             3,
//	    ConnectionsPerEndpoint: 1,
//	  },
//	}
//
//	// Create a serializer
//	ser := serializer.NewBinarySerializer()
//
//	// Create a store.Adapter client bound to shard 1
//	adapter, _ := client.NewRPCStoreAdapter(1, cfg, tcp.NewTCPClientTransport(), ser)
//
//	// Run the dlm protocol against it exactly like a local store.Adapter
//	session, _ := dlm.NewSession(adapter, "locks")
//	handle, _ := session.CreateLock("my-resource", dlm.WithHandleLeaseDuration(30*time.Second))
//	_ = handle.Acquire(ctx)
//
//	// Create and use a table administration client
//	admin, _ := client.NewRPCTableAdminClient(cfg, tcp.NewTCPClientTransport(), ser)
//	_ = admin.CreateTable("locks")
//	tables, _ := admin.ListTables()
//
// Performance Considerations:
//
//   - For applications that frequently send large payloads, increasing ConnectionsPerEndpoint
//     can improve throughput by allowing parallel requests.
//
//   - For small messages, a single connection per endpoint is often more efficient due to
//     reduced connection overhead.
//
//   - The choice of serializer significantly affects performance. The binary serializer
//     provides the best performance and smallest payload size.
//
// Thread Safety:
//
//	All client implementations are thread-safe and can be used concurrently from
//	multiple goroutines without additional synchronization.
package client
