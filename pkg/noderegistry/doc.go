// Package noderegistry defines the public contract of the node registry
// component: the table of node devices connected to this gateway pod and the
// invoke operation that dispatches a command to one of them.
//
// This package defines the core abstractions:
//   - Connection: one live transport to a node, supplied by the connection
//     handling layer (websocket endpoint, tunnel adapter, or a test fake)
//   - Registration: the declared identity, capabilities, and commands a node
//     presents when it connects
//   - Registry: register/unregister, invoke with timeout semantics, result
//     correlation, and cluster-wide node listing
//
// The interfaces use Go idioms:
//   - context.Context on every blocking or I/O-bound operation
//   - Expected invoke failures (not connected, timeout, unavailable) are
//     values carried in InvokeResult, not Go errors; errors are reserved for
//     caller-side conditions such as context cancellation
//
// Example usage:
//
//	session := registry.Register(ctx, conn, noderegistry.Registration{
//		NodeID:   "node-1",
//		Commands: []string{"camera.snap"},
//	})
//
//	res, err := registry.Invoke(ctx, noderegistry.InvokeParams{
//		NodeID:  "node-1",
//		Command: "camera.snap",
//	})
//	if err != nil {
//		return err // cancelled, not a node failure
//	}
//	if !res.OK {
//		log.Warn("invoke failed", zap.String("code", res.Error.Code))
//	}
package noderegistry
