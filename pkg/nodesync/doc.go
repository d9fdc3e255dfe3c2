// Package nodesync defines the cross-pod sync contract: the thin
// shared-state and pub/sub façade that makes node presence and invoke
// routing visible across gateway pods.
//
// The sync layer does no application logic beyond message passing:
//   - presence: each pod writes its nodes' metadata to the shared store with
//     a TTL, so entries for a dead pod expire on their own
//   - routing: each pod subscribes to an invoke-request channel and an
//     invoke-result channel named after its own pod id; invoking a node
//     owned by pod P means publishing a request to P's request channel and
//     waiting for P to publish a result back
//
// Pub/sub here is fire-and-forget. There is no acknowledgment and no retry;
// the calling pod's own invoke timeout is the only delivery guarantee.
//
// The registry tolerates this layer being entirely absent, degrading to
// single-pod operation.
package nodesync
