package nodesync

import "time"

// Shared-store naming. Every pod writes node entries under the same prefix
// and listens on the two channels derived from its own pod id.
const (
	// DefaultKeyPrefix namespaces every key and channel this gateway touches.
	DefaultKeyPrefix = "gateway:"

	// DefaultNodeTTL is how long a node entry survives without a refresh.
	// The owning pod must refresh on heartbeat or the entry expires,
	// signaling that pod's death to everyone else.
	DefaultNodeTTL = 120 * time.Second

	nodeKeySegment       = "nodes:"
	invokeChannelSegment = "invoke:"
	resultChannelSegment = "invoke-result:"
)

func nodeKey(prefix, nodeID string) string {
	return prefix + nodeKeySegment + nodeID
}

func nodeKeyPattern(prefix string) string {
	return prefix + nodeKeySegment + "*"
}

func nodeIDFromKey(prefix, key string) string {
	return key[len(prefix)+len(nodeKeySegment):]
}

func invokeChannel(prefix, podID string) string {
	return prefix + invokeChannelSegment + podID
}

func resultChannel(prefix, podID string) string {
	return prefix + resultChannelSegment + podID
}
