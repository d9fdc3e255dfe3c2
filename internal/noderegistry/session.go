package noderegistry

import (
	registrypkg "github.com/nodegate/nodegate-go/pkg/noderegistry"
	"github.com/nodegate/nodegate-go/pkg/nodesync"
)

// Session is the state held for one live connection to a node device. It is
// owned exclusively by the pod that accepted the connection and destroyed on
// disconnect.
type Session struct {
	NodeID       string
	ConnectionID string
	Conn         registrypkg.Connection

	DisplayName string
	Platform    string
	Version     string
	AppKind     string
	CWD         string
	RemoteIP    string

	Capabilities []string
	Commands     []string

	// Opaque passthrough fields, not interpreted by the registry.
	Permissions map[string]bool
	PathEnv     string

	ConnectedAtMs int64
}

// Meta returns the publicly shareable projection of this session, as written
// to the shared store for cross-pod visibility.
func (s *Session) Meta() nodesync.NodeMeta {
	return nodesync.NodeMeta{
		DisplayName:   s.DisplayName,
		Platform:      s.Platform,
		Version:       s.Version,
		AppKind:       s.AppKind,
		CWD:           s.CWD,
		RemoteIP:      s.RemoteIP,
		Capabilities:  s.Capabilities,
		Commands:      s.Commands,
		ConnectedAtMs: s.ConnectedAtMs,
	}
}

// Info returns the ListAll descriptor for this session, tagged local.
func (s *Session) Info(podID string) registrypkg.NodeInfo {
	return registrypkg.NodeInfo{
		NodeID:        s.NodeID,
		DisplayName:   s.DisplayName,
		Platform:      s.Platform,
		Version:       s.Version,
		Capabilities:  s.Capabilities,
		Commands:      s.Commands,
		ConnectedAtMs: s.ConnectedAtMs,
		RemoteIP:      s.RemoteIP,
		Connected:     true,
		Local:         true,
		PodID:         podID,
	}
}
