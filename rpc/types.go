package rpc

// HandshakeRequest is one client message in a handshake stream.
type HandshakeRequest struct {
	ClientMessage string
}

// HandshakeResponse answers exactly one HandshakeRequest.
type HandshakeResponse struct {
	ServerMessage string
}

// SpawnFrontEndRequest carries no credentials; the broker uses its own.
type SpawnFrontEndRequest struct{}

type SpawnFrontEndResponse struct {
	Success bool
}

type HeartbeatResponse struct {
	Role string
}

const (
	RoleCore  = "core"
	RoleAgent = "agent"
)

const (
	// CoreTag prefixes the content server's handshake replies.
	CoreTag = "Echo: "
	// AgentTag prefixes the broker's relayed handshake replies.
	AgentTag = "Agent Proxy: "
)

const (
	pathHandshake = "/handshake"
	pathFrontEnds = "/frontends"
	pathHeartbeat = "/heartbeat"
)
