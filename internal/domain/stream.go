package domain

// StreamState is the per-stream HTTP/2 lifecycle state (spec §3, §4.3).
type StreamState uint8

const (
	StreamIdle StreamState = iota
	StreamOpen
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamOpen:
		return "open"
	case StreamHalfClosedLocal:
		return "half_closed_local"
	case StreamHalfClosedRemote:
		return "half_closed_remote"
	case StreamClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ProtocolTag identifies which per-connection state machine owns a socket.
type ProtocolTag uint8

const (
	ProtocolUnknown ProtocolTag = iota
	ProtocolHTTP1
	ProtocolHTTP2
	ProtocolWebSocket
)
