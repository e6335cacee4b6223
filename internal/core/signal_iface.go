package core

// Frame is a raw text payload, one JSON document or a bare token.
type Frame []byte

// CloseReason is sent to the peer as the close frame of the transport.
type CloseReason struct {
	Code int
	Text string
}

var (
	CloseNormal           = CloseReason{Code: 1000, Text: "closed"}
	CloseShutdown         = CloseReason{Code: 1001, Text: "server shutdown"}
	CloseSuperseded       = CloseReason{Code: 4000, Text: "superseded by a new connection"}
	CloseHeartbeatTimeout = CloseReason{Code: 4001, Text: "heartbeat timeout"}
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; sends never block the caller.
type SignalConnection interface {
	TrySend(Frame) error
	// Ping asks the transport for a liveness ping at its own level.
	Ping() error
	// Close is idempotent; the first reason wins.
	Close(CloseReason)
	IsOpen() bool
}
