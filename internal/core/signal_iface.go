package core

// Frame is a raw encoded message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues f without blocking.
	TrySend(Frame) error
	// Ping sends a liveness probe.
	Ping() error
	// CloseWithReason tells the peer why it is being disconnected, then closes.
	CloseWithReason(code int, reason string)
	Close()
}
