package core

// Frame is an encoded outbound message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues without blocking. A full queue returns
	// domain.ErrQueueOverflow.
	TrySend(Frame) error
	Close()
}
