package transport

import "time"

// Transport is the seam between the raft package's protocol logic and
// whatever fabric actually carries bytes between endpoints. Recv is
// non-blocking with a bounded wait, per the single-threaded event loop's
// "block-receive one message with a timeout" requirement.
type Transport interface {
	// Send encodes and delivers msg to msg.Dst (or broadcasts it, if Dst is
	// the Broadcast ID). Send errors are logged by the caller and never
	// fatal: message loss is handled by the protocol's timers.
	Send(msg Message) error

	// Recv waits up to timeout for a single message. ok is false if nothing
	// arrived before the deadline; err is non-nil only for unexpected
	// transport failures, never for a plain timeout.
	Recv(timeout time.Duration) (msg Message, ok bool, err error)

	// LocalID returns the endpoint name this transport listens on.
	LocalID() string
}
