package zmtp

import (
	"time"
)

// Options configures a Socket. The zero value is not valid; use
// DefaultOptions to get sane defaults and override individual fields.
type Options struct {
	// OutgoingQueueSize and IncomingQueueSize size each peer's delivery
	// buffers. Both directions get the same capacity: the larger of the
	// two values; neither direction is sized independently.
	OutgoingQueueSize int
	IncomingQueueSize int
	// HeartbeatTimeout sets the PING cadence of stream sessions (one
	// PING every HeartbeatTimeout/3, zero disables them) and the TTL the
	// PINGs advertise. Missing PONGs are not detected: a session is never
	// closed for lack of a reply.
	HeartbeatTimeout time.Duration
	// MaxReconnectInterval is not consulted: connect attempts are
	// retried at a fixed 10ms interval until they succeed or the
	// Connect context is done.
	MaxReconnectInterval time.Duration
	// MaxMessageSize bounds a single decoded stream frame's payload
	// length, for the TCP/IPC/inproc codec. Zero (the default) means
	// unbounded: draft ZMTP streams don't cap message size, unlike the
	// datagram codec below.
	MaxMessageSize int
	// MaxDatagramSize bounds a single decoded UDP datagram's payload
	// length. Unlike MaxMessageSize, this defaults to a real limit:
	// datagrams are bounded by the network path's MTU in practice, and
	// the codec has to reject an oversized one outright rather than
	// stream it incrementally.
	MaxDatagramSize int
	// Identity is advertised to peers during the ZMTP handshake.
	Identity []byte
	// Resource is advertised to peers during the ZMTP handshake.
	Resource string
}

// DefaultOptions matches the upstream library's documented defaults.
func DefaultOptions() Options {
	return Options{
		OutgoingQueueSize:    1024,
		IncomingQueueSize:    1024,
		HeartbeatTimeout:     10 * time.Second,
		MaxReconnectInterval: 30 * time.Second,
		MaxMessageSize:       0,
		MaxDatagramSize:      8192,
	}
}
