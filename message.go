package zmtp

import "github.com/go-zmtp/zmtp/internal/core"

// The public message/envelope types are thin aliases over
// internal/core, which is shared (dependency-free) with the wire,
// session and dispatch packages below the public API.
type (
	Payload  = core.Payload
	Group    = core.Group
	Route    = core.Route
	Message  = core.Message
	Info     = core.Info
	Envelope = core.Envelope
)

// NewGroup validates and constructs a Group from raw bytes.
func NewGroup(b []byte) (Group, error) { return core.NewGroup(b) }

// IntoMessage is the argument type of Send/Broadcast/Route. Build one
// from raw bytes with Bytes, from a group and bytes with GroupedBytes,
// or from a Message with AsMessage.
type IntoMessage interface {
	intoMessage() Message
}

type messageValue Message

func (m messageValue) intoMessage() Message { return Message(m) }

// AsMessage wraps a Message as an IntoMessage (a no-op, provided so
// every call site can use the same conversion regardless of argument
// shape).
func AsMessage(m Message) IntoMessage { return messageValue(m) }

type bytesMessage []byte

func (b bytesMessage) intoMessage() Message { return Message{Payload: Payload(b)} }

// Bytes wraps raw bytes as an IntoMessage with no group.
func Bytes(b []byte) IntoMessage { return bytesMessage(b) }

type groupedMessage struct {
	group   Group
	payload []byte
}

func (g groupedMessage) intoMessage() Message {
	return Message{Group: g.group, Payload: Payload(g.payload)}
}

// GroupedBytes wraps raw bytes with a group, for RADIO/SCATTER sends.
func GroupedBytes(group Group, b []byte) IntoMessage {
	return groupedMessage{group: group, payload: b}
}
