// Package wireudp implements the ZMTP datagram framing used by the
// UDP transport: a single length-prefixed group followed by the
// remaining bytes as payload, with no multipart/command machinery
// since each datagram is exactly one message.
package wireudp

import "github.com/pkg/errors"

const maxGroupLen = 15

// Frame is a decoded UDP datagram: a group name (possibly empty) and
// a payload.
type Frame struct {
	Group   []byte
	Payload []byte
}

// Decode parses a single datagram buffer into a Frame. maxMessageSize,
// if positive, bounds the payload length.
func Decode(buf []byte, maxMessageSize int) (Frame, error) {
	if len(buf) < 1 {
		return Frame{}, errors.New("zmtp/udp: empty datagram")
	}
	groupLen := int(buf[0])
	if groupLen > maxGroupLen {
		return Frame{}, errors.Errorf("zmtp/udp: group length %d exceeds max %d", groupLen, maxGroupLen)
	}
	if len(buf) < 1+groupLen {
		return Frame{}, errors.New("zmtp/udp: truncated group name")
	}
	group := buf[1 : 1+groupLen]
	payload := buf[1+groupLen:]

	if maxMessageSize > 0 && len(payload) > maxMessageSize {
		return Frame{}, errors.Errorf("zmtp/udp: payload %d exceeds max message size %d", len(payload), maxMessageSize)
	}

	return Frame{Group: group, Payload: payload}, nil
}

// Encode serializes a Frame into a single datagram buffer.
func Encode(f Frame) ([]byte, error) {
	if len(f.Group) > maxGroupLen {
		return nil, errors.Errorf("zmtp/udp: group length %d exceeds max %d", len(f.Group), maxGroupLen)
	}
	buf := make([]byte, 1+len(f.Group)+len(f.Payload))
	buf[0] = byte(len(f.Group))
	copy(buf[1:], f.Group)
	copy(buf[1+len(f.Group):], f.Payload)
	return buf, nil
}
