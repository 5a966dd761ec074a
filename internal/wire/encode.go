package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	flagMore    = 0x01
	flagLong    = 0x02
	flagCommand = 0x04
)

// Writer is the subset of *bytes.Buffer and *bufio.Writer that the
// encoder needs. Sessions encode straight onto a *bufio.Writer over
// the wire; tests encode into a *bytes.Buffer.
type Writer interface {
	Write(p []byte) (int, error)
	WriteByte(c byte) error
	WriteString(s string) (int, error)
}

// WriteGreeting writes the 64-byte ZMTP preamble for a NULL-mechanism
// peer, advertising protocol version 3.1 and setting the as-server
// flag byte from asServer.
func WriteGreeting(buf Writer, asServer bool) {
	buf.Write([]byte{0xFF, 0, 0, 0, 0, 0, 0, 0, 0, 0x7F})
	buf.WriteByte(3) // version major
	buf.WriteByte(1) // version minor

	var mech [mechanismLen]byte
	copy(mech[:], MechanismNull)
	buf.Write(mech[:])

	if asServer {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	var filler [31]byte
	buf.Write(filler[:])
}

// writeCommand writes a command frame: flag octet with the COMMAND bit
// set, a length-prefixed name, then the command-specific body.
func writeCommand(buf Writer, name string, body []byte) error {
	if len(name) > 255 {
		return errors.Errorf("zmtp: command name %q too long", name)
	}
	bodyLen := 1 + len(name) + len(body)
	writeLengthFlag(buf, bodyLen, flagCommand)
	buf.WriteByte(byte(len(name)))
	buf.WriteString(name)
	buf.Write(body)
	return nil
}

func writeLengthFlag(buf Writer, bodyLen int, extraFlags byte) {
	if bodyLen > 255 {
		buf.WriteByte(extraFlags | flagLong)
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(bodyLen))
		buf.Write(lenBuf[:])
	} else {
		buf.WriteByte(extraFlags)
		buf.WriteByte(byte(bodyLen))
	}
}

// WriteMessage writes a data frame. more indicates additional frames
// belong to the same multipart message.
func WriteMessage(buf Writer, payload []byte, more bool) {
	var flags byte
	if more {
		flags = flagMore
	}
	writeLengthFlag(buf, len(payload), flags)
	buf.Write(payload)
}

// WriteReady writes a READY command advertising socketType and the
// given properties (Identity/Resource/custom), in map-iteration order.
func WriteReady(buf Writer, socketType string, properties map[string][]byte) error {
	var body bytes.Buffer
	if err := writeProperty(&body, PropSocketType, []byte(socketType)); err != nil {
		return err
	}
	for k, v := range properties {
		if err := writeProperty(&body, k, v); err != nil {
			return err
		}
	}
	return writeCommand(buf, CmdReady, body.Bytes())
}

func writeProperty(buf Writer, key string, value []byte) error {
	if len(key) > 255 {
		return errors.Errorf("zmtp: property name %q too long", key)
	}
	buf.WriteByte(byte(len(key)))
	buf.WriteString(key)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(value)))
	buf.Write(lenBuf[:])
	buf.Write(value)
	return nil
}

// WritePing writes a PING command with the given TTL (in
// hundredths-of-a-second, per the ZMTP heartbeat spec) and context.
func WritePing(buf Writer, ttl uint16, context []byte) error {
	body := make([]byte, 2+len(context))
	binary.BigEndian.PutUint16(body, ttl)
	copy(body[2:], context)
	return writeCommand(buf, CmdPing, body)
}

// WritePong mirrors a PING's context back to the sender.
func WritePong(buf Writer, context []byte) error {
	return writeCommand(buf, CmdPong, context)
}

// WriteSubscribe writes a SUBSCRIBE command (legacy SUB-side topic
// filter). Unlike JOIN/LEAVE, the topic is not capped at
// maxGroupNameLen: legacy PUB/SUB filters carry arbitrary byte prefixes.
func WriteSubscribe(buf Writer, group string) error {
	return writeCommand(buf, CmdSubscribe, []byte(group))
}

// WriteCancel writes a CANCEL command (legacy SUB-side topic
// unsubscription).
func WriteCancel(buf Writer, group string) error {
	return writeCommand(buf, CmdCancel, []byte(group))
}

// WriteJoin writes a JOIN command (DISH-side group subscription).
func WriteJoin(buf Writer, group string) error {
	if len(group) > maxGroupNameLen {
		return errors.Errorf("zmtp: group name %q too long", group)
	}
	return writeCommand(buf, CmdJoin, []byte(group))
}

// WriteLeave writes a LEAVE command (DISH-side group unsubscription).
func WriteLeave(buf Writer, group string) error {
	if len(group) > maxGroupNameLen {
		return errors.Errorf("zmtp: group name %q too long", group)
	}
	return writeCommand(buf, CmdLeave, []byte(group))
}

const maxGroupNameLen = 15
