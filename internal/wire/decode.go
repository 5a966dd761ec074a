package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ReadGreeting reads and validates the 64-byte ZMTP preamble. Only the
// NULL mechanism is accepted; anything else is reported so the caller
// can fail the handshake cleanly instead of misinterpreting garbage.
func ReadGreeting(r io.Reader) (Greeting, error) {
	var buf [GreetingLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Greeting{}, errors.Wrap(err, "zmtp: reading greeting")
	}

	if buf[0] != 0xFF || buf[9] != 0x7F {
		return Greeting{}, errors.New("zmtp: invalid greeting signature")
	}
	// Any version is accepted (no downgrade logic): ZMTP 3.x peers are
	// expected to be wire-compatible regardless of minor version.
	versionMajor, versionMinor := buf[10], buf[11]

	mechBytes := buf[12 : 12+mechanismLen]
	end := 0
	for end < len(mechBytes) && mechBytes[end] != 0 {
		end++
	}
	mechanism := string(mechBytes[:end])
	if mechanism != MechanismNull {
		return Greeting{}, errors.Errorf("zmtp: unsupported security mechanism %q", mechanism)
	}

	asServer := buf[12+mechanismLen] != 0

	return Greeting{
		VersionMajor: versionMajor,
		VersionMinor: versionMinor,
		Mechanism:    mechanism,
		AsServer:     asServer,
	}, nil
}

// ReadFrame reads one ZMTP frame: either a data frame (possibly
// More-flagged) or a command frame, which is further decoded into its
// specific shape (READY/PING/PONG/JOIN/LEAVE/...).
func ReadFrame(r io.Reader, maxMessageSize int) (Frame, error) {
	var flagByte [1]byte
	if _, err := io.ReadFull(r, flagByte[:]); err != nil {
		return Frame{}, errors.Wrap(err, "zmtp: reading frame flags")
	}
	flags := flagByte[0]

	var bodyLen uint64
	if flags&flagLong != 0 {
		var lenBuf [8]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return Frame{}, errors.Wrap(err, "zmtp: reading long frame length")
		}
		bodyLen = binary.BigEndian.Uint64(lenBuf[:])
	} else {
		var lenBuf [1]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return Frame{}, errors.Wrap(err, "zmtp: reading frame length")
		}
		bodyLen = uint64(lenBuf[0])
	}

	if maxMessageSize > 0 && bodyLen > uint64(maxMessageSize) {
		return Frame{}, errors.Errorf("zmtp: frame body %d exceeds max message size %d", bodyLen, maxMessageSize)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, errors.Wrap(err, "zmtp: reading frame body")
	}

	if flags&flagCommand == 0 {
		return Frame{Kind: FrameMessage, More: flags&flagMore != 0, Payload: body}, nil
	}
	return decodeCommand(body)
}

func decodeCommand(body []byte) (Frame, error) {
	if len(body) < 1 {
		return Frame{}, errors.New("zmtp: empty command frame")
	}
	nameLen := int(body[0])
	if len(body) < 1+nameLen {
		return Frame{}, errors.New("zmtp: truncated command name")
	}
	name := string(body[1 : 1+nameLen])
	rest := body[1+nameLen:]

	switch name {
	case CmdReady:
		return decodeReady(rest)
	case CmdPing:
		return decodePingPong(FramePing, rest)
	case CmdPong:
		return Frame{Kind: FramePong, Context: rest}, nil
	case CmdSubscribe:
		return Frame{Kind: FrameSubscribe, Group: string(rest)}, nil
	case CmdCancel:
		return Frame{Kind: FrameCancel, Group: string(rest)}, nil
	case CmdJoin:
		if len(rest) > maxGroupNameLen {
			return Frame{}, errors.Errorf("zmtp: JOIN group name too long")
		}
		return Frame{Kind: FrameJoin, Group: string(rest)}, nil
	case CmdLeave:
		if len(rest) > maxGroupNameLen {
			return Frame{}, errors.Errorf("zmtp: LEAVE group name too long")
		}
		return Frame{Kind: FrameLeave, Group: string(rest)}, nil
	case CmdError:
		return Frame{Kind: FrameError, Payload: rest}, nil
	default:
		return Frame{}, errors.Errorf("zmtp: unknown command %q", name)
	}
}

func decodeReady(body []byte) (Frame, error) {
	props := make(map[string][]byte)
	for len(body) > 0 {
		keyLen := int(body[0])
		body = body[1:]
		if len(body) < keyLen+4 {
			return Frame{}, errors.New("zmtp: truncated READY property")
		}
		key := string(body[:keyLen])
		body = body[keyLen:]
		valLen := binary.BigEndian.Uint32(body[:4])
		body = body[4:]
		if uint64(len(body)) < uint64(valLen) {
			return Frame{}, errors.New("zmtp: truncated READY property value")
		}
		val := body[:valLen]
		body = body[valLen:]
		props[key] = val
	}

	socketType := string(props[PropSocketType])
	delete(props, PropSocketType)

	return Frame{Kind: FrameReady, SocketType: socketType, Properties: props}, nil
}

func decodePingPong(kind FrameKind, body []byte) (Frame, error) {
	if len(body) < 2 {
		return Frame{}, errors.New("zmtp: truncated PING/PONG")
	}
	ttl := binary.BigEndian.Uint16(body[:2])
	return Frame{Kind: kind, TTL: ttl, Context: body[2:]}, nil
}
