// Package session implements the per-connection ZMTP handshake and
// the duplex frame pump that moves decoded wire traffic into a
// dispatch.Pipe's Inbound channel and deliveries out of its Outbound
// channel onto the wire.
package session

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/go-zmtp/zmtp/internal/core"
	"github.com/go-zmtp/zmtp/internal/dispatch"
	"github.com/go-zmtp/zmtp/internal/wire"
	"github.com/go-zmtp/zmtp/internal/zlog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// compatiblePeer is the ZMTP draft socket-pattern compatibility
// table: what a socket advertising selfType expects its peer to
// advertise.
var compatiblePeer = map[string]string{
	wire.SocketTypeClient:  wire.SocketTypeServer,
	wire.SocketTypeServer:  wire.SocketTypeClient,
	wire.SocketTypeRadio:   wire.SocketTypeDish,
	wire.SocketTypeDish:    wire.SocketTypeRadio,
	wire.SocketTypeScatter: wire.SocketTypeGather,
	wire.SocketTypeGather:  wire.SocketTypeScatter,
	wire.SocketTypePeer:    wire.SocketTypePeer,
}

// Establish performs the ZMTP greeting and READY handshake over conn,
// validates the peer advertises a compatible socket type, and returns
// peer Info built from the READY properties.
func Establish(conn net.Conn, selfType string, identity []byte, resource string) (*core.Info, error) {
	bw := bufio.NewWriter(conn)
	br := bufio.NewReader(conn)

	wire.WriteGreeting(bw, false)
	properties := map[string][]byte{}
	if len(identity) > 0 {
		properties[wire.PropIdentity] = identity
	}
	if resource != "" {
		properties[wire.PropResource] = []byte(resource)
	}
	if err := wire.WriteReady(bw, selfType, properties); err != nil {
		return nil, errors.Wrap(err, "session: writing READY")
	}
	if err := bw.Flush(); err != nil {
		return nil, errors.Wrap(err, "session: flushing handshake")
	}

	if _, err := wire.ReadGreeting(br); err != nil {
		return nil, errors.Wrap(err, "session: reading peer greeting")
	}
	frame, err := wire.ReadFrame(br, 0)
	if err != nil {
		return nil, errors.Wrap(err, "session: reading peer READY")
	}
	if frame.Kind != wire.FrameReady {
		return nil, errors.Errorf("session: expected READY, got frame kind %d", frame.Kind)
	}

	want := compatiblePeer[selfType]
	if frame.SocketType != want {
		return nil, errors.Errorf("session: incompatible peer socket type %q, expected %q", frame.SocketType, want)
	}

	info := &core.Info{
		PeerAddress: conn.RemoteAddr().String(),
		Custom:      make(map[string][]byte),
	}
	for k, v := range frame.Properties {
		switch k {
		case wire.PropIdentity:
			info.Identity = v
		case wire.PropResource:
			info.Resource = string(v)
		default:
			info.Custom[k] = v
		}
	}

	zlog.Debug("session: established with %v (peer type %v)", info.PeerAddress, frame.SocketType)
	return info, nil
}

// Run drives the duplex frame pump for an established connection until
// ctx is cancelled, the peer closes the connection, or the pipe is
// torn down. It always closes conn before returning.
func Run(ctx context.Context, conn net.Conn, pipe dispatch.Pipe, info *core.Info, maxMessageSize int, heartbeatTimeout time.Duration) error {
	defer conn.Close()

	// pongs carries PING reply contexts from the read loop to the
	// write loop; it is a control-plane side channel, distinct from
	// pipe.Outbound (which only ever carries application deliveries).
	pongs := make(chan []byte, 8)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return readLoop(ctx, conn, pipe, info, maxMessageSize, pongs)
	})
	g.Go(func() error {
		return writeLoop(ctx, conn, pipe, pongs, heartbeatTimeout)
	})
	g.Go(func() error {
		<-ctx.Done()
		conn.Close()
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		zlog.Debug("session: %v terminated: %v", info.PeerAddress, err)
	}
	return err
}

// readLoop decodes wire frames and pushes deliveries into pipe.Inbound.
// A group frame (More-flagged) is stashed and combined with the
// payload frame that follows it, completing the multipart
// group+payload convention RADIO/DISH and SCATTER/GATHER use.
// JOIN/LEAVE update the peer's subscribed-group Exchange so a
// Publisher on the local RADIO/SCATTER socket filters correctly —
// completing the loop the upstream library left incomplete.
func readLoop(ctx context.Context, conn net.Conn, pipe dispatch.Pipe, info *core.Info, maxMessageSize int, pongs chan<- []byte) error {
	br := bufio.NewReader(conn)

	var stashedGroup *core.Group
	for {
		frame, err := wire.ReadFrame(br, maxMessageSize)
		if err != nil {
			return errors.Wrap(err, "session: read loop")
		}

		switch frame.Kind {
		case wire.FrameMessage:
			if frame.More {
				g, err := core.NewGroup(frame.Payload)
				if err != nil {
					return errors.Wrap(err, "session: invalid group frame")
				}
				stashedGroup = &g
				continue
			}

			var group core.Group
			if stashedGroup != nil {
				group = *stashedGroup
				stashedGroup = nil
			}
			msg := core.Message{Group: group, Payload: core.Payload(frame.Payload)}
			env := core.NewEnvelope(info, pipe.Route, msg)

			select {
			case pipe.Inbound <- core.DeliveryFromEnvelope(env):
			case <-ctx.Done():
				return ctx.Err()
			}

		case wire.FramePing:
			select {
			case pongs <- frame.Context:
			default:
				// heartbeat reply queue full: drop, the peer retries.
			}

		case wire.FramePong:
			// liveness acknowledged; nothing else to do.

		case wire.FrameJoin:
			g, err := core.NewGroup([]byte(frame.Group))
			if err != nil {
				return errors.Wrap(err, "session: invalid JOIN group")
			}
			pipe.Groups.Join(g)
			zlog.Debug("session: %v joined %v", info.PeerAddress, g)

		case wire.FrameLeave:
			g, err := core.NewGroup([]byte(frame.Group))
			if err != nil {
				return errors.Wrap(err, "session: invalid LEAVE group")
			}
			pipe.Groups.Leave(g)
			zlog.Debug("session: %v left %v", info.PeerAddress, g)

		default:
			zlog.Debug("session: ignoring frame kind %d from %v", frame.Kind, info.PeerAddress)
		}
	}
}

// writeLoop drains pipe.Outbound (application deliveries) and pongs
// (heartbeat replies), encoding each onto the wire, and flushes
// whenever it would otherwise block so small bursts don't incur a
// flush-per-frame cost. It also sends a PING every heartbeatTimeout/3;
// PONG replies are not tracked, so a silent peer does not end the
// session.
func writeLoop(ctx context.Context, conn net.Conn, pipe dispatch.Pipe, pongs <-chan []byte, heartbeatTimeout time.Duration) error {
	bw := bufio.NewWriter(conn)

	var ticker *time.Ticker
	var tickC <-chan time.Time
	if heartbeatTimeout > 0 {
		ticker = time.NewTicker(heartbeatTimeout / 3)
		tickC = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case d, ok := <-pipe.Outbound:
			if !ok {
				return bw.Flush()
			}
			if err := writeDelivery(bw, d); err != nil {
				return errors.Wrap(err, "session: encoding delivery")
			}
			if len(pipe.Outbound) > 0 {
				continue
			}
			if err := bw.Flush(); err != nil {
				return errors.Wrap(err, "session: flushing delivery")
			}

		case ctxBytes := <-pongs:
			if err := wire.WritePong(bw, ctxBytes); err != nil {
				return errors.Wrap(err, "session: encoding PONG")
			}
			if err := bw.Flush(); err != nil {
				return errors.Wrap(err, "session: flushing PONG")
			}

		case c := <-pipe.Control:
			var err error
			if c.Join {
				err = wire.WriteJoin(bw, string(c.Group.Bytes()))
			} else {
				err = wire.WriteLeave(bw, string(c.Group.Bytes()))
			}
			if err != nil {
				return errors.Wrap(err, "session: encoding JOIN/LEAVE")
			}
			if err := bw.Flush(); err != nil {
				return errors.Wrap(err, "session: flushing JOIN/LEAVE")
			}

		case <-tickC:
			if err := wire.WritePing(bw, uint16(heartbeatTimeout.Milliseconds()/10), nil); err != nil {
				return errors.Wrap(err, "session: encoding PING")
			}
			if err := bw.Flush(); err != nil {
				return errors.Wrap(err, "session: flushing PING")
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func writeDelivery(bw *bufio.Writer, d core.Delivery) error {
	env := d.Envelope()
	group := env.Group()
	if len(group.Bytes()) > 0 {
		wire.WriteMessage(bw, group.Bytes(), true)
	}
	wire.WriteMessage(bw, env.Bytes(), false)
	return nil
}
