package session

import (
	"context"
	"net"
	"sync"

	"github.com/go-zmtp/zmtp/internal/core"
	"github.com/go-zmtp/zmtp/internal/dispatch"
	"github.com/go-zmtp/zmtp/internal/wireudp"
	"github.com/go-zmtp/zmtp/internal/zlog"
	"github.com/pkg/errors"
)

// udpReadBufferSize is sized well above MaxDatagramSize's default
// (8192) plus the 1-byte group-length prefix and 15-byte group name.
const udpReadBufferSize = 65536

// ListenUDP opens a UDP socket bound to addr.
func ListenUDP(addr *net.UDPAddr) (*net.UDPConn, error) {
	return net.ListenUDP("udp", addr)
}

// DialUDP connects a UDP socket to addr (UDP "connect" just fixes the
// default peer for Write/Read; no handshake is performed).
func DialUDP(addr *net.UDPAddr) (*net.UDPConn, error) {
	return net.DialUDP("udp", nil, addr)
}

// RunUDP pumps datagrams between a connected conn (from DialUDP) and
// pipe until ctx is done. DISH group filtering happens here (not in a
// Publisher) because a UDP "connection" has no per-peer session to
// carry a subscribed-group Exchange distinct from the local socket's
// own Join/Leave calls.
func RunUDP(ctx context.Context, conn *net.UDPConn, pipe dispatch.Pipe, maxMessageSize int, filterByGroups bool) error {
	errc := make(chan error, 2)

	go func() {
		errc <- udpReadLoop(ctx, conn, pipe, maxMessageSize, filterByGroups)
	}()
	go func() {
		errc <- udpWriteLoop(ctx, conn, nil, pipe)
	}()
	go udpControlLoop(ctx, pipe)

	select {
	case err := <-errc:
		conn.Close()
		return err
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}
}

// ServeUDP demultiplexes datagrams arriving on a bound, unconnected
// conn (from ListenUDP) into one Pipe per distinct remote address: a
// net.PacketConn "peer view" per sender, the UDP analogue of a stream
// transport's per-connection Accept loop. onPeer is called the first
// time a remote address is seen; the Pipe it returns is expected to
// already be attached to the owning socket's registers.
//
// Unlike a stream session, a UDP peer view is never individually torn
// down: a connectionless transport has no signal that a remote address
// has gone away, so pipes accumulate for the life of the listener.
func ServeUDP(ctx context.Context, conn *net.UDPConn, maxMessageSize int, filterByGroups bool, onPeer func(remote *net.UDPAddr) dispatch.Pipe) error {
	var mu sync.Mutex
	peers := make(map[string]dispatch.Pipe)

	buf := make([]byte, udpReadBufferSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return errors.Wrap(err, "session: udp read")
		}

		f, err := wireudp.Decode(buf[:n], maxMessageSize)
		if err != nil {
			zlog.Debug("session: dropping malformed udp datagram from %v: %v", addr, err)
			continue
		}

		group, err := core.NewGroup(f.Group)
		if err != nil {
			zlog.Debug("session: dropping udp datagram with bad group from %v: %v", addr, err)
			continue
		}

		key := addr.String()
		mu.Lock()
		pipe, ok := peers[key]
		if !ok {
			pipe = onPeer(addr)
			peers[key] = pipe
			mu.Unlock()
			go udpWriteLoop(ctx, conn, addr, pipe)
			go udpControlLoop(ctx, pipe)
		} else {
			mu.Unlock()
		}

		if filterByGroups && !pipe.Groups.Has(group) {
			continue
		}

		payload := make([]byte, len(f.Payload))
		copy(payload, f.Payload)
		msg := core.Message{Group: group, Payload: core.Payload(payload)}
		info := &core.Info{PeerAddress: addr.String()}
		env := core.NewEnvelope(info, pipe.Route, msg)

		select {
		case pipe.Inbound <- core.DeliveryFromEnvelope(env):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func udpReadLoop(ctx context.Context, conn *net.UDPConn, pipe dispatch.Pipe, maxMessageSize int, filterByGroups bool) error {
	buf := make([]byte, udpReadBufferSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return errors.Wrap(err, "session: udp read")
		}

		f, err := wireudp.Decode(buf[:n], maxMessageSize)
		if err != nil {
			zlog.Debug("session: dropping malformed udp datagram from %v: %v", addr, err)
			continue
		}

		group, err := core.NewGroup(f.Group)
		if err != nil {
			zlog.Debug("session: dropping udp datagram with bad group from %v: %v", addr, err)
			continue
		}

		if filterByGroups && !pipe.Groups.Has(group) {
			continue
		}

		payload := make([]byte, len(f.Payload))
		copy(payload, f.Payload)
		msg := core.Message{Group: group, Payload: core.Payload(payload)}
		info := &core.Info{PeerAddress: addr.String()}
		env := core.NewEnvelope(info, pipe.Route, msg)

		select {
		case pipe.Inbound <- core.DeliveryFromEnvelope(env):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// udpControlLoop applies local Join/Leave control messages straight to
// pipe.Groups. Unlike a stream session, UDP has no wire JOIN/LEAVE
// command to carry a subscription to a remote peer, so DISH filtering
// is done locally: pipe.Groups here tracks this socket's own
// subscriptions, and udpReadLoop/ServeUDP self-filter incoming
// datagrams against it instead of relying on a remote Publisher.
func udpControlLoop(ctx context.Context, pipe dispatch.Pipe) {
	for {
		select {
		case c, ok := <-pipe.Control:
			if !ok {
				return
			}
			if c.Join {
				pipe.Groups.Join(c.Group)
			} else {
				pipe.Groups.Leave(c.Group)
			}
		case <-ctx.Done():
			return
		}
	}
}

// udpWriteLoop drains pipe.Outbound onto conn. dest is nil for a
// connected conn (Write implies the dialed peer); otherwise it names
// the specific remote address a ServeUDP peer view writes back to,
// since an unconnected conn has no implied destination.
func udpWriteLoop(ctx context.Context, conn *net.UDPConn, dest *net.UDPAddr, pipe dispatch.Pipe) error {
	for {
		select {
		case d, ok := <-pipe.Outbound:
			if !ok {
				return nil
			}
			env := d.Envelope()
			buf, err := wireudp.Encode(wireudp.Frame{Group: env.Group().Bytes(), Payload: env.Bytes()})
			if err != nil {
				zlog.Debug("session: dropping unencodable udp delivery: %v", err)
				continue
			}
			var writeErr error
			if dest != nil {
				_, writeErr = conn.WriteToUDP(buf, dest)
			} else {
				_, writeErr = conn.Write(buf)
			}
			if writeErr != nil {
				return errors.Wrap(writeErr, "session: udp write")
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
