package zmtp_test

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-zmtp/zmtp"
)

var tcpPort int64 = 40000

// testEndpoint mints a fresh address for transport, mirroring the
// upstream library's own test helper: a monotonic TCP port counter, a
// socket under a fresh temp dir for IPC, and a name made unique by the
// same counter for inproc.
func testEndpoint(t *testing.T, transport string) string {
	t.Helper()
	switch transport {
	case "tcp":
		port := atomic.AddInt64(&tcpPort, 1)
		return fmt.Sprintf("tcp://127.0.0.1:%d", port)
	case "ipc":
		return "ipc://" + filepath.Join(t.TempDir(), fmt.Sprintf("zmtp-test-%d", os.Getpid()))
	case "inproc":
		return fmt.Sprintf("inproc://zmtp-test-%s-%d", t.Name(), atomic.AddInt64(&tcpPort, 1))
	default:
		t.Fatalf("unknown transport %q", transport)
		return ""
	}
}

func transports() []string { return []string{"tcp", "ipc", "inproc"} }

func testUDPEndpoint() string {
	port := atomic.AddInt64(&tcpPort, 1)
	return fmt.Sprintf("udp://127.0.0.1:%d", port)
}

func recvWithin(t *testing.T, d time.Duration, recv func(context.Context) (zmtp.Envelope, error)) zmtp.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	env, err := recv(ctx)
	require.NoError(t, err)
	return env
}

func TestClientServerRouting(t *testing.T) {
	for _, transport := range transports() {
		transport := transport
		t.Run(transport, func(t *testing.T) {
			addr := testEndpoint(t, transport)

			s := zmtp.NewServer(zmtp.DefaultOptions())
			defer s.Close()
			require.NoError(t, s.Listen(addr))

			c1 := zmtp.NewClient(zmtp.DefaultOptions())
			defer c1.Close()
			c2 := zmtp.NewClient(zmtp.DefaultOptions())
			defer c2.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := c1.Connect(ctx, addr)
			require.NoError(t, err)
			_, err = c2.Connect(ctx, addr)
			require.NoError(t, err)

			require.NoError(t, c1.Send(ctx, zmtp.Bytes([]byte("hello 1"))))
			msg1 := recvWithin(t, 2*time.Second, s.Recv)
			require.Equal(t, []byte("hello 1"), msg1.Bytes())

			require.NoError(t, c2.Send(ctx, zmtp.AsMessage(zmtp.Message{Payload: zmtp.Payload("hello 2")})))
			msg2 := recvWithin(t, 2*time.Second, s.Recv)
			require.Equal(t, []byte("hello 2"), msg2.Bytes())

			require.NoError(t, s.Route(ctx, msg1.Route(), zmtp.Bytes([]byte("reply 1"))))
			require.NoError(t, s.Route(ctx, msg2.Route(), zmtp.Bytes([]byte("reply 2"))))

			reply1 := recvWithin(t, 2*time.Second, c1.Recv)
			require.Equal(t, []byte("reply 1"), reply1.Bytes())

			reply2 := recvWithin(t, 2*time.Second, c2.Recv)
			require.Equal(t, []byte("reply 2"), reply2.Bytes())

			require.NotEqual(t, msg1.Route(), msg2.Route())
		})
	}
}

func TestPeerPeerRouting(t *testing.T) {
	for _, transport := range transports() {
		transport := transport
		t.Run(transport, func(t *testing.T) {
			addr1 := testEndpoint(t, transport)
			addr2 := testEndpoint(t, transport)
			addr3 := testEndpoint(t, transport)

			p1 := zmtp.NewPeer(zmtp.DefaultOptions())
			defer p1.Close()
			p2 := zmtp.NewPeer(zmtp.DefaultOptions())
			defer p2.Close()
			p3 := zmtp.NewPeer(zmtp.DefaultOptions())
			defer p3.Close()

			require.NoError(t, p1.Listen(addr1))
			require.NoError(t, p2.Listen(addr2))
			require.NoError(t, p3.Listen(addr3))

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			id1to2, err := p1.Connect(ctx, addr2)
			require.NoError(t, err)
			id1to3, err := p1.Connect(ctx, addr3)
			require.NoError(t, err)

			id2to1, err := p2.Connect(ctx, addr1)
			require.NoError(t, err)
			id2to3, err := p2.Connect(ctx, addr3)
			require.NoError(t, err)

			id3to1, err := p3.Connect(ctx, addr1)
			require.NoError(t, err)
			id3to2, err := p3.Connect(ctx, addr2)
			require.NoError(t, err)

			require.NoError(t, p1.Route(ctx, id1to2, zmtp.Bytes([]byte("hello from 1"))))
			require.NoError(t, p1.Route(ctx, id1to3, zmtp.Bytes([]byte("hello from 1"))))
			require.NoError(t, p2.Route(ctx, id2to1, zmtp.Bytes([]byte("hello from 2"))))
			require.NoError(t, p2.Route(ctx, id2to3, zmtp.Bytes([]byte("hello from 2"))))
			require.NoError(t, p3.Route(ctx, id3to1, zmtp.Bytes([]byte("hello from 3"))))
			require.NoError(t, p3.Route(ctx, id3to2, zmtp.Bytes([]byte("hello from 3"))))

			recv1 := []string{
				string(recvWithin(t, 2*time.Second, p1.Recv).Bytes()),
				string(recvWithin(t, 2*time.Second, p1.Recv).Bytes()),
			}
			recv2 := []string{
				string(recvWithin(t, 2*time.Second, p2.Recv).Bytes()),
				string(recvWithin(t, 2*time.Second, p2.Recv).Bytes()),
			}
			recv3 := []string{
				string(recvWithin(t, 2*time.Second, p3.Recv).Bytes()),
				string(recvWithin(t, 2*time.Second, p3.Recv).Bytes()),
			}

			require.ElementsMatch(t, []string{"hello from 2", "hello from 3"}, recv1)
			require.ElementsMatch(t, []string{"hello from 1", "hello from 3"}, recv2)
			require.ElementsMatch(t, []string{"hello from 1", "hello from 2"}, recv3)
		})
	}
}

// TestUDPClientServerRouting exercises the datagram transport's
// ServeUDP demux (Listen side) and RunUDP pump (Connect side) together:
// no handshake, but the same Route-addressed reply semantics as the
// stream transports.
func TestUDPClientServerRouting(t *testing.T) {
	addr := testUDPEndpoint()

	s := zmtp.NewServer(zmtp.DefaultOptions())
	defer s.Close()
	require.NoError(t, s.Listen(addr))

	c1 := zmtp.NewClient(zmtp.DefaultOptions())
	defer c1.Close()
	c2 := zmtp.NewClient(zmtp.DefaultOptions())
	defer c2.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c1.Connect(ctx, addr)
	require.NoError(t, err)
	_, err = c2.Connect(ctx, addr)
	require.NoError(t, err)

	require.NoError(t, c1.Send(ctx, zmtp.Bytes([]byte("hello 1"))))
	msg1 := recvWithin(t, 2*time.Second, s.Recv)
	require.Equal(t, []byte("hello 1"), msg1.Bytes())

	require.NoError(t, c2.Send(ctx, zmtp.Bytes([]byte("hello 2"))))
	msg2 := recvWithin(t, 2*time.Second, s.Recv)
	require.Equal(t, []byte("hello 2"), msg2.Bytes())

	require.NoError(t, s.Route(ctx, msg1.Route(), zmtp.Bytes([]byte("reply 1"))))
	require.NoError(t, s.Route(ctx, msg2.Route(), zmtp.Bytes([]byte("reply 2"))))

	reply1 := recvWithin(t, 2*time.Second, c1.Recv)
	require.Equal(t, []byte("reply 1"), reply1.Bytes())

	reply2 := recvWithin(t, 2*time.Second, c2.Recv)
	require.Equal(t, []byte("reply 2"), reply2.Bytes())

	require.NotEqual(t, msg1.Route(), msg2.Route())
}

// TestUDPDishSelfFilters exercises UDP's self-filtering DISH: the
// datagram codec has no JOIN/CANCEL command to relay a subscription to
// a sender, so a listening DISH discards datagrams outside its own
// joined groups locally instead of relying on a remote Publisher. The
// sender here is a raw UDP socket (standing in for any datagram
// source), not a Radio, since Radio's Publisher filtering depends on a
// wire JOIN that the datagram codec doesn't have.
func TestUDPDishSelfFilters(t *testing.T) {
	addr := testUDPEndpoint()
	ep, err := zmtp.ParseEndpoint(addr)
	require.NoError(t, err)

	dish := zmtp.NewDish(zmtp.DefaultOptions())
	defer dish.Close()
	require.NoError(t, dish.Listen(addr))

	fooGroup, err := zmtp.NewGroup([]byte("foo"))
	require.NoError(t, err)
	dish.Join(fooGroup)
	time.Sleep(100 * time.Millisecond)

	raddr, err := net.ResolveUDPAddr("udp", ep.Target)
	require.NoError(t, err)
	sender, err := net.DialUDP("udp", nil, raddr)
	require.NoError(t, err)
	defer sender.Close()

	// The first datagram creates the ServeUDP peer view for this
	// sender address; give its control loop time to pick up the
	// already-joined group before the datagrams that matter arrive.
	_, err = sender.Write(udpFrame(t, "bar", "hello bar"))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	_, err = sender.Write(udpFrame(t, "bar", "hello bar again"))
	require.NoError(t, err)
	_, err = sender.Write(udpFrame(t, "foo", "hello foo"))
	require.NoError(t, err)
	_, err = sender.Write(udpFrame(t, "foo", "hello foo again"))
	require.NoError(t, err)

	got1 := recvWithin(t, 2*time.Second, dish.Recv)
	require.Equal(t, []byte("hello foo"), got1.Bytes())
	got2 := recvWithin(t, 2*time.Second, dish.Recv)
	require.Equal(t, []byte("hello foo again"), got2.Bytes())
}

// udpFrame builds a raw datagram-codec frame: a 1-byte group length,
// the group bytes, then the payload, mirroring internal/wireudp's
// on-wire layout without importing that internal package from a
// root-level test.
func udpFrame(t *testing.T, group, payload string) []byte {
	t.Helper()
	buf := make([]byte, 1+len(group)+len(payload))
	buf[0] = byte(len(group))
	copy(buf[1:], group)
	copy(buf[1+len(group):], payload)
	return buf
}

// TestRadioDishBroadcasting exercises the corrected JOIN/LEAVE ->
// Publisher filtering: unlike the upstream library's own test (which
// unintentionally demonstrated that every DISH received every
// broadcast regardless of subscription, since that wiring was never
// finished there), a DISH here only receives broadcasts to groups it
// has actually joined.
func TestRadioDishBroadcasting(t *testing.T) {
	for _, transport := range transports() {
		transport := transport
		t.Run(transport, func(t *testing.T) {
			addr := testEndpoint(t, transport)

			radio := zmtp.NewRadio(zmtp.DefaultOptions())
			defer radio.Close()
			require.NoError(t, radio.Listen(addr))

			blankGroup, err := zmtp.NewGroup(nil)
			require.NoError(t, err)
			fooGroup, err := zmtp.NewGroup([]byte("foo"))
			require.NoError(t, err)
			barGroup, err := zmtp.NewGroup([]byte("bar"))
			require.NoError(t, err)

			dish1 := zmtp.NewDish(zmtp.DefaultOptions())
			defer dish1.Close()
			dish2 := zmtp.NewDish(zmtp.DefaultOptions())
			defer dish2.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err = dish1.Connect(ctx, addr)
			require.NoError(t, err)
			_, err = dish2.Connect(ctx, addr)
			require.NoError(t, err)

			dish1.Join(fooGroup)
			dish2.Join(blankGroup)
			dish2.Join(barGroup)

			// Give the JOIN commands time to reach the radio and update
			// each peer's subscribed-group Exchange before broadcasting.
			time.Sleep(100 * time.Millisecond)

			radio.Broadcast(zmtp.GroupedBytes(fooGroup, []byte("hello foo")))
			radio.Broadcast(zmtp.GroupedBytes(barGroup, []byte("hello bar")))
			radio.Broadcast(zmtp.GroupedBytes(blankGroup, []byte("hello")))

			got1 := recvWithin(t, 2*time.Second, dish1.Recv)
			require.Equal(t, []byte("hello foo"), got1.Bytes())

			got2a := recvWithin(t, 2*time.Second, dish2.Recv)
			got2b := recvWithin(t, 2*time.Second, dish2.Recv)
			require.ElementsMatch(t, []string{"hello bar", "hello"}, []string{string(got2a.Bytes()), string(got2b.Bytes())})
		})
	}
}
