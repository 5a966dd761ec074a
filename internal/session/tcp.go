package session

import (
	"context"
	"net"
	"time"

	"github.com/go-zmtp/zmtp/internal/zlog"
)

// dialRetryInterval matches the upstream library's TCP/inproc connect
// retry cadence: keep trying every 10ms until the peer starts
// listening or ctx is cancelled.
const dialRetryInterval = 10 * time.Millisecond

// DialTCP connects to addr, retrying every dialRetryInterval until it
// succeeds or ctx is done.
func DialTCP(ctx context.Context, addr *net.TCPAddr) (net.Conn, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr.String())
		if err == nil {
			return conn, nil
		}
		zlog.Debug("session: tcp dial %v failed: %v, retrying", addr, err)

		select {
		case <-time.After(dialRetryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ListenTCP opens a TCP listener on addr.
func ListenTCP(addr *net.TCPAddr) (net.Listener, error) {
	return net.ListenTCP("tcp", addr)
}
