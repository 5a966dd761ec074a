package session

import (
	"context"
	"net"
	"time"

	"github.com/go-zmtp/zmtp/internal/zlog"
)

// DialIPC connects to a Unix domain socket at path, retrying every
// dialRetryInterval until it succeeds or ctx is done (the listening
// process may not have bound the socket yet).
func DialIPC(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "unix", path)
		if err == nil {
			return conn, nil
		}
		zlog.Debug("session: ipc dial %v failed: %v, retrying", path, err)

		select {
		case <-time.After(dialRetryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ListenIPC opens a Unix domain socket listener at path.
func ListenIPC(path string) (net.Listener, error) {
	return net.Listen("unix", path)
}
