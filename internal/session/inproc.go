package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/go-zmtp/zmtp/internal/zlog"
	"github.com/pkg/errors"
	"golang.org/x/net/nettest"
)

// inprocRegistry is the process-wide name -> listener map backing the
// inproc:// transport. A connecting socket and a listening socket
// never share any dispatch state directly; instead they're handed
// opposite ends of an in-memory net.Conn pair (nettest.Pipe) and run
// the exact same Establish/Run codec-and-session machinery as every
// other transport, so inproc needs no special-cased dispatch wiring.
type inprocRegistry struct {
	mu        sync.RWMutex
	listeners map[string]chan net.Conn
}

var globalInproc = &inprocRegistry{listeners: make(map[string]chan net.Conn)}

// ListenInproc registers name and returns a channel of incoming
// connections plus a closer that unregisters it.
func ListenInproc(name string) (<-chan net.Conn, func(), error) {
	globalInproc.mu.Lock()
	defer globalInproc.mu.Unlock()

	if _, exists := globalInproc.listeners[name]; exists {
		return nil, nil, errors.Errorf("session: inproc address %q already in use", name)
	}

	ch := make(chan net.Conn)
	globalInproc.listeners[name] = ch

	closer := func() {
		globalInproc.mu.Lock()
		delete(globalInproc.listeners, name)
		globalInproc.mu.Unlock()
		close(ch)
	}
	return ch, closer, nil
}

// ConnectInproc connects to a registered inproc listener, retrying
// every dialRetryInterval if it hasn't registered yet.
func ConnectInproc(ctx context.Context, name string) (net.Conn, error) {
	for {
		globalInproc.mu.RLock()
		ch, ok := globalInproc.listeners[name]
		globalInproc.mu.RUnlock()

		if ok {
			local, remote, _ := nettest.Pipe()
			select {
			case ch <- remote:
				return local, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		zlog.Debug("session: inproc address %q not yet listening, retrying", name)
		select {
		case <-time.After(dialRetryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
