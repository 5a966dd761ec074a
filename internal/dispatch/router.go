package dispatch

import (
	"context"
	"sync"

	"github.com/go-zmtp/zmtp/internal/core"
	"github.com/pkg/errors"
)

// Router sends a delivery to one specific peer named by Route, used
// by SERVER and PEER sockets' send side to reply to (or target) a
// particular connection.
type Router struct {
	mu    sync.Mutex
	peers map[core.Route]Peer
}

func NewRouter() *Router {
	return &Router{peers: make(map[core.Route]Peer)}
}

// ErrUnknownRoute is returned by Route when no peer is attached under
// the given Route.
var ErrUnknownRoute = errors.New("dispatch: unknown route")

func (r *Router) Insert(p Peer) {
	r.mu.Lock()
	r.peers[p.Route] = p
	r.mu.Unlock()
}

// Remove detaches the peer at route. Removing a route with no attached
// peer is a programming error.
func (r *Router) Remove(route core.Route) {
	r.mu.Lock()
	_, ok := r.peers[route]
	delete(r.peers, route)
	r.mu.Unlock()
	if !ok {
		panic("dispatch: removing unknown peer")
	}
}

// Route deposits d into the named peer's outbound queue, blocking
// until there is capacity or ctx is done. It returns ErrUnknownRoute
// if route names no attached peer.
func (r *Router) Route(ctx context.Context, route core.Route, d core.Delivery) error {
	r.mu.Lock()
	p, ok := r.peers[route]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownRoute
	}

	select {
	case p.Outbound <- d:
		return nil
	default:
	}

	select {
	case p.Outbound <- d:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "dispatch: route")
	}
}
