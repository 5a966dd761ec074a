package dispatch

import (
	"context"
	"reflect"
	"sync"

	"github.com/go-zmtp/zmtp/internal/core"
	"github.com/pkg/errors"
)

// FairReceiver round-robins incoming deliveries across every attached
// peer, used by CLIENT/SERVER/DISH/GATHER/PEER sockets' receive
// side. Fairness is strict: when N peers each have a delivery
// waiting, N consecutive Recv calls return one from each, in cursor
// order, never starving a peer behind a noisier one.
type FairReceiver struct {
	mu    sync.Mutex
	peers []Peer
	next  int
	gen   chan struct{}
}

func NewFairReceiver() *FairReceiver {
	return &FairReceiver{gen: make(chan struct{})}
}

func (f *FairReceiver) Insert(p Peer) {
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.wakeLocked()
	f.mu.Unlock()
}

// Remove detaches the peer at route. Removing a route with no attached
// peer is a programming error.
func (f *FairReceiver) Remove(route core.Route) {
	f.mu.Lock()
	for i, p := range f.peers {
		if p.Route == route {
			f.peers = append(f.peers[:i:i], f.peers[i+1:]...)
			f.wakeLocked()
			f.mu.Unlock()
			return
		}
	}
	f.mu.Unlock()
	panic("dispatch: removing unknown peer")
}

func (f *FairReceiver) wakeLocked() {
	close(f.gen)
	f.gen = make(chan struct{})
}

// tryRecv performs one deterministic, non-blocking, cursor-ordered
// scan across the current peer set. It returns ok=false with the
// generation channel to wait on when nothing was ready.
func (f *FairReceiver) tryRecv() (core.Delivery, bool, <-chan struct{}) {
	f.mu.Lock()
	peers := f.peers
	n := len(peers)
	gen := f.gen
	if n == 0 {
		f.mu.Unlock()
		return core.Delivery{}, false, gen
	}
	start := f.next % n
	f.mu.Unlock()

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		select {
		case d, open := <-peers[idx].Inbound:
			if !open {
				panic("dispatch: peer session dropped its pipe")
			}
			f.mu.Lock()
			f.next = (idx + 1) % n
			f.mu.Unlock()
			return d.WrapRoute(peers[idx].Route), true, nil
		default:
		}
	}
	return core.Delivery{}, false, gen
}

// Recv blocks until a delivery is available from any attached peer or
// ctx is done.
func (f *FairReceiver) Recv(ctx context.Context) (core.Delivery, error) {
	for {
		d, ok, gen := f.tryRecv()
		if ok {
			return d, nil
		}

		f.mu.Lock()
		peers := f.peers
		f.mu.Unlock()

		if len(peers) == 0 {
			select {
			case <-gen:
				continue
			case <-ctx.Done():
				return core.Delivery{}, errors.Wrap(ctx.Err(), "dispatch: recv")
			}
		}

		cases := make([]reflect.SelectCase, 0, len(peers)+2)
		for _, p := range peers {
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(p.Inbound)})
		}
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(gen)})
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})

		chosen, _, _ := reflect.Select(cases)
		if chosen == len(cases)-1 {
			return core.Delivery{}, errors.Wrap(ctx.Err(), "dispatch: recv")
		}
		// Any other wakeup (a peer channel or gen becoming ready)
		// just re-enters the deterministic scan above, which applies
		// cursor-order fairness among whatever is now ready.
	}
}
