// Package dispatch implements the four connection registers
// (FairReceiver, FairSender, Router, Publisher) and the Pipe/Peer
// plumbing that joins a session to whichever register its socket
// pattern uses.
package dispatch

import (
	"sync"

	"github.com/go-zmtp/zmtp/internal/core"
)

// Pipe is the session-facing half of a connection: a session reads
// Outbound for deliveries to encode onto the wire, and writes decoded
// deliveries into Inbound for dispatch to hand to the application.
type Pipe struct {
	Route    core.Route
	Outbound chan core.Delivery
	Inbound  chan core.Delivery
	Groups   *Exchange
	Control  chan ControlMsg
}

// ControlMsg asks a session to send a JOIN or LEAVE command for Group
// to its peer, used by a local DISH socket to subscribe/unsubscribe
// from a connected RADIO.
type ControlMsg struct {
	Join  bool
	Group core.Group
}

// Peer is the dispatch-facing half of the same connection: a register
// writes application sends into Outbound and reads received wire
// traffic from Inbound. Peer and Pipe share the same two channels —
// they are two views onto one pair of queues, not two separate pairs,
// since Go channels (unlike Rust mpsc) don't need distinct tx/rx
// halves to be handed to different owners.
type Peer struct {
	Route    core.Route
	Outbound chan core.Delivery
	Inbound  chan core.Delivery
	Groups   *Exchange
	Control  chan ControlMsg
}

// NewPipe creates a fresh bounded Pipe/Peer pair for one connection,
// with a freshly allocated Route identifying it within this process.
func NewPipe(queueSize int) (Pipe, Peer) {
	route := core.NextRoute()
	outbound := make(chan core.Delivery, queueSize)
	inbound := make(chan core.Delivery, queueSize)
	groups := NewExchange()
	control := make(chan ControlMsg, 8)

	pipe := Pipe{Route: route, Outbound: outbound, Inbound: inbound, Groups: groups, Control: control}
	peer := Peer{Route: route, Outbound: outbound, Inbound: inbound, Groups: groups, Control: control}
	return pipe, peer
}


// Exchange is a retain-last-value broadcast cell: a reader can fetch
// the current value, and any number of goroutines can wait for the
// next update via a closed-and-replaced generation channel. On a
// stream session it holds the groups the remote DISH has joined (from
// decoded JOIN/LEAVE commands), which the Publisher register filters
// broadcasts by; on a UDP pipe it holds the local socket's own
// Join/Leave calls, which the datagram read loops filter against.
type Exchange struct {
	mu    sync.Mutex
	value map[core.Group]struct{}
	gen   chan struct{}
}

func NewExchange() *Exchange {
	return &Exchange{
		value: make(map[core.Group]struct{}),
		gen:   make(chan struct{}),
	}
}

// Load returns the current group set. The returned map must not be
// mutated by the caller.
func (e *Exchange) Load() map[core.Group]struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Store replaces the group set and wakes any goroutine waiting on
// Changed.
func (e *Exchange) Store(v map[core.Group]struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = v
	close(e.gen)
	e.gen = make(chan struct{})
}

// Changed returns a channel that closes the next time Store is called.
func (e *Exchange) Changed() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

// Has reports whether group is currently in the set.
func (e *Exchange) Has(g core.Group) bool {
	_, ok := e.Load()[g]
	return ok
}

// Join adds a group to the set.
func (e *Exchange) Join(g core.Group) {
	e.mu.Lock()
	next := make(map[core.Group]struct{}, len(e.value)+1)
	for k := range e.value {
		next[k] = struct{}{}
	}
	next[g] = struct{}{}
	e.value = next
	close(e.gen)
	e.gen = make(chan struct{})
	e.mu.Unlock()
}

// Leave removes a group from the set.
func (e *Exchange) Leave(g core.Group) {
	e.mu.Lock()
	next := make(map[core.Group]struct{}, len(e.value))
	for k := range e.value {
		if k != g {
			next[k] = struct{}{}
		}
	}
	e.value = next
	close(e.gen)
	e.gen = make(chan struct{})
	e.mu.Unlock()
}
