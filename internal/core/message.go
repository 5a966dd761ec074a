// Package core holds the message/envelope/route value types shared by
// the wire codec, the session state machine, and the dispatch
// registers, kept dependency-free so none of those packages need to
// import the public API package (which in turn depends on all of
// them).
package core

import (
	"fmt"
	"math/rand"
	"sync/atomic"
)

// Payload is an immutable application message body.
type Payload []byte

func (p Payload) String() string {
	return fmt.Sprintf("%q", []byte(p))
}

// MaxGroupLen is the ZMTP-mandated maximum length of a group name.
const MaxGroupLen = 15

// Group is a RADIO/DISH or SCATTER/GATHER topic name: at most 15
// bytes, never containing a NUL byte.
type Group struct {
	len int
	buf [MaxGroupLen]byte
}

// NewGroup validates and constructs a Group from raw bytes.
func NewGroup(b []byte) (Group, error) {
	var g Group
	if len(b) > MaxGroupLen {
		return g, fmt.Errorf("zmtp: group name too long: %d bytes", len(b))
	}
	for _, c := range b {
		if c == 0 {
			return g, fmt.Errorf("zmtp: group name contains NUL byte")
		}
	}
	g.len = copy(g.buf[:], b)
	return g, nil
}

// Bytes returns the group name's raw bytes.
func (g Group) Bytes() []byte {
	return g.buf[:g.len]
}

func (g Group) String() string {
	return fmt.Sprintf("%q", g.Bytes())
}

// Route identifies a connected peer within a single process. It is
// opaque outside this module and stable only for the lifetime of the
// peer's connection.
type Route uint32

func (r Route) String() string {
	return fmt.Sprintf("%08x", uint32(r))
}

var routeSequence uint32 = rand.Uint32()

// NextRoute returns a process-wide unique Route, seeded randomly at
// startup and incremented atomically thereafter so Routes issued by
// concurrently-connecting sessions never collide.
func NextRoute() Route {
	return Route(atomic.AddUint32(&routeSequence, 1))
}

// Message is a single application-level datagram: an optional group
// (meaningful for RADIO/DISH and SCATTER/GATHER) and a payload.
type Message struct {
	Group   Group
	Payload Payload
}

// Info describes the peer at the other end of a session.
type Info struct {
	PeerAddress string
	Identity    []byte
	Resource    string
	Custom      map[string][]byte
}

// NoInfo is shared by deliveries that never crossed a real wire
// session: a Send/Route/Broadcast call builds a Delivery straight from
// the caller's Message, with no peer to describe.
var NoInfo = &Info{}

// Envelope is a received Message tagged with the originating peer's
// Route and Info.
type Envelope struct {
	info  *Info
	route Route
	msg   Message
}

func NewEnvelope(info *Info, route Route, msg Message) Envelope {
	if info == nil {
		info = NoInfo
	}
	return Envelope{info: info, route: route, msg: msg}
}

func (e Envelope) Route() Route           { return e.route }
func (e Envelope) PeerAddress() string    { return e.info.PeerAddress }
func (e Envelope) PeerIdentity() []byte   { return e.info.Identity }
func (e Envelope) Resource() string       { return e.info.Resource }
func (e Envelope) Meta(key string) []byte { return e.info.Custom[key] }
func (e Envelope) Group() Group           { return e.msg.Group }
func (e Envelope) Bytes() []byte          { return e.msg.Payload }
func (e Envelope) Message() Message       { return e.msg }
func (e Envelope) Info() *Info            { return e.info }

// Delivery is what a dispatch register moves between a session's pipe
// and an application-facing Recv call: either a bare Message (a
// locally-originated Send/Route/Broadcast, which never built an
// Envelope) or a full Envelope (anything a session actually decoded
// off the wire, which has real peer Info). Closing this set to
// exactly two shapes mirrors the original design's own closed
// Delivery enum.
type Delivery struct {
	envelope *Envelope
	message  *Message
}

func DeliveryFromMessage(m Message) Delivery   { return Delivery{message: &m} }
func DeliveryFromEnvelope(e Envelope) Delivery { return Delivery{envelope: &e} }

// Envelope normalizes a Delivery to an Envelope, synthesizing one with
// NoInfo and route 0 when the delivery never carried peer info. Any
// Delivery a FairReceiver hands to the application has already been
// routed through WrapRoute, so the route-0 fallback here only fires for
// a bare-Message Delivery on the sending side (a register or session
// reading its group and payload), where the route is not used.
func (d Delivery) Envelope() Envelope {
	if d.envelope != nil {
		return *d.envelope
	}
	return NewEnvelope(nil, 0, *d.message)
}

// WrapRoute normalizes a bare-Message Delivery into a full Envelope
// carrying route as the originating peer, mirroring the original
// receive loop's wrap-on-recv step. A Delivery that already carries an
// Envelope (anything decoded off the wire, which already has real peer
// Info) is returned unchanged.
func (d Delivery) WrapRoute(route Route) Delivery {
	if d.envelope != nil {
		return d
	}
	e := NewEnvelope(nil, route, *d.message)
	return DeliveryFromEnvelope(e)
}
