package dispatch

import (
	"sync"

	"github.com/go-zmtp/zmtp/internal/core"
)

// Publisher broadcasts a delivery to every attached peer whose
// subscribed-group set (see Exchange, populated from the JOIN/LEAVE
// commands a DISH peer sends over a stream transport) contains the
// message's group. Publish never blocks: a peer whose outbound queue
// is full simply misses the message, the drop-instead-of-backpressure
// policy RADIO sockets use for every transport.
type Publisher struct {
	mu    sync.Mutex
	peers []Peer
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

func (p *Publisher) Insert(peer Peer) {
	p.mu.Lock()
	p.peers = append(p.peers, peer)
	p.mu.Unlock()
}

// Remove detaches the peer at route. Removing a route with no attached
// peer is a programming error.
func (p *Publisher) Remove(route core.Route) {
	p.mu.Lock()
	for i, peer := range p.peers {
		if peer.Route == route {
			p.peers = append(p.peers[:i:i], p.peers[i+1:]...)
			p.mu.Unlock()
			return
		}
	}
	p.mu.Unlock()
	panic("dispatch: removing unknown peer")
}

// Publish broadcasts d to every peer subscribed to d's group. Returns
// the number of peers the message was actually deposited to.
func (p *Publisher) Publish(d core.Delivery) int {
	p.mu.Lock()
	peers := make([]Peer, len(p.peers))
	copy(peers, p.peers)
	p.mu.Unlock()

	group := d.Envelope().Group()

	delivered := 0
	for _, peer := range peers {
		if peer.Groups != nil && !peer.Groups.Has(group) {
			continue
		}
		select {
		case peer.Outbound <- d:
			delivered++
		default:
			// queue full: drop, per PUB/SUB policy.
		}
	}
	return delivered
}
