package dispatch

import "github.com/go-zmtp/zmtp/internal/core"

// Register is implemented by every dispatch register variant
// (FairReceiver, FairSender, Router, Publisher) so a session's
// connect/listen path can attach and detach a peer generically,
// without knowing which pattern the owning socket implements.
type Register interface {
	Insert(peer Peer)
	Remove(route core.Route)
}
