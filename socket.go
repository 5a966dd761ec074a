package zmtp

import (
	"context"
	"net"
	"sync"

	"github.com/go-zmtp/zmtp/internal/core"
	"github.com/go-zmtp/zmtp/internal/dispatch"
	"github.com/go-zmtp/zmtp/internal/session"
	"github.com/go-zmtp/zmtp/internal/wire"
	"github.com/go-zmtp/zmtp/internal/zlog"
	"github.com/pkg/errors"
)

// socket is the shared implementation behind every public socket
// type (Client, Server, Radio, Dish, Scatter, Gather, Peer). Each
// public type embeds it and exposes only the operations its pattern
// supports, matching the §6.4 socket-pattern table.
type socket struct {
	selfType string
	opts     Options
	resolver *resolver

	fairSender *dispatch.FairSender
	router     *dispatch.Router
	publisher  *dispatch.Publisher
	fairRecv   *dispatch.FairReceiver

	registers []dispatch.Register

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	pipes       map[core.Route]dispatch.Pipe
	localGroups map[core.Group]struct{}
	closers     []func()
}

func newSocket(selfType string, opts Options) *socket {
	r, _ := newResolver()
	ctx, cancel := context.WithCancel(context.Background())
	return &socket{
		selfType:    selfType,
		opts:        opts,
		resolver:    r,
		ctx:         ctx,
		cancel:      cancel,
		pipes:       make(map[core.Route]dispatch.Pipe),
		localGroups: make(map[core.Group]struct{}),
	}
}

// Close tears down every listener and connection owned by this
// socket.
func (s *socket) Close() error {
	s.cancel()
	s.mu.Lock()
	closers := s.closers
	s.mu.Unlock()
	for _, c := range closers {
		c()
	}
	return nil
}

func (s *socket) attach(pipe dispatch.Pipe, peer dispatch.Peer) {
	s.mu.Lock()
	s.pipes[pipe.Route] = pipe
	for g := range s.localGroups {
		select {
		case pipe.Control <- dispatch.ControlMsg{Join: true, Group: g}:
		default:
		}
	}
	s.mu.Unlock()

	for _, r := range s.registers {
		r.Insert(peer)
	}
}

func (s *socket) detach(route core.Route) {
	s.mu.Lock()
	delete(s.pipes, route)
	s.mu.Unlock()

	for _, r := range s.registers {
		r.Remove(route)
	}
}

// Listen accepts connections on endpoint (tcp://, udp://, ipc:// or
// inproc://). Stream transports perform the ZMTP handshake and run
// the session pump for each accepted connection; udp:// has no
// handshake and demultiplexes datagrams by sender instead.
func (s *socket) Listen(endpoint string) error {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return err
	}

	switch ep.Transport {
	case TCP:
		return s.listenStream(func() (net.Listener, error) {
			addr, err := s.resolver.resolveTCPAddr(context.Background(), ep.Target)
			if err != nil {
				return nil, err
			}
			return session.ListenTCP(addr)
		})
	case IPC:
		return s.listenStream(func() (net.Listener, error) {
			return session.ListenIPC(ep.Target)
		})
	case Inproc:
		return s.listenInproc(ep.Target)
	case UDP:
		return s.listenUDP(ep.Target)
	default:
		return errors.Wrapf(TransportUnavailable, "zmtp: listen: transport %v not supported by Listen", ep.Transport)
	}
}

// listenUDP binds a UDP socket and demultiplexes it into one Pipe per
// distinct remote sender. There is no handshake: a datagram's group
// and payload are delivered as soon as they decode.
func (s *socket) listenUDP(target string) error {
	addr, err := s.resolver.resolveUDPAddr(context.Background(), target)
	if err != nil {
		return err
	}
	conn, err := session.ListenUDP(addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.closers = append(s.closers, func() { conn.Close() })
	s.mu.Unlock()

	filterByGroups := s.selfType == wire.SocketTypeDish
	go func() {
		err := session.ServeUDP(s.ctx, conn, s.opts.MaxDatagramSize, filterByGroups, func(remote *net.UDPAddr) dispatch.Pipe {
			pipe, peer := dispatch.NewPipe(queueSize(s.opts))
			s.attach(pipe, peer)
			return pipe
		})
		if err != nil {
			zlog.Debug("zmtp: udp listen on %v stopped: %v", addr, err)
		}
	}()
	return nil
}

func (s *socket) listenStream(open func() (net.Listener, error)) error {
	ln, err := open()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.closers = append(s.closers, func() { ln.Close() })
	s.mu.Unlock()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				zlog.Debug("zmtp: accept on %v stopped: %v", s.selfType, err)
				return
			}
			go s.handleAccepted(conn)
		}
	}()
	return nil
}

func (s *socket) handleAccepted(conn net.Conn) {
	info, err := session.Establish(conn, s.selfType, s.opts.Identity, s.opts.Resource)
	if err != nil {
		zlog.Warn("zmtp: handshake failed: %v", err)
		conn.Close()
		return
	}
	s.runSession(conn, info)
}

func (s *socket) runSession(conn net.Conn, info *core.Info) {
	pipe, peer := dispatch.NewPipe(queueSize(s.opts))
	s.attach(pipe, peer)
	defer s.detach(pipe.Route)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	if err := session.Run(ctx, conn, pipe, info, s.opts.MaxMessageSize, s.opts.HeartbeatTimeout); err != nil {
		zlog.Debug("zmtp: session with %v ended: %v", info.PeerAddress, err)
	}
}

func queueSize(o Options) int {
	if o.IncomingQueueSize > o.OutgoingQueueSize {
		return o.IncomingQueueSize
	}
	return o.OutgoingQueueSize
}

func (s *socket) listenInproc(name string) error {
	incoming, closer, err := session.ListenInproc(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.closers = append(s.closers, closer)
	s.mu.Unlock()

	go func() {
		for conn := range incoming {
			go s.handleAccepted(conn)
		}
	}()
	return nil
}

// Connect dials endpoint (tcp://, udp://, ipc:// or inproc://) and runs
// the session pump in the background, returning the Route identifying
// this connection (used by Peer/Server sockets to address a reply).
// Stream transports perform the ZMTP handshake first; udp:// has none.
func (s *socket) Connect(ctx context.Context, endpoint string) (Route, error) {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return 0, err
	}

	if ep.Transport == UDP {
		return s.connectUDP(ctx, ep.Target)
	}

	var conn net.Conn
	switch ep.Transport {
	case TCP:
		addr, err := s.resolver.resolveTCPAddr(ctx, ep.Target)
		if err != nil {
			return 0, err
		}
		conn, err = session.DialTCP(ctx, addr)
		if err != nil {
			return 0, err
		}
	case IPC:
		conn, err = session.DialIPC(ctx, ep.Target)
		if err != nil {
			return 0, err
		}
	case Inproc:
		conn, err = session.ConnectInproc(ctx, ep.Target)
		if err != nil {
			return 0, err
		}
	default:
		return 0, errors.Wrapf(TransportUnavailable, "zmtp: connect: transport %v not supported by Connect", ep.Transport)
	}

	info, err := session.Establish(conn, s.selfType, s.opts.Identity, s.opts.Resource)
	if err != nil {
		conn.Close()
		return 0, err
	}

	pipe, peer := dispatch.NewPipe(queueSize(s.opts))
	s.attach(pipe, peer)
	go func() {
		defer s.detach(pipe.Route)
		sessCtx, cancel := context.WithCancel(s.ctx)
		defer cancel()
		if err := session.Run(sessCtx, conn, pipe, info, s.opts.MaxMessageSize, s.opts.HeartbeatTimeout); err != nil {
			zlog.Debug("zmtp: session with %v ended: %v", info.PeerAddress, err)
		}
	}()

	return pipe.Route, nil
}

// connectUDP dials a UDP peer. There is no handshake: UDP's datagram
// codec has no greeting or READY exchange, so this skips
// session.Establish entirely and runs the datagram pump directly.
func (s *socket) connectUDP(ctx context.Context, target string) (Route, error) {
	addr, err := s.resolver.resolveUDPAddr(ctx, target)
	if err != nil {
		return 0, err
	}
	conn, err := session.DialUDP(addr)
	if err != nil {
		return 0, err
	}

	pipe, peer := dispatch.NewPipe(queueSize(s.opts))
	s.attach(pipe, peer)
	go func() {
		defer s.detach(pipe.Route)
		sessCtx, cancel := context.WithCancel(s.ctx)
		defer cancel()
		filterByGroups := s.selfType == wire.SocketTypeDish
		if err := session.RunUDP(sessCtx, conn, pipe, s.opts.MaxDatagramSize, filterByGroups); err != nil {
			zlog.Debug("zmtp: udp session with %v ended: %v", addr, err)
		}
	}()

	return pipe.Route, nil
}

func (s *socket) send(ctx context.Context, m IntoMessage) error {
	if s.fairSender == nil {
		return errors.New("zmtp: this socket type does not support Send")
	}
	return s.fairSender.Send(ctx, core.DeliveryFromMessage(m.intoMessage()))
}

func (s *socket) route(ctx context.Context, route Route, m IntoMessage) error {
	if s.router == nil {
		return errors.New("zmtp: this socket type does not support Route")
	}
	err := s.router.Route(ctx, route, core.DeliveryFromMessage(m.intoMessage()))
	if errors.Is(err, dispatch.ErrUnknownRoute) {
		return RoutingError
	}
	return err
}

func (s *socket) publish(m IntoMessage) int {
	if s.publisher == nil {
		return 0
	}
	return s.publisher.Publish(core.DeliveryFromMessage(m.intoMessage()))
}

func (s *socket) recv(ctx context.Context) (Envelope, error) {
	if s.fairRecv == nil {
		return Envelope{}, errors.New("zmtp: this socket type does not support Recv")
	}
	d, err := s.fairRecv.Recv(ctx)
	if err != nil {
		return Envelope{}, err
	}
	return d.Envelope(), nil
}

func (s *socket) join(g Group) {
	s.mu.Lock()
	s.localGroups[g] = struct{}{}
	pipes := make([]dispatch.Pipe, 0, len(s.pipes))
	for _, p := range s.pipes {
		pipes = append(pipes, p)
	}
	s.mu.Unlock()

	for _, p := range pipes {
		select {
		case p.Control <- dispatch.ControlMsg{Join: true, Group: g}:
		default:
		}
	}
}

func (s *socket) leave(g Group) {
	s.mu.Lock()
	delete(s.localGroups, g)
	pipes := make([]dispatch.Pipe, 0, len(s.pipes))
	for _, p := range s.pipes {
		pipes = append(pipes, p)
	}
	s.mu.Unlock()

	for _, p := range pipes {
		select {
		case p.Control <- dispatch.ControlMsg{Join: false, Group: g}:
		default:
		}
	}
}

// --- public socket types ---

// Client sends requests to one or more connected Servers (round-robin)
// and receives their replies.
type Client struct{ *socket }

func NewClient(opts Options) *Client {
	s := newSocket(wire.SocketTypeClient, opts)
	s.fairSender = dispatch.NewFairSender()
	s.fairRecv = dispatch.NewFairReceiver()
	s.registers = []dispatch.Register{s.fairSender, s.fairRecv}
	return &Client{s}
}

func (c *Client) Send(ctx context.Context, m IntoMessage) error     { return c.send(ctx, m) }
func (c *Client) Recv(ctx context.Context) (Envelope, error)        { return c.recv(ctx) }

// Server receives requests from any connected Client and routes
// replies back to the specific Client that sent them.
type Server struct{ *socket }

func NewServer(opts Options) *Server {
	s := newSocket(wire.SocketTypeServer, opts)
	s.router = dispatch.NewRouter()
	s.fairRecv = dispatch.NewFairReceiver()
	s.registers = []dispatch.Register{s.router, s.fairRecv}
	return &Server{s}
}

func (s *Server) Recv(ctx context.Context) (Envelope, error)            { return s.recv(ctx) }
func (s *Server) Route(ctx context.Context, r Route, m IntoMessage) error { return s.route(ctx, r, m) }

// Radio broadcasts messages to every connected Dish subscribed to
// the message's group.
type Radio struct{ *socket }

func NewRadio(opts Options) *Radio {
	s := newSocket(wire.SocketTypeRadio, opts)
	s.publisher = dispatch.NewPublisher()
	s.registers = []dispatch.Register{s.publisher}
	return &Radio{s}
}

// Broadcast publishes m (whose group selects which Dish peers receive
// it) and returns the number of peers it was delivered to.
func (r *Radio) Broadcast(m IntoMessage) int { return r.publish(m) }

// Dish receives messages published to groups it has joined.
type Dish struct{ *socket }

func NewDish(opts Options) *Dish {
	s := newSocket(wire.SocketTypeDish, opts)
	s.fairRecv = dispatch.NewFairReceiver()
	s.registers = []dispatch.Register{s.fairRecv}
	return &Dish{s}
}

func (d *Dish) Recv(ctx context.Context) (Envelope, error) { return d.recv(ctx) }

// Join subscribes to group, notifying every connected Radio.
func (d *Dish) Join(g Group) { d.join(g) }

// Leave unsubscribes from group, notifying every connected Radio.
func (d *Dish) Leave(g Group) { d.leave(g) }

// Scatter distributes messages round-robin across connected Gathers.
type Scatter struct{ *socket }

func NewScatter(opts Options) *Scatter {
	s := newSocket(wire.SocketTypeScatter, opts)
	s.fairSender = dispatch.NewFairSender()
	s.registers = []dispatch.Register{s.fairSender}
	return &Scatter{s}
}

func (s *Scatter) Send(ctx context.Context, m IntoMessage) error { return s.send(ctx, m) }

// Gather fairly receives messages from connected Scatters.
type Gather struct{ *socket }

func NewGather(opts Options) *Gather {
	s := newSocket(wire.SocketTypeGather, opts)
	s.fairRecv = dispatch.NewFairReceiver()
	s.registers = []dispatch.Register{s.fairRecv}
	return &Gather{s}
}

func (g *Gather) Recv(ctx context.Context) (Envelope, error) { return g.recv(ctx) }

// Peer connects directly to other Peers, addressing each by the
// Route returned from Connect, and fairly receives from all of them.
type Peer struct{ *socket }

func NewPeer(opts Options) *Peer {
	s := newSocket(wire.SocketTypePeer, opts)
	s.router = dispatch.NewRouter()
	s.fairRecv = dispatch.NewFairReceiver()
	s.registers = []dispatch.Register{s.router, s.fairRecv}
	return &Peer{s}
}

func (p *Peer) Recv(ctx context.Context) (Envelope, error)              { return p.recv(ctx) }
func (p *Peer) Route(ctx context.Context, r Route, m IntoMessage) error { return p.route(ctx, r, m) }
