package zmtp

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// Transport names the wire carrier an Endpoint addresses.
type Transport int

const (
	TCP Transport = iota
	UDP
	IPC
	Inproc
)

func (t Transport) String() string {
	switch t {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	case IPC:
		return "ipc"
	case Inproc:
		return "inproc"
	default:
		return "unknown"
	}
}

// Endpoint is a parsed scheme://target address.
type Endpoint struct {
	Transport Transport
	Target    string // host:port for tcp/udp, path for ipc, name for inproc
}

func (e Endpoint) String() string {
	return e.Transport.String() + "://" + e.Target
}

// ParseEndpoint parses a scheme://target string, as accepted by
// Listen/Connect on every socket type.
func ParseEndpoint(s string) (Endpoint, error) {
	parts := strings.SplitN(s, "://", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Endpoint{}, errors.Wrapf(AddressInvalid, "zmtp: malformed endpoint %q", s)
	}
	var t Transport
	switch parts[0] {
	case "tcp":
		t = TCP
	case "udp":
		t = UDP
	case "ipc":
		t = IPC
	case "inproc":
		t = Inproc
	default:
		return Endpoint{}, errors.Wrapf(TransportUnknown, "zmtp: unknown scheme %q", parts[0])
	}
	return Endpoint{Transport: t, Target: parts[1]}, nil
}

// resolver does host:port -> net.Addr resolution for tcp/udp
// endpoints. It prefers a literal IP (no network round trip) and
// otherwise issues an A/AAAA query via miekg/dns, the DNS library
// this module's teacher stack already depends on.
type resolver struct {
	client  *dns.Client
	config  *dns.ClientConfig
}

func newResolver() (*resolver, error) {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		// No usable resolv.conf (containers, some test sandboxes):
		// fall back to a loopback resolver; literal-IP targets still
		// work without ever consulting it.
		cfg = &dns.ClientConfig{Servers: []string{"127.0.0.1"}, Port: "53"}
	}
	return &resolver{client: new(dns.Client), config: cfg}, nil
}

// resolveHost returns the first A/AAAA answer for host, or host itself
// if it is already a literal IP address.
func (r *resolver) resolveHost(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	if len(r.config.Servers) == 0 {
		return nil, errors.Wrapf(AddressNotFound, "zmtp: no DNS servers configured, cannot resolve %q", host)
	}

	fqdn := dns.Fqdn(host)
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(fqdn, qtype)
		m.RecursionDesired = true

		server := net.JoinHostPort(r.config.Servers[0], r.config.Port)
		in, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			continue
		}
		for _, ans := range in.Answer {
			switch rr := ans.(type) {
			case *dns.A:
				return rr.A, nil
			case *dns.AAAA:
				return rr.AAAA, nil
			}
		}
	}
	return nil, errors.Wrapf(AddressNotFound, "zmtp: could not resolve %q", host)
}

// resolveTCPAddr resolves a tcp endpoint's target to a *net.TCPAddr.
func (r *resolver) resolveTCPAddr(ctx context.Context, target string) (*net.TCPAddr, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return nil, errors.Wrapf(AddressInvalid, "zmtp: invalid tcp target %q", target)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, errors.Wrapf(AddressInvalid, "zmtp: invalid port in %q", target)
	}
	ip, err := r.resolveHost(ctx, host)
	if err != nil {
		return nil, err
	}
	return &net.TCPAddr{IP: ip, Port: port}, nil
}

// resolveUDPAddr resolves a udp endpoint's target to a *net.UDPAddr.
func (r *resolver) resolveUDPAddr(ctx context.Context, target string) (*net.UDPAddr, error) {
	tcp, err := r.resolveTCPAddr(ctx, target)
	if err != nil {
		return nil, err
	}
	return &net.UDPAddr{IP: tcp.IP, Port: tcp.Port}, nil
}
