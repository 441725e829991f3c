// Package serverregistry owns the candidate upstream server lists for each transport: the plain
// Do53 server list derived from the local resolver configuration, and the small built-in lists of
// well-known public servers for DoT and DoH. It does not itself pick a "best" server from the list -
// that is left to internal/bestserver, driven independently by each transport engine - it only
// decides which endpoints are in play and in what order.
package serverregistry

import (
	"net"
)

// Transport identifies which wire protocol an Endpoint is reached over.
type Transport int

const (
	Plain Transport = iota // Classic Do53: UDP with TCP fallback, implicit port 53
	Dot                    // DNS-over-TLS, default port 853
	Doh                    // DNS-over-HTTPS, an absolute URL
)

func (t Transport) String() string {
	switch t {
	case Plain:
		return "plain"
	case Dot:
		return "dot"
	case Doh:
		return "doh"
	}
	return "unknown"
}

// Endpoint is an immutable description of a single candidate upstream server. Exactly which fields
// are meaningful depends on Transport: Plain uses only Addr; Dot uses Addr, Hostname, Port and
// optionally Pins; Doh uses only URL. Endpoints are constructed once, normally by NewPlain/NewDot/
// NewDoh, and never mutated afterwards.
type Endpoint struct {
	transport Transport

	addr     net.IP
	hostname string // SNI for Dot
	port     string // Dot only; Plain is always port 53

	pins []string // Dot only; SPKI pins, see internal/tlsutil.VerifyPins

	url string // Doh only; absolute HTTPS URL
}

// NewPlain constructs a Do53 endpoint for addr on the standard port 53.
func NewPlain(addr net.IP) Endpoint {
	return Endpoint{transport: Plain, addr: addr}
}

// NewDot constructs a DNS-over-TLS endpoint. port defaults to 853 when empty.
func NewDot(addr net.IP, hostname, port string, pins []string) Endpoint {
	if port == "" {
		port = "853"
	}
	return Endpoint{transport: Dot, addr: addr, hostname: hostname, port: port, pins: append([]string{}, pins...)}
}

// NewDoh constructs a DoH endpoint from an absolute HTTPS URL.
func NewDoh(url string) Endpoint {
	return Endpoint{transport: Doh, url: url}
}

func (e Endpoint) Transport() Transport { return e.transport }
func (e Endpoint) Addr() net.IP         { return e.addr }
func (e Endpoint) Hostname() string     { return e.hostname }
func (e Endpoint) Port() string         { return e.port }
func (e Endpoint) Pins() []string       { return append([]string{}, e.pins...) }
func (e Endpoint) URL() string          { return e.url }

// IsIPv4 reports whether the endpoint's address (Plain/Dot) is an IPv4 address. It is always false
// for Doh, which has no address of its own.
func (e Endpoint) IsIPv4() bool {
	return e.addr != nil && e.addr.To4() != nil
}

// IsIPv6 reports whether the endpoint's address (Plain/Dot) is an IPv6-only address.
func (e Endpoint) IsIPv6() bool {
	return e.addr != nil && e.addr.To4() == nil
}

// Name satisfies bestserver.Server and identifies the endpoint uniquely for failover/latency
// tracking purposes. For Plain/Dot it is "addr:port"; for Doh it is the URL itself.
func (e Endpoint) Name() string {
	switch e.transport {
	case Doh:
		return e.url
	case Dot:
		return joinHostPort(e.addr.String(), e.port)
	default:
		return joinHostPort(e.addr.String(), "53")
	}
}

func joinHostPort(host, port string) string {
	return net.JoinHostPort(host, port)
}

func (e Endpoint) String() string {
	return e.transport.String() + ":" + e.Name()
}
