package serverregistry

import (
	"errors"
	"net"

	"github.com/miekg/dns"
)

const me = "serverregistry"

// DefaultDotServers is the built-in list of well-known public DNS-over-TLS servers used when a
// client does not override Config.Servers: Cloudflare, Google, Quad9 and one pinned "securedns.eu"
// entry, per the well-known-public-resolver list this core ships with.
func DefaultDotServers() []Endpoint {
	return []Endpoint{
		NewDot(net.ParseIP("1.1.1.1"), "cloudflare-dns.com", "", nil),
		NewDot(net.ParseIP("2606:4700:4700::1111"), "cloudflare-dns.com", "", nil),
		NewDot(net.ParseIP("8.8.8.8"), "dns.google", "", nil),
		NewDot(net.ParseIP("2001:4860:4860::8888"), "dns.google", "", nil),
		NewDot(net.ParseIP("9.9.9.9"), "dns.quad9.net", "", nil),
		NewDot(net.ParseIP("2620:fe::fe"), "dns.quad9.net", "", nil),
		NewDot(net.ParseIP("146.185.167.43"), "securedns.eu", "",
			[]string{"h1hJ/b6z9rAkfT7IQWfZPEujWioYQYjm/vb33Ve52KE="}),
	}
}

// DefaultDohServer is the single built-in DoH URL used when a client does not override
// Config.Servers.
const DefaultDohServer = "https://cloudflare-dns.com/dns-query"

// Config is passed to New. ResolvConfPath is only consulted for Plain/Do53 registries; Servers, when
// non-empty, is a total override of whatever default list the transport would otherwise use - it is
// never merged with the built-in/resolv.conf defaults.
type Config struct {
	ResolvConfPath string // Default "/etc/resolv.conf", Do53 only
	Servers        []Endpoint
}

// Registry owns the candidate server list for one client instance/transport.
type Registry struct {
	transport Transport
	all       []Endpoint
}

// NewPlainRegistry builds a registry of Do53 endpoints, either from config.Servers (if supplied) or
// by parsing config.ResolvConfPath with dns.ClientConfigFromFile. resolv.conf is the closest portable
// source of "the servers this host would use": true per-interface DNS enumeration is
// platform-specific and outside what this module attempts.
func NewPlainRegistry(config Config) (*Registry, error) {
	if len(config.Servers) > 0 {
		return &Registry{transport: Plain, all: append([]Endpoint{}, config.Servers...)}, nil
	}

	path := config.ResolvConfPath
	if path == "" {
		path = "/etc/resolv.conf"
	}

	cc, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil, errors.New(me + ": " + err.Error())
	}

	eps := make([]Endpoint, 0, len(cc.Servers))
	for _, s := range cc.Servers {
		ip := net.ParseIP(s)
		if ip == nil {
			continue // Skip anything resolv.conf handed us that isn't a literal address
		}
		eps = append(eps, NewPlain(ip))
	}

	return &Registry{transport: Plain, all: eps}, nil
}

// NewDotRegistry builds a registry of DoT endpoints, either from config.Servers or DefaultDotServers.
func NewDotRegistry(config Config) (*Registry, error) {
	eps := config.Servers
	if len(eps) == 0 {
		eps = DefaultDotServers()
	}
	return &Registry{transport: Dot, all: append([]Endpoint{}, eps...)}, nil
}

// NewDohRegistry builds a registry of DoH endpoints, either from config.Servers or a single endpoint
// for DefaultDohServer.
func NewDohRegistry(config Config) (*Registry, error) {
	eps := config.Servers
	if len(eps) == 0 {
		eps = []Endpoint{NewDoh(DefaultDohServer)}
	}
	return &Registry{transport: Doh, all: append([]Endpoint{}, eps...)}, nil
}

// Available returns the configured endpoint list filtered by local address-family support, ordered
// so that IPv4 entries precede IPv6 entries - consumer routers frequently mis-handle IPv6, so this
// core always prefers v4 first. Doh endpoints have no address family of their own and are returned
// unfiltered, in configured order, ahead of any (non-existent, for Doh registries) v6 entries.
func (r *Registry) Available() []Endpoint {
	v4Ok, v6Ok := probeFamiliesFunc()

	v4 := make([]Endpoint, 0, len(r.all))
	v6 := make([]Endpoint, 0, len(r.all))
	other := make([]Endpoint, 0, len(r.all))

	for _, e := range r.all {
		switch {
		case e.Transport() == Doh:
			other = append(other, e)
		case e.IsIPv4():
			if v4Ok {
				v4 = append(v4, e)
			}
		case e.IsIPv6():
			if v6Ok {
				v6 = append(v6, e)
			}
		default:
			other = append(other, e)
		}
	}

	out := make([]Endpoint, 0, len(r.all))
	out = append(out, other...)
	out = append(out, v4...)
	out = append(out, v6...)

	return out
}

// All returns every configured endpoint, unfiltered.
func (r *Registry) All() []Endpoint {
	return append([]Endpoint{}, r.all...)
}

// probeFamiliesFunc is overridable so tests can exercise Available()'s filtering/ordering logic
// without depending on the test host's actual dual-stack configuration.
var probeFamiliesFunc = probeFamilies

// probeFamilies performs a zero-cost net.Dial("udp4"/"udp6", ...) against a documentation address to
// determine whether the host's routing table supports each address family. No packet is actually
// sent to the network for a UDP dial - it merely exercises local route/address-family resolution,
// consistent with how Go's own net package self-tests dual-stack availability.
func probeFamilies() (v4, v6 bool) {
	if c, err := net.Dial("udp4", "192.0.2.1:53"); err == nil {
		v4 = true
		c.Close()
	}
	if c, err := net.Dial("udp6", "[2001:db8::1]:53"); err == nil {
		v6 = true
		c.Close()
	}
	return
}
