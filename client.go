// Package unidns is a unicast DNS stub-resolver client library. It issues DNS queries to a
// recursive resolver over classic Do53 (UDP with TCP fallback), DNS-over-TLS, or DNS-over-HTTPS,
// and returns the parsed response.
//
// The three transports are reached through the concrete constructors in the do53, dot and doh
// sub-packages; all three implement the Client interface below so callers can depend on Client
// alone and swap transports without touching call sites.
package unidns

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"
)

// Client is the contract every transport engine (do53, dot, doh) satisfies.
type Client interface {
	// Query sends msg and returns the matching response, or an error from the ErrXxx/DNSStatusError
	// family declared in this package.
	Query(ctx context.Context, msg *dns.Msg) (*dns.Msg, error)

	// Close releases any resources (live connections, background goroutines) held by the client.
	// Any query still in flight at the time of Close completes with ErrCancelled.
	Close() error
}

// ResolveHost looks up both the IPv4 and IPv6 addresses of name, querying concurrently. If either
// the A or the AAAA query fails the whole call fails; partial results are never returned silently.
func ResolveHost(ctx context.Context, c Client, name string) ([]net.IP, error) {
	if len(name) == 0 {
		panic("unidns: ResolveHost called with an empty name")
	}
	fqdn := dns.Fqdn(name)

	g, ctx := errgroup.WithContext(ctx)
	var v4, v6 []net.IP

	g.Go(func() error {
		ips, err := queryType(ctx, c, fqdn, dns.TypeA)
		v4 = ips
		return err
	})
	g.Go(func() error {
		ips, err := queryType(ctx, c, fqdn, dns.TypeAAAA)
		v6 = ips
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return append(v4, v6...), nil
}

func queryType(ctx context.Context, c Client, fqdn string, qtype uint16) ([]net.IP, error) {
	resp, err := QueryType(ctx, c, fqdn, qtype)
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, rr := range resp.Answer {
		switch v := rr.(type) {
		case *dns.A:
			ips = append(ips, v.A)
		case *dns.AAAA:
			ips = append(ips, v.AAAA)
		}
	}

	return ips, nil
}

// ResolveAddr performs a reverse (PTR) lookup of addr and returns the first name in the answer.
func ResolveAddr(ctx context.Context, c Client, addr net.IP) (string, error) {
	arpa, err := dns.ReverseAddr(addr.String())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProtocolFormat, err)
	}

	resp, err := QueryType(ctx, c, arpa, dns.TypePTR)
	if err != nil {
		return "", err
	}

	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}

	return "", fmt.Errorf("%w: no PTR record for %s", ErrNoAnswer, addr)
}

// QueryType builds a recursion-desired query for name/qtype and sends it via c.
func QueryType(ctx context.Context, c Client, name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	return c.Query(ctx, msg)
}
