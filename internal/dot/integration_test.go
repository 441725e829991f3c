//go:build integration

package dot

// Live-network variant of the reconnect test: run with go test -tags integration ./...

import (
	"context"
	"testing"

	"github.com/miekg/dns"
)

func TestIntegrationReconnectAfterExternalClose(t *testing.T) {
	e, err := New(Config{UseSystemCAs: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	m1 := new(dns.Msg)
	m1.SetQuestion("cloudflare-dns.com.", dns.TypeA)
	if _, err := e.Query(context.Background(), m1); err != nil {
		t.Fatalf("first query: %v", err)
	}

	// Dispose the live connection externally, as a server tearing down an idle session would
	e.mu.Lock()
	cs := e.cs
	e.mu.Unlock()
	if cs == nil {
		t.Fatal("expected a live connection after the first query")
	}
	cs.dnsConn.Close()
	<-cs.closed

	m2 := new(dns.Msg)
	m2.SetQuestion("cloudflare-dns.com.", dns.TypeAAAA)
	if _, err := e.Query(context.Background(), m2); err != nil {
		t.Fatalf("expected an automatic reconnect, got %v", err)
	}
}
