// Package dot implements the DNS-over-TLS transport (RFC7858): a single persistent, pipelined
// connection to the current best-ranked endpoint, with EDNS(0) Keepalive/Padding injected on every
// query. Concurrent callers share the one connection; responses are correlated back to their
// callers by message ID via the outstanding-request table. Endpoint failover is driven by
// internal/bestserver.latency.
package dot

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/hollowridge/unidns/internal/bestserver"
	"github.com/hollowridge/unidns/internal/concurrencytracker"
	"github.com/hollowridge/unidns/internal/dnserr"
	"github.com/hollowridge/unidns/internal/dnsutil"
	"github.com/hollowridge/unidns/internal/serverregistry"
	"github.com/hollowridge/unidns/internal/tlsutil"

	"github.com/miekg/dns"
)

const me = "dot"

const keepaliveIdle = 1200 // 2 minutes, in EDNS0 TCP-Keepalive's 100ms units (RFC7828)

// Dialer dials a TLS connection wrapped as a dns.Conn. Tests substitute a fake.
type Dialer func(ctx context.Context, addr string, hostname string, pins []string) (*dns.Conn, error)

func defaultDial(ctx context.Context, addr, hostname string, pins []string) (*dns.Conn, error) {
	cfg, err := tlsutil.NewDoTClientTLSConfig(hostname, true, nil, pins)
	if err != nil {
		return nil, err
	}
	cfg.VerifyPeerCertificate = tlsutil.VerifyPins(pins)

	d := net.Dialer{}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Client(raw, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	return &dns.Conn{Conn: tlsConn}, nil
}

// server wraps a serverregistry.Endpoint with its per-endpoint statistics; it satisfies
// bestserver.Server.
type server struct {
	endpoint serverregistry.Endpoint

	dials, dialFailures int
	queries, failures    int
}

func (s *server) Name() string { return s.endpoint.Name() }

func (s *server) resetCounters() {
	s.dials, s.dialFailures, s.queries, s.failures = 0, 0, 0, 0
}

// conn is one live connection to one server, with its own write mutex and outstanding-request
// table. It is discarded and rebuilt on any read/write error, never repaired in place.
type conn struct {
	dnsConn *dns.Conn
	srv     *server

	writeMu sync.Mutex

	outMu       sync.Mutex
	outstanding map[uint16]chan *dns.Msg

	closed chan struct{} // closed once the reader goroutine exits
}

// Engine is the DoT transport's Client implementation.
type Engine struct {
	config Config
	dial   Dialer

	bestServer bestserver.Manager
	servers    []*server

	cct concurrencytracker.Counter

	mu      sync.Mutex // guards cs, idCount, closing
	cs      *conn
	idCount uint16
	closing bool
}

// New constructs a DoT Engine against the configured (or built-in) endpoint list.
func New(config Config) (*Engine, error) {
	reg, err := serverregistry.NewDotRegistry(serverregistry.Config{Servers: config.Servers})
	if err != nil {
		return nil, err
	}
	available := reg.Available()
	if len(available) == 0 {
		return nil, dnserr.ErrNoServers
	}

	e := &Engine{config: config, dial: defaultDial}

	var seed [2]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("%s: ID seed: %w", me, err)
	}
	e.idCount = uint16(seed[0])<<8 | uint16(seed[1])

	e.servers = make([]*server, 0, len(available))
	bsList := make([]bestserver.Server, 0, len(available))
	for _, ep := range available {
		s := &server{endpoint: ep}
		e.servers = append(e.servers, s)
		bsList = append(bsList, s)
	}

	e.bestServer, err = bestserver.NewLatency(config.latencyConfig(), bsList)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", me, err)
	}

	return e, nil
}

// Close tears down the live connection, if any, failing every outstanding request with
// ErrCancelled.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closing = true
	cs := e.cs
	e.cs = nil
	e.mu.Unlock()

	if cs != nil {
		cs.dnsConn.Close()
	}
	return nil
}

// Query sends msg over the current (or newly dialed) connection, injecting EDNS0 Keepalive and
// Padding, and waits for the matching response or cancellation.
func (e *Engine) Query(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	return e.query(ctx, msg, true)
}

func (e *Engine) query(ctx context.Context, msg *dns.Msg, allowRetry bool) (*dns.Msg, error) {
	e.cct.Add()
	defer e.cct.Done()

	cs, srv, err := e.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	clone := msg.Copy()
	clone.Id = e.nextID()
	dnsutil.EnsureKeepalive(clone, keepaliveIdle)
	if _, perr := dnsutil.PadAndPackStream(clone, e.config.blockLength()); perr != nil {
		return nil, fmt.Errorf("%s: %w", me, perr)
	}

	ch := make(chan *dns.Msg, 1)
	cs.outMu.Lock()
	if cs.outstanding == nil { // Reader already tore this connection down; dial afresh
		cs.outMu.Unlock()
		e.discard(cs)
		if allowRetry {
			return e.query(ctx, msg, false)
		}
		return nil, dnserr.ErrCancelled
	}
	if _, dup := cs.outstanding[clone.Id]; dup {
		cs.outMu.Unlock()
		return nil, fmt.Errorf("%s: query ID %d is already in flight", me, clone.Id)
	}
	cs.outstanding[clone.Id] = ch
	cs.outMu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, e.config.timeout())
	defer cancel()

	cs.writeMu.Lock()
	werr := cs.dnsConn.WriteMsg(clone)
	cs.writeMu.Unlock()

	if werr != nil {
		e.forget(cs, clone.Id)
		e.discard(cs)
		e.bestServer.Result(srv, false, time.Now(), 0)
		if allowRetry {
			return e.query(ctx, msg, false)
		}
		return nil, fmt.Errorf("%s: %w", me, werr)
	}

	select {
	case resp := <-ch:
		if resp == nil {
			// Connection was torn down while we waited; the race the recovery rule covers.
			e.bestServer.Result(srv, false, time.Now(), 0)
			if allowRetry {
				return e.query(ctx, msg, false)
			}
			return nil, dnserr.ErrCancelled
		}
		resp.Id = msg.Id
		if verr := validateResponse(resp, e.config.throwOnErrorStatus()); verr != nil {
			e.mu.Lock()
			srv.failures++
			e.mu.Unlock()
			e.bestServer.Result(srv, false, time.Now(), 0)
			return nil, verr
		}
		e.mu.Lock()
		srv.queries++
		e.mu.Unlock()
		e.bestServer.Result(srv, true, time.Now(), time.Millisecond)
		return resp, nil

	case <-reqCtx.Done():
		e.forget(cs, clone.Id)
		e.bestServer.Result(srv, false, time.Now(), 0)
		return nil, dnserr.ErrCancelled

	case <-cs.closed:
		e.forget(cs, clone.Id)
		e.bestServer.Result(srv, false, time.Now(), 0)
		if allowRetry {
			return e.query(ctx, msg, false)
		}
		return nil, dnserr.ErrCancelled
	}
}

func (e *Engine) forget(cs *conn, id uint16) {
	cs.outMu.Lock()
	delete(cs.outstanding, id)
	cs.outMu.Unlock()
}

// discard drops cs as the current connection if it still is one, forcing the next query to dial
// afresh. It does not close cs.dnsConn itself: the writer error that triggered this already means
// the socket is dead or dying, and the reader goroutine will close it when it sees the same error.
func (e *Engine) discard(cs *conn) {
	e.mu.Lock()
	if e.cs == cs {
		e.cs = nil
	}
	e.mu.Unlock()
}

func (e *Engine) nextID() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idCount++
	return e.idCount
}

// ensureConn returns the current connection, dialing a fresh one against the best-ranked endpoint
// if none exists. Endpoints are tried in bestserver.latency order until one dials successfully;
// ErrUnreachable is returned once every endpoint has failed.
func (e *Engine) ensureConn(ctx context.Context) (*conn, *server, error) {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return nil, nil, dnserr.ErrCancelled
	}
	if e.cs != nil {
		cs := e.cs
		e.mu.Unlock()
		return cs, cs.srv, nil
	}
	e.mu.Unlock()

	maxAttempts := e.bestServer.Len()
	for attempt := 0; attempt < maxAttempts; attempt++ {
		bs, _ := e.bestServer.Best()
		srv := bs.(*server)

		e.mu.Lock()
		srv.dials++
		e.mu.Unlock()

		dialCtx, cancel := context.WithTimeout(ctx, e.config.timeout())
		dnsConn, err := e.dial(dialCtx, srv.endpoint.Name(), srv.endpoint.Hostname(), srv.endpoint.Pins())
		cancel()
		if err != nil {
			e.mu.Lock()
			srv.dialFailures++
			e.mu.Unlock()
			e.bestServer.Result(srv, false, time.Now(), 0)
			continue
		}

		cs := &conn{
			dnsConn:     dnsConn,
			srv:         srv,
			outstanding: make(map[uint16]chan *dns.Msg),
			closed:      make(chan struct{}),
		}
		go e.readLoop(cs)

		e.mu.Lock()
		e.cs = cs
		e.mu.Unlock()

		return cs, srv, nil
	}

	return nil, nil, dnserr.ErrUnreachable
}

// readLoop is the single reader for one connection; it runs until the connection errors or is
// closed, then fails every still-outstanding request and discards itself as the current connection.
func (e *Engine) readLoop(cs *conn) {
	for {
		resp, err := cs.dnsConn.ReadMsg()
		if err != nil {
			// A frame that was read whole but failed to decode leaves the stream aligned;
			// drop it and keep reading - the matching request simply times out. Anything
			// else means the connection is gone.
			var dnsErr *dns.Error
			if errors.As(err, &dnsErr) {
				log.Printf("%s: dropping undecodable frame from %s: %v", me, cs.srv.Name(), err)
				continue
			}
			break
		}
		cs.outMu.Lock()
		ch, ok := cs.outstanding[resp.Id]
		if ok {
			delete(cs.outstanding, resp.Id)
		}
		cs.outMu.Unlock()
		if !ok {
			log.Printf("%s: dropping response with unknown ID %d from %s", me, resp.Id, cs.srv.Name())
			continue // No matching request; already timed out or a stray/duplicate response.
		}
		ch <- resp
	}

	cs.dnsConn.Close()
	close(cs.closed)

	cs.outMu.Lock()
	remaining := cs.outstanding
	cs.outstanding = nil
	cs.outMu.Unlock()
	for _, ch := range remaining {
		ch <- nil
	}

	e.discard(cs)
}

func validateResponse(resp *dns.Msg, throwOnErrorStatus bool) error {
	if !resp.Response || resp.Truncated {
		return dnserr.ErrProtocolFormat
	}
	if throwOnErrorStatus && resp.Rcode != dns.RcodeSuccess {
		return dnserr.NewStatusError(resp.Rcode)
	}
	return nil
}
