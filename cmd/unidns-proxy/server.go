package main

/*

This module is the core of the proxy server. It accepts a traditional DNS query on the loopback
interface and forwards it through the configured unidns transport engine, then relays the response
back to the client. The processing here is straightforward as most of the logic is contained within
the transport engines.

The main area of interest for this module is truncation. A response from an upstream server over a
stream transport can easily be larger than that allowed by our downstream client using UDP. This
means we have to truncate in some cases and set TC=1. It's also the case that an upstream response
can come back with TC=1 which we must be sure to pass back to the client.

Under no circumstances do we ever clear TC=1 even though some other DNS proxies are known to do
this. Our view is that this is hiding information from the client and robbing it of the ability to
make fully informed choices. In that vein we also try and retain as much of the response as possible
if we need to truncate the message. The reason being that at least the client may have something to
work with if it's incapable of making a TCP re-query. In the most common case of an address record
lookup, there are highly likely to be some answers that fit in the Answer section.

When and how to truncate and what to do with a truncated response was meant to be clarified in
rfc2181 however it seems to only have muddied the waters. Our view is that a client should be given
as much information as possible and let it decide what to do next.

*/

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hollowridge/unidns"
	"github.com/hollowridge/unidns/internal/concurrencytracker"
	"github.com/hollowridge/unidns/internal/connectiontracker"
	"github.com/hollowridge/unidns/internal/dnsutil"

	"github.com/miekg/dns"
)

const ( // ser = Server ERror index into failureCounters
	serNoResponse = iota // iota resets to zero in each const() spec set
	serDNSWriteFailed
	serListSize
)

const ( // ev = EVent index into events array
	evInTruncated  = iota // Upstream returned TC=1
	evOutTruncated        // We set TC=1
	evListSize
)

type events [evListSize]bool

type stats struct {
	successCount    int              // Queries that ran to completion without error
	totalLatency    time.Duration    // Duration of all successful queries
	eventCounters   [evListSize]int  // Events that occur during the course of a query
	failureCounters [serListSize]int // Errors that stop a query from progressing
}

type server struct {
	stdout        io.Writer
	upstream      unidns.Client // Forwarding client - never nil
	listenAddress string
	transport     string // One of listenTransports
	server        *dns.Server
	connTracker   *connectiontracker.Tracker // TCP listeners only - nil for UDP
	cct           concurrencytracker.Counter // Track peak concurrent server requests

	mu sync.RWMutex // Protects everything below - everything above is read-only or self-protected
	stats
}

func newServer(stdout io.Writer, upstream unidns.Client, listenAddress, transport string) *server {
	s := &server{stdout: stdout, upstream: upstream, listenAddress: listenAddress, transport: transport}
	if transport == consts.DNSTCPTransport {
		s.connTracker = connectiontracker.New("Conns: (on " + listenAddress + "/" + transport + ")")
	}
	return s
}

// trackedListener wraps the TCP listen socket so every accepted connection registers with the
// connection tracker and deregisters on close.
type trackedListener struct {
	net.Listener
	tracker *connectiontracker.Tracker
}

func (t *trackedListener) Accept() (net.Conn, error) {
	c, err := t.Listener.Accept()
	if err != nil {
		return nil, err
	}
	key := c.RemoteAddr().String()
	t.tracker.ConnState(key, time.Now(), http.StateNew)
	return &trackedConn{Conn: c, tracker: t.tracker, key: key}, nil
}

type trackedConn struct {
	net.Conn
	tracker   *connectiontracker.Tracker
	key       string
	closeOnce sync.Once
}

func (t *trackedConn) Close() error {
	t.closeOnce.Do(func() {
		t.tracker.ConnState(t.key, time.Now(), http.StateClosed)
	})
	return t.Conn.Close()
}

// start starts up the dns server and writes to errorChan at server exit. For UDP we use the
// server's NotifyStartedFunc capability to actually wait until the socket is opened so we don't
// have to fudge a setuid delay. For TCP we open the listener ourselves (so it can be wrapped by the
// connection tracker) which means the privileged socket exists before start returns. Unfortunately
// it's all a bit messy as the error case of a socket that cannot be opened causes an early return
// of ListenAndServe and no call to the NotifyStartedFunc so it requires a bit of juggling to make
// sure we return to the caller in a consistent state.
func (t *server) start(errorChan chan error, wg *sync.WaitGroup) {
	if t.transport == consts.DNSTCPTransport {
		listener, err := net.Listen("tcp", t.listenAddress)
		if err != nil {
			wg.Add(1)
			go func() {
				errorChan <- err
				wg.Done()
			}()
			return
		}
		t.server = &dns.Server{Listener: &trackedListener{Listener: listener, tracker: t.connTracker},
			Handler: t}
		wg.Add(1)
		go func() {
			errorChan <- t.server.ActivateAndServe()
			wg.Done()
		}()
		return
	}

	var notifyWG sync.WaitGroup
	var once sync.Once

	notifyWG.Add(1)
	t.server = &dns.Server{Addr: t.listenAddress, Net: t.transport, Handler: t, NotifyStartedFunc: func() {
		once.Do(func() { notifyWG.Done() })
	}}

	wg.Add(1) // Add to caller's waitGroup
	go func() {
		errorChan <- t.server.ListenAndServe()
		once.Do(func() { notifyWG.Done() })
		wg.Done()
	}()
	notifyWG.Wait() // Wait for dns.Server notify before returning to say server is listening (or failed)
}

// ServeDNS is called once per query in a newly created go-routine.
func (t *server) ServeDNS(writer dns.ResponseWriter, query *dns.Msg) {
	var evs events // Track events for end-of-request call to addSuccessStats()

	t.cct.Add() // Track peak concurrency for reporting purposes
	defer t.cct.Done()

	if t.connTracker != nil { // Count queries per inbound TCP connection as sessions
		key := writer.RemoteAddr().String()
		if t.connTracker.SessionAdd(key) {
			defer t.connTracker.SessionDone(key)
		}
	}

	if cfg.logClientIn {
		fmt.Fprintln(t.stdout, "CI:"+writer.RemoteAddr().String()+":"+dnsutil.CompactMsgString(query))
	}

	// Forward the request through the upstream engine. The engines manage failover and timeouts
	// themselves so there is no need for any recovery or retry loops here. We can't sensibly
	// convert an error into a DNS response so the best bet is to simply let the client
	// retry ... if it chooses to do so.

	startTime := time.Now() // Track latency
	resp, err := t.upstream.Query(context.Background(), query)
	duration := time.Now().Sub(startTime)
	if err != nil {
		t.addFailureStats(serNoResponse, evs)
		msg := err.Error()
		if cfg.logClientOut || (cfg.logTLSErrors && strings.Contains(msg, "x509: ")) {
			fmt.Fprintln(t.stdout, "CE:"+dnsutil.CompactMsgString(query), msg)
		}
		return
	}

	// Check for the need to truncate the response. The client's size limit comes from the
	// inbound DNS query OPT, not any residual or alternative OPT that may be present in the
	// upstream response. We use our definition of truncated rather than msg.Truncate() (which
	// has changed over time) and we also preserve the Truncated flag if it's already set.

	evs[evInTruncated] = resp.Truncated
	payloadSize := resp.Len()
	if t.transport == consts.DNSUDPTransport && payloadSize > consts.DNSTruncateThreshold {
		limit := consts.DNSTruncateThreshold
		opt := query.IsEdns0()                        // Only use client's upper limit from query
		if opt != nil && int(opt.UDPSize()) > limit { // if present *and* GT system limit
			limit = int(opt.UDPSize())
		}
		if payloadSize > limit { // Only call Truncate() if we have to
			evs[evOutTruncated] = true
			preserveTruncated := resp.Truncated
			beforeCount := len(resp.Answer) + len(resp.Ns) + len(resp.Extra)
			resp.Truncate(limit)
			afterCount := len(resp.Answer) + len(resp.Ns) + len(resp.Extra)
			resp.Truncated = resp.Truncated || preserveTruncated || beforeCount != afterCount
		}
	}

	err = writer.WriteMsg(resp)
	if err != nil {
		t.addFailureStats(serDNSWriteFailed, evs)
		if cfg.logClientOut {
			fmt.Fprintln(t.stdout, "CE:"+err.Error())
		}
		return
	}

	t.addSuccessStats(duration, evs)
	if cfg.logClientOut {
		fmt.Fprintln(t.stdout, "CO:"+dnsutil.CompactMsgString(resp), duration)
	}
}

// stop performs an orderly shutdown of listen sockets.
func (t *server) stop() {
	if t.server != nil {
		t.server.Shutdown()
	}
}
