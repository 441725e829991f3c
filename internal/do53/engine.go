// Package do53 implements the classic Do53 transport: UDP with TCP fallback on truncation, failing
// over across the configured server list using the "traditional" res_send(3)-style algorithm from
// internal/bestserver. No state persists between queries beyond configuration and statistics; each
// call opens its own short-lived sockets.
package do53

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hollowridge/unidns/internal/bestserver"
	"github.com/hollowridge/unidns/internal/concurrencytracker"
	"github.com/hollowridge/unidns/internal/dnserr"
	"github.com/hollowridge/unidns/internal/serverregistry"

	"github.com/miekg/dns"
)

const me = "do53"

// DNSClientExchanger is the interface implemented by dns.Client.ExchangeContext. It exists so tests
// can supply a mock exchanger instead of hitting the network.
type DNSClientExchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// NewExchangerFunc constructs a DNSClientExchanger for the given network ("udp" or "tcp").
type NewExchangerFunc func(network string) DNSClientExchanger

func defaultNewExchanger(network string) DNSClientExchanger {
	return &dns.Client{Net: network}
}

// server wraps a serverregistry.Endpoint with the per-server statistics the Reporter needs; it
// satisfies bestserver.Server.
type server struct {
	endpoint serverregistry.Endpoint

	attempts     int
	udpTruncated int
	tcpFallbacks int
	failures     int
}

func (s *server) resetCounters() {
	s.attempts, s.udpTruncated, s.tcpFallbacks, s.failures = 0, 0, 0, 0
}

func (s *server) Name() string { return s.endpoint.Name() }

// Engine is the Do53 transport's Client implementation.
type Engine struct {
	config Config

	newExchanger NewExchangerFunc

	registry   *serverregistry.Registry
	bestServer bestserver.Manager
	servers    []*server

	cct concurrencytracker.Counter

	mu                           sync.RWMutex // Protects the counters below and each *server's counters
	queries, successes, failures int
}

// New constructs a Do53 Engine. It fails immediately if the configured/derived server list is
// empty (ErrNoServers).
func New(config Config) (*Engine, error) {
	reg, err := serverregistry.NewPlainRegistry(serverregistry.Config{
		ResolvConfPath: config.ResolvConfPath,
		Servers:        config.Servers,
	})
	if err != nil {
		return nil, err
	}

	available := reg.Available()
	if len(available) == 0 {
		return nil, dnserr.ErrNoServers
	}

	e := &Engine{config: config, newExchanger: defaultNewExchanger, registry: reg}

	e.servers = make([]*server, 0, len(available))
	bsList := make([]bestserver.Server, 0, len(available))
	for _, ep := range available {
		s := &server{endpoint: ep}
		e.servers = append(e.servers, s)
		bsList = append(bsList, s)
	}

	e.bestServer, err = bestserver.NewTraditional(bestserver.TraditionalConfig{}, bsList)
	if err != nil {
		return nil, errors.New(me + ": " + err.Error())
	}

	return e, nil
}

// Close releases resources. Do53 holds no persistent connections, so Close is a no-op that
// satisfies the Client interface.
func (e *Engine) Close() error { return nil }

// Query sends msg to the best-ranked available server, trying UDP then TCP on truncation or UDP
// timeout, and failing over to the next server on any other error. Caller cancellation surfaces
// immediately and never moves on to another server.
func (e *Engine) Query(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	e.cct.Add()
	defer e.cct.Done()

	e.mu.Lock()
	e.queries++
	e.mu.Unlock()

	maxAttempts := e.bestServer.Len()
	for attempt := 0; attempt < maxAttempts; attempt++ {
		bs, _ := e.bestServer.Best()
		srv := bs.(*server)

		e.mu.Lock()
		srv.attempts++
		e.mu.Unlock()

		resp, err := e.tryServer(ctx, msg, srv)
		if err != nil {
			if errors.Is(err, dnserr.ErrCancelled) {
				e.mu.Lock()
				e.failures++
				e.mu.Unlock()
				return nil, err
			}
			e.mu.Lock()
			srv.failures++
			e.mu.Unlock()
			e.bestServer.Result(bs, false, time.Now(), 0)
			continue
		}

		e.bestServer.Result(bs, true, time.Now(), 0)
		if err := validateResponse(resp, e.config.throwOnErrorStatus()); err != nil {
			e.mu.Lock()
			e.failures++
			e.mu.Unlock()
			return nil, err
		}

		e.mu.Lock()
		e.successes++
		e.mu.Unlock()
		return resp, nil
	}

	e.mu.Lock()
	e.failures++
	e.mu.Unlock()
	return nil, dnserr.ErrUnreachable
}

// tryServer performs the UDP-then-TCP-on-truncation attempt sequence against one server.
func (e *Engine) tryServer(ctx context.Context, msg *dns.Msg, srv *server) (*dns.Msg, error) {
	udpCtx, cancel := context.WithTimeout(ctx, e.config.timeoutUDP())
	defer cancel()

	exch := e.newExchanger("udp")
	resp, _, err := exch.ExchangeContext(udpCtx, msg, srv.endpoint.Name())
	if err == nil && !resp.Truncated {
		return resp, nil
	}
	if err == nil && resp.Truncated {
		e.mu.Lock()
		srv.udpTruncated++
		e.mu.Unlock()
	} else {
		if ctx.Err() != nil { // caller cancellation/deadline, not just our attempt timeout
			return nil, dnserr.ErrCancelled
		}
		if udpCtx.Err() == nil { // real socket error, not a timeout - try next server, not TCP
			return nil, err
		}
		// UDP attempt timed out: fall through to TCP.
	}

	tcpCtx, cancel2 := context.WithTimeout(ctx, e.config.timeoutTCP())
	defer cancel2()

	tcpExch := e.newExchanger("tcp")
	tcpResp, _, tcpErr := tcpExch.ExchangeContext(tcpCtx, msg, srv.endpoint.Name())
	if tcpErr != nil {
		if ctx.Err() != nil {
			return nil, dnserr.ErrCancelled
		}
		return nil, tcpErr
	}
	e.mu.Lock()
	srv.tcpFallbacks++
	e.mu.Unlock()

	return tcpResp, nil
}

// validateResponse rejects non-responses and truncated messages. A truncated UDP response never
// reaches here (it falls back to TCP first) so a truncated flag at this point came over a stream,
// where it is a protocol violation.
func validateResponse(resp *dns.Msg, throwOnErrorStatus bool) error {
	if !resp.Response || resp.Truncated {
		return dnserr.ErrProtocolFormat
	}
	if throwOnErrorStatus && resp.Rcode != dns.RcodeSuccess {
		return dnserr.NewStatusError(resp.Rcode)
	}
	return nil
}
