// Package doh implements the DNS-over-HTTPS transport per RFC8484: each query is POSTed as a raw
// DNS wire message to the current best-ranked server URL and the response body is unpacked and
// validated. The HTTP stack owns connection lifecycle and response correlation; this engine only
// selects the URL, frames the request and polices the response. Failover across URLs is driven by
// internal/bestserver.latency.
package doh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hollowridge/unidns/internal/bestserver"
	"github.com/hollowridge/unidns/internal/concurrencytracker"
	"github.com/hollowridge/unidns/internal/constants"
	"github.com/hollowridge/unidns/internal/dnserr"
	"github.com/hollowridge/unidns/internal/dnsutil"
	"github.com/hollowridge/unidns/internal/serverregistry"
	"github.com/hollowridge/unidns/internal/tlsutil"

	"github.com/miekg/dns"
	"golang.org/x/net/http2"
)

const me = "doh"

var consts = constants.Get()

// HTTPClientDo is an interface which implements http.Client.Do() - the only http.Client method
// used by this engine. It mainly exists so tests can supply a mock http.Client; we cannot accept an
// alternate http.Client directly because http.Client is an implementation struct, not an interface.
type HTTPClientDo interface {
	Do(*http.Request) (*http.Response, error)
}

// dex = Doh Error indeX into the per-server failures array
type dexInt int

const (
	dexCreateHTTPRequest dexInt = iota
	dexDoRequest
	dexNonStatusOk
	dexResponseReadAll
	dexContentType
	dexUnpackDNSResponse
	dexArraySize
)

// server wraps a serverregistry.Endpoint with its per-endpoint statistics; it satisfies
// bestserver.Server.
type server struct {
	endpoint serverregistry.Endpoint

	success      int
	totalLatency time.Duration
	failures     [dexArraySize]int
}

func (s *server) Name() string { return s.endpoint.Name() }

func (s *server) resetCounters() {
	s.success = 0
	s.totalLatency = 0
	s.failures = [dexArraySize]int{}
}

// Engine is the DoH transport's Client implementation.
type Engine struct {
	config     Config
	httpClient HTTPClientDo

	bestServer bestserver.Manager
	servers    []*server

	cct concurrencytracker.Counter

	sendMu sync.Mutex // Serialises server selection and request issuance

	mu      sync.Mutex // Protects each *server's counters
	queries int
}

// New constructs a DoH Engine against the configured (or built-in) URL list. httpClient may be nil
// in which case an HTTP/2-enabled client is built from the Config's TLS settings.
func New(config Config, httpClient HTTPClientDo) (*Engine, error) {
	reg, err := serverregistry.NewDohRegistry(serverregistry.Config{Servers: config.Servers})
	if err != nil {
		return nil, err
	}
	available := reg.Available()
	if len(available) == 0 {
		return nil, dnserr.ErrNoServers
	}

	e := &Engine{config: config, httpClient: httpClient}
	if e.httpClient == nil {
		tlsConfig, err := tlsutil.NewClientTLSConfig(config.UseSystemCAs, config.OtherCAFiles,
			config.ClientCertFile, config.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", me, err)
		}
		tr := &http.Transport{TLSClientConfig: tlsConfig, MaxConnsPerHost: config.MaxConnsPerHost}
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, fmt.Errorf("%s: %w", me, err)
		}
		e.httpClient = &http.Client{Transport: tr}
	}

	e.servers = make([]*server, 0, len(available))
	bsList := make([]bestserver.Server, 0, len(available))
	for _, ep := range available {
		s := &server{endpoint: ep}
		e.servers = append(e.servers, s)
		bsList = append(bsList, s)
	}

	e.bestServer, err = bestserver.NewLatency(e.config.latencyConfig(), bsList)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", me, err)
	}

	return e, nil
}

// Close releases resources. The HTTP stack owns connection lifecycle for DoH, so there is nothing
// to tear down beyond satisfying the Client interface.
func (e *Engine) Close() error { return nil }

// Query POSTs msg to the best-ranked server URL and returns the unpacked response. HTTP-level
// failures record against the endpoint and fail over to the next URL; a malformed response
// (content-type, unpackable body, not-a-response) raises immediately.
func (e *Engine) Query(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	e.cct.Add()
	defer e.cct.Done()

	e.mu.Lock()
	e.queries++
	e.mu.Unlock()

	binary, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("%s: query pack: %w", me, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.config.timeout())
	defer cancel()

	maxAttempts := e.bestServer.Len()
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := e.tryBest(reqCtx, binary)
		if err != nil {
			if reqCtx.Err() != nil {
				return nil, dnserr.ErrCancelled
			}
			if isFormatError(err) {
				return nil, err
			}
			continue
		}

		resp.Id = msg.Id // The transport is correlation enough; restore the caller's ID verbatim
		if verr := validateResponse(resp, e.config.throwOnErrorStatus()); verr != nil {
			return nil, verr
		}
		return resp, nil
	}

	return nil, dnserr.ErrUnreachable
}

func isFormatError(err error) bool {
	return errors.Is(err, dnserr.ErrProtocolFormat)
}

// tryBest issues one POST against the current best server, recording per-endpoint statistics and
// the bestserver result for latency-based reselection.
func (e *Engine) tryBest(ctx context.Context, binary []byte) (*dns.Msg, error) {
	e.sendMu.Lock()
	bs, _ := e.bestServer.Best()
	srv := bs.(*server)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		srv.endpoint.URL(), bytes.NewReader(binary))
	e.sendMu.Unlock()
	if err != nil {
		e.addFailure(srv, dexCreateHTTPRequest)
		return nil, err
	}

	req.Header.Set(consts.AcceptHeader, consts.Rfc8484AcceptValue)
	req.Header.Set(consts.ContentTypeHeader, consts.Rfc8484AcceptValue)
	req.Header.Set(consts.UserAgentHeader,
		consts.PackageName+"/"+consts.Version+" ("+consts.PackageURL+")")

	startTime := time.Now()
	httpResp, err := e.httpClient.Do(req)
	endTime := time.Now()
	if err != nil {
		e.addFailure(srv, dexDoRequest)
		e.bestServer.Result(bs, false, endTime, 0)
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		e.addFailure(srv, dexNonStatusOk)
		e.bestServer.Result(bs, false, endTime, 0)
		return nil, fmt.Errorf("%w: bad HTTP status %s from %s",
			dnserr.ErrUnreachable, httpResp.Status, srv.Name())
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		e.addFailure(srv, dexResponseReadAll)
		e.bestServer.Result(bs, false, endTime, 0)
		return nil, fmt.Errorf("%s: body read: %w", me, err)
	}

	ct := httpResp.Header.Get(consts.ContentTypeHeader)
	if ct != consts.Rfc8484AcceptValue {
		e.addFailure(srv, dexContentType)
		e.bestServer.Result(bs, false, endTime, 0)
		return nil, fmt.Errorf("%w: expected Content-Type %s but got %q from %s",
			dnserr.ErrProtocolFormat, consts.Rfc8484AcceptValue, ct, srv.Name())
	}

	if uint(len(body)) < consts.MinimumViableDNSMessage {
		e.addFailure(srv, dexContentType)
		e.bestServer.Result(bs, false, endTime, 0)
		return nil, fmt.Errorf("%w: response length %d is below minimum viable of %d",
			dnserr.ErrProtocolFormat, len(body), consts.MinimumViableDNSMessage)
	}

	resp := &dns.Msg{}
	if err := resp.Unpack(body); err != nil {
		e.addFailure(srv, dexUnpackDNSResponse)
		e.bestServer.Result(bs, false, endTime, 0)
		return nil, fmt.Errorf("%w: unpack of reply failed: %v", dnserr.ErrProtocolFormat, err)
	}

	latency := endTime.Sub(startTime)
	e.mu.Lock()
	srv.success++
	srv.totalLatency += latency
	e.mu.Unlock()
	e.bestServer.Result(bs, true, endTime, latency)

	// RFC8484 5.1 says to adjust TTLs down by the Age header when a caching HTTPS intermediary
	// answered. Never reduce below 1s as a zero TTL is not well defined.
	if ageValue := httpResp.Header.Get(consts.AgeHeader); len(ageValue) > 0 {
		if ttlAdjust, err := strconv.ParseUint(ageValue, 10, 32); err == nil && ttlAdjust > 0 {
			dnsutil.ReduceTTL(resp, uint32(ttlAdjust), 1)
		}
	}

	return resp, nil
}

func (e *Engine) addFailure(srv *server, ix dexInt) {
	e.mu.Lock()
	srv.failures[ix]++
	e.mu.Unlock()
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
