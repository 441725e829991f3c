package main

import (
	"time"

	"github.com/hollowridge/unidns/internal/bestserver"
	"github.com/hollowridge/unidns/internal/flagutil"
)

type config struct {
	gops    bool
	help    bool
	tcp     bool // Listen on TCP
	udp     bool // Listen on UDP
	verbose bool
	version bool

	mode string // Upstream transport: do53, dot or doh

	listenAddresses flagutil.StringValue // Listen address for inbound DNS queries

	resolvConfPath string // Source of the default do53 upstream list
	statusInterval time.Duration

	requestTimeout time.Duration // Per-query deadline for dot/doh upstreams
	timeoutUDP     time.Duration // do53 UDP-phase deadline
	timeoutTCP     time.Duration // do53 TCP-phase deadline
	blockLength    uint          // dot padding modulus

	maximumRemoteConnections int // doh MaxConnsPerHost

	logAll       bool // Turns on all other log options
	logClientIn  bool // Print the DNS query arriving from the client
	logClientOut bool // Print the DNS response returned to the client
	logTLSErrors bool // Print x509 errors returned from the upstream engine

	tlsClientCertFile   string // Connect to doh servers using these credentials
	tlsClientKeyFile    string
	tlsCAFiles          flagutil.StringValue // Non-system root CAs to validate dot/doh servers
	tlsUseSystemRootCAs bool                 // Do/Do not use system root CAs to validate dot/doh servers

	latencyConfig bestserver.LatencyConfig // Passed down to the dot/doh engines

	cpuprofile, memprofile string

	setuidName, setgidName, chrootDir string // Process constraint settings
}
