package main

import (
	"time"

	"github.com/hollowridge/unidns/internal/flagutil"
)

type config struct {
	help     bool
	parallel bool
	short    bool
	version  bool

	mode    string               // Upstream transport: do53, dot or doh
	servers flagutil.StringValue // Upstream servers - meaning depends on mode
	reverse string               // -x: reverse (PTR) lookup of this IP address

	repeatCount    int
	requestTimeout time.Duration // dot/doh per-query deadline
	timeoutUDP     time.Duration // do53 UDP-phase deadline
	timeoutTCP     time.Duration // do53 TCP-phase deadline
	blockLength    uint          // dot padding modulus
	padding        bool          // Explicitly pad do53/doh queries with RFC8467 padding

	resolvConfPath string // Source of the default do53 upstream list

	tlsClientCertFile   string
	tlsClientKeyFile    string
	tlsCAFiles          flagutil.StringValue // Non-system root CAs
	tlsUseSystemRootCAs bool                 // Do/Do not use system root CAs
}
