package dnsutil

import "github.com/miekg/dns"

// EnsureKeepalive adds an EDNS0 TCP Keepalive option (RFC7828) to msg's OPT record, creating the
// OPT if necessary. idle is expressed in units of 100ms, matching the wire format of the option. A
// pre-existing keepalive option is replaced rather than duplicated.
func EnsureKeepalive(msg *dns.Msg, idle uint16) {
	RemoveEDNS0FromOPT(msg, dns.EDNS0TCPKEEPALIVE)

	optRR := FindOPT(msg)
	if optRR == nil {
		optRR = NewOPT()
		msg.Extra = append(msg.Extra, optRR)
	}

	optRR.Option = append(optRR.Option, &dns.EDNS0_TCP_KEEPALIVE{
		Code:    dns.EDNS0TCPKEEPALIVE,
		Timeout: idle,
	})
}
