/*
Package constants provides common values used across all unidns packages. Usage is to call the
global Get() function which returns the Constants by value ensuring that any modifications made
(accidental or otherwise) will not affect other modules when they call Get().

Typical usage:

    consts := constants.Get()
    fmt.Println("I am", consts.ProxyProgramName, "based on", consts.DoHRFC)

The primary reason for making this a constructed struct rather than the more typical const () block
is so that it can be fed directly into templating packages for printing usage messages.
*/
package constants

// Constants contains the system-wide constants.
type Constants struct {
	DigProgramName   string
	ProxyProgramName string
	Version          string
	PackageName      string
	PackageURL       string
	DoHRFC           string // RFC8484
	DoTRFC           string // RFC7858

	HTTPSDefaultPort string // HTTP related constants
	AgeHeader        string

	AcceptHeader      string // Placed on every DoH request
	ContentTypeHeader string
	UserAgentHeader   string

	Rfc8484AcceptValue string

	Rfc8484Path       string
	Rfc8484QueryParam string

	DNSDefaultPort          string // DNS related constants
	DoTDefaultPort          string
	MinimumViableDNSMessage uint // MsgHdr + one Question with zero length name
	DNSTruncateThreshold    int  // A message larger than this size may be truncated unless EDNS0
	MaximumViableDNSMessage uint // RFC8484 defines an upper limit

	Rfc7830PadModulo    uint // DoT query padding block size (RFC7830/RFC8467)
	Rfc7828KeepaliveIdle uint // EDNS0 TCP Keepalive idle timeout in units of 100ms (RFC7828)

	DNSUDPTransport string // Suitable for the "net" package, but just to make sure we're
	DNSTCPTransport string // consistent across the whole package.

	DefaultQueryTimeoutSeconds int // Default per-query/per-attempt deadline for every engine
}

var readOnlyConstants *Constants

// createReadOnlyConstants creates a read-only copy of the Constants which is copied whenever a
// caller asks for the constants set. The main reason for returning a struct is so that callers can
// inspect and/or use packages that introspect - particularly text/template.
func createReadOnlyConstants() {
	readOnlyConstants = &Constants{
		DigProgramName:   "unidns-dig",
		ProxyProgramName: "unidns-proxy",
		Version:          "v0.1.0",
		PackageName:      "unidns - a unicast stub DNS resolver",
		PackageURL:       "github.com/hollowridge/unidns",
		DoHRFC:           "RFC8484",
		DoTRFC:           "RFC7858",

		HTTPSDefaultPort: "443",

		AgeHeader: "Age",

		AcceptHeader:      "Accept",
		ContentTypeHeader: "Content-Type",
		UserAgentHeader:   "User-Agent",

		Rfc8484AcceptValue: "application/dns-message",

		Rfc8484Path:       "/dns-query",
		Rfc8484QueryParam: "dns",

		DNSDefaultPort:          "53",
		DoTDefaultPort:          "853",
		MinimumViableDNSMessage: 16, // A legit binary DNS Message *cannot* be shorter than this
		DNSTruncateThreshold:    512,
		MaximumViableDNSMessage: 65535,

		Rfc7830PadModulo:     128,
		Rfc7828KeepaliveIdle: 1200, // 2 minutes, in units of 100ms per RFC7828

		DNSUDPTransport: "udp",
		DNSTCPTransport: "tcp",

		DefaultQueryTimeoutSeconds: 4,
	}
}

func init() {
	createReadOnlyConstants()
}

// Get returns a copy of the Constants struct. Return by value so internal values cannot be
// inadvertently changed by callers.
func Get() Constants {
	return *readOnlyConstants
}
