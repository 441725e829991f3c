// Package dnserr defines the error kinds shared by every transport engine and the root facade.
// It exists purely to break the import cycle that would otherwise result from the engines (which
// the root package imports) needing to construct the same sentinel/typed errors the root package
// exposes to callers.
package dnserr

import (
	"fmt"

	"github.com/miekg/dns"
)

// Sentinel errors. Callers use errors.Is against the root package's re-exported values.
var (
	ErrNoServers      = fmt.Errorf("unidns: no servers available")
	ErrUnreachable    = fmt.Errorf("unidns: all servers unreachable")
	ErrCancelled      = fmt.Errorf("unidns: query cancelled")
	ErrProtocolFormat = fmt.Errorf("unidns: malformed response")
	ErrNoAnswer       = fmt.Errorf("unidns: no answer records in response")
)

// StatusError is raised when a server returns a non-success RCODE and the engine's
// ThrowOnErrorStatus option is enabled.
type StatusError struct {
	Rcode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unidns: server returned status %s", dns.RcodeToString[e.Rcode])
}

// NewStatusError wraps an RCODE as an error.
func NewStatusError(rcode int) error {
	return &StatusError{Rcode: rcode}
}
