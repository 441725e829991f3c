package unidns

import "github.com/hollowridge/unidns/internal/dnserr"

// Error kinds returned (possibly wrapped) by every transport engine. Callers should use errors.Is
// to test for these rather than comparing error strings.
var (
	ErrNoServers      = dnserr.ErrNoServers
	ErrUnreachable    = dnserr.ErrUnreachable
	ErrCancelled      = dnserr.ErrCancelled
	ErrProtocolFormat = dnserr.ErrProtocolFormat
	ErrNoAnswer       = dnserr.ErrNoAnswer
)

// DNSStatusError is raised when a server returns a non-success RCODE and the engine's
// ThrowOnErrorStatus option is enabled.
type DNSStatusError = dnserr.StatusError
