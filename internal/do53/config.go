package do53

import (
	"time"

	"github.com/hollowridge/unidns/internal/serverregistry"
)

// Config is passed to New.
//
// TimeoutUDP/TimeoutTCP/ThrowOnErrorStatus each default to a non-zero-value default (4s, 4s, true
// respectively) but Go's zero value for a bare field would be 0/0/false, which would silently
// invert those defaults for any caller constructing a plain Config{}. Pointers distinguish "not
// set, use the documented default" (nil) from an explicit, possibly zero, value - notably
// TimeoutUDP=0 is itself a meaningful boundary condition (it forces every UDP attempt to time out
// immediately, relying entirely on TCP fallback) and must be distinguishable from "unset". Use the
// package-level Duration/Bool helpers to construct these inline.
type Config struct {
	ResolvConfPath string                    // Source of the OS default server list, default /etc/resolv.conf
	Servers        []serverregistry.Endpoint // Total override of the resolv.conf-derived default list

	TimeoutUDP *time.Duration // Default 4s
	TimeoutTCP *time.Duration // Default 4s

	ThrowOnErrorStatus *bool // Default true
}

const defaultTimeout = 4 * time.Second

// Duration returns a pointer to d, for use in Config.TimeoutUDP/TimeoutTCP.
func Duration(d time.Duration) *time.Duration { return &d }

// Bool returns a pointer to b, for use in Config.ThrowOnErrorStatus.
func Bool(b bool) *bool { return &b }

func (c Config) throwOnErrorStatus() bool {
	if c.ThrowOnErrorStatus == nil {
		return true
	}
	return *c.ThrowOnErrorStatus
}

func (c Config) timeoutUDP() time.Duration {
	if c.TimeoutUDP == nil {
		return defaultTimeout
	}
	return *c.TimeoutUDP
}

func (c Config) timeoutTCP() time.Duration {
	if c.TimeoutTCP == nil {
		return defaultTimeout
	}
	return *c.TimeoutTCP
}
