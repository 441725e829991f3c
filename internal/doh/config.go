package doh

import (
	"time"

	"github.com/hollowridge/unidns/internal/bestserver"
	"github.com/hollowridge/unidns/internal/serverregistry"
)

// Config is passed to New. See do53.Config for why the defaultable fields are pointers.
type Config struct {
	Servers []serverregistry.Endpoint // Total override of the built-in DoH server URL

	Timeout *time.Duration // Per-query deadline, default 4s

	ThrowOnErrorStatus *bool // Default true

	// TLS settings for the HTTPS transport. Client cert/key are presented to servers that ask
	// for mutual TLS; most public DoH servers don't.
	UseSystemCAs    bool
	OtherCAFiles    []string
	ClientCertFile  string
	ClientKeyFile   string
	MaxConnsPerHost int

	Latency bestserver.LatencyConfig // Zero value means bestserver.DefaultLatencyConfig
}

const defaultTimeout = 4 * time.Second

func Duration(d time.Duration) *time.Duration { return &d }
func Bool(b bool) *bool                       { return &b }

func (c Config) timeout() time.Duration {
	if c.Timeout == nil {
		return defaultTimeout
	}
	return *c.Timeout
}

func (c Config) throwOnErrorStatus() bool {
	if c.ThrowOnErrorStatus == nil {
		return true
	}
	return *c.ThrowOnErrorStatus
}

func (c Config) latencyConfig() bestserver.LatencyConfig {
	if c.Latency == (bestserver.LatencyConfig{}) {
		return bestserver.DefaultLatencyConfig
	}
	return c.Latency
}
