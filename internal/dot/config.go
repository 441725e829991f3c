package dot

import (
	"time"

	"github.com/hollowridge/unidns/internal/bestserver"
	"github.com/hollowridge/unidns/internal/serverregistry"
)

// Config is passed to New. See do53.Config for why the defaultable fields are pointers.
type Config struct {
	Servers []serverregistry.Endpoint // Total override of the built-in DoT server list

	Timeout *time.Duration // Per-query deadline, default 4s

	BlockLength uint // EDNS0 padding modulus, default 128. 0 means "use default", not "no padding".

	ThrowOnErrorStatus *bool // Default true

	UseSystemCAs bool
	OtherCAFiles []string

	Latency bestserver.LatencyConfig // Zero value means bestserver.DefaultLatencyConfig
}

const defaultTimeout = 4 * time.Second
const defaultBlockLength = 128

func Duration(d time.Duration) *time.Duration { return &d }
func Bool(b bool) *bool                       { return &b }

func (c Config) timeout() time.Duration {
	if c.Timeout == nil {
		return defaultTimeout
	}
	return *c.Timeout
}

func (c Config) blockLength() uint {
	if c.BlockLength == 0 {
		return defaultBlockLength
	}
	return c.BlockLength
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
