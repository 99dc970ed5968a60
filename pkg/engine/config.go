package engine

import (
	"time"

	"github.com/bbouchez/jackrtpmidid/pkg/metrics"
)

// Config configures a new Engine (spec.md section 6.2 new_engine, plus
// the ambient tunables the original source hard-codes as constants).
type Config struct {
	// SysExInSize sizes the inbound SysEx reassembly buffer.
	SysExInSize int
	// FIFOSize sizes the outbound MIDI byte ring (spec.md section 3:
	// "bounded ring (>=2048 bytes)").
	FIFOSize int
	// TickPeriod is the nominal interval between RunSession calls,
	// used only to size the 100-µs clock advance when the host passes
	// a zero elapsed duration. Real callers should always pass the
	// true elapsed time to RunSession; this is a fallback for tests.
	TickPeriod time.Duration
	// Name is the initial session name, overridable via SetSessionName.
	Name string
	// Metrics, if non-nil, receives Prometheus instrumentation for
	// this engine instance. A nil value disables metrics.
	Metrics *metrics.Metrics
}

// DefaultConfig returns the engine defaults: a 4096-byte outbound
// FIFO, a 64 KiB inbound SysEx buffer (generous relative to the
// legacy hardware's typical patch-dump sizes), and a 1 ms tick.
func DefaultConfig() Config {
	return Config{
		SysExInSize: 65536,
		FIFOSize:    4096,
		TickPeriod:  time.Millisecond,
		Name:        "",
	}
}
