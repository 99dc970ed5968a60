// Package metrics exports the engine's Prometheus instrumentation
// (SPEC_FULL.md section 10). Each Engine owns a private registry
// (rather than registering onto the global prometheus.DefaultRegisterer)
// so that multiple engine instances in one process — one per MIDI
// port, say — never collide on metric names, following the pattern the
// teacher's pkg/dialog/metrics.go uses promauto for but scoped down
// from that file's SIP-dialog-specific counters to this engine's
// session/packet/sysex/latency surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the engine updates over its
// lifetime, plus the private registry they were registered against.
type Metrics struct {
	Registry *prometheus.Registry

	PacketsSent        prometheus.Counter
	PacketsReceived     prometheus.Counter
	PacketsDropped      *prometheus.CounterVec
	StateTransitions    *prometheus.CounterVec
	SysExFragmentsSent  prometheus.Counter
	SysExFragmentsRecv  prometheus.Counter
	SysExOverflows      prometheus.Counter
	LatencyMicros       prometheus.Gauge
	InviteRetries       prometheus.Counter
	KeepaliveTimeouts   prometheus.Counter
}

// New builds a fresh Metrics instance registered against its own
// private *prometheus.Registry, namespaced "rtpmidi" / subsystem
// "session".
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpmidi",
			Subsystem: "session",
			Name:      "packets_sent_total",
			Help:      "Total number of RTP-MIDI and Apple session packets sent.",
		}),
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpmidi",
			Subsystem: "session",
			Name:      "packets_received_total",
			Help:      "Total number of RTP-MIDI packets received.",
		}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtpmidi",
			Subsystem: "session",
			Name:      "packets_dropped_total",
			Help:      "Total number of received packets dropped, by reason.",
		}, []string{"reason"}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtpmidi",
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Total number of session state machine transitions.",
		}, []string{"from", "to"}),
		SysExFragmentsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpmidi",
			Subsystem: "sysex",
			Name:      "fragments_sent_total",
			Help:      "Total number of outbound SysEx fragments emitted.",
		}),
		SysExFragmentsRecv: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpmidi",
			Subsystem: "sysex",
			Name:      "fragments_received_total",
			Help:      "Total number of inbound SysEx fragments received.",
		}),
		SysExOverflows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpmidi",
			Subsystem: "sysex",
			Name:      "overflows_total",
			Help:      "Total number of inbound SysEx messages dropped for exceeding buffer capacity.",
		}),
		LatencyMicros: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtpmidi",
			Subsystem: "session",
			Name:      "latency_microseconds",
			Help:      "Most recently measured round-trip clock-sync latency, in microseconds.",
		}),
		InviteRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpmidi",
			Subsystem: "session",
			Name:      "invite_retries_total",
			Help:      "Total number of invitation retransmissions sent.",
		}),
		KeepaliveTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpmidi",
			Subsystem: "session",
			Name:      "keepalive_timeouts_total",
			Help:      "Total number of sessions closed for missing the keepalive deadline.",
		}),
	}
}

// ObserveLatency records d as the current latency gauge value.
func (m *Metrics) ObserveLatency(d time.Duration) {
	m.LatencyMicros.Set(float64(d.Microseconds()))
}
