// Package engine implements the RTP-MIDI session engine (spec.md
// sections 2-8): the Apple session state machine, the per-tick
// outbound RTP-MIDI construction, and the inbound decode dispatch,
// built on pkg/wire, pkg/midi, pkg/sysex, pkg/fifo, pkg/clock and
// pkg/transport.
package engine

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/eclesh/welford"
	"github.com/looplab/fsm"
	"github.com/rs/xid"

	"github.com/bbouchez/jackrtpmidid/pkg/clock"
	"github.com/bbouchez/jackrtpmidid/pkg/fifo"
	"github.com/bbouchez/jackrtpmidid/pkg/metrics"
	"github.com/bbouchez/jackrtpmidid/pkg/sysex"
	"github.com/bbouchez/jackrtpmidid/pkg/transport"
)

// Engine is a single-partner RTP-MIDI session endpoint (spec.md
// section 3: "Engine instance"). Construct with NewEngine; the zero
// value is not usable.
type Engine struct {
	id       xid.ID
	cfg      Config
	callback Callback
	metrics  *metrics.Metrics

	fsm   *fsm.FSM
	state string
	role  Role

	remoteIP       net.IP
	remoteCtrlPort int
	remoteDataPort int

	sessionPartnerIP   net.IP
	sessionPartnerPort int // control port to address BY/OK replies to

	ctrlSocket transport.Socket
	dataSocket transport.Socket

	name string

	ssrc        uint32
	token       uint32
	remoteToken uint32
	seq         uint16

	clk            clock.Clock
	inviteTimer    clock.Timer
	keepaliveTimer clock.Timer

	inviteAttempts int

	ts1 uint32
	ts2 uint32

	timeOutRemote  int
	keepaliveStage int
	sinceOpen      int

	lastRTPSeq      uint16
	haveLastRTPSeq  bool
	lastFeedbackSeq uint16

	latency      time.Duration
	latencyKnown bool
	latencyStats *welford.Stats

	connectionLost atomic.Bool
	peerClosed     atomic.Bool

	fifo     *fifo.FIFO
	sysexOut sysex.Outbound
	sysexIn  *sysex.Inbound

	runningStatus     byte
	haveRunningStatus bool
}

// NewEngine constructs an Engine in the Closed state (spec.md section
// 6.2: new_engine). cb may be nil if the host doesn't care about
// inbound MIDI (unusual, but not an error).
func NewEngine(cfg Config, cb Callback) (*Engine, error) {
	if cfg.SysExInSize <= 0 {
		cfg = DefaultConfig()
	}
	e := &Engine{
		id:           xid.New(),
		cfg:          cfg,
		callback:     cb,
		metrics:      cfg.Metrics,
		name:         cfg.Name,
		fifo:         fifo.New(cfg.FIFOSize),
		sysexIn:      sysex.NewInbound(cfg.SysExInSize),
		latencyStats: welford.New(),
	}
	e.fsm = newSessionFSM(e)
	e.state = e.fsm.Current()
	return e, nil
}

// ID returns the engine instance's unique identifier, useful for
// correlating log lines and metrics across multiple engines in one
// process.
func (e *Engine) ID() string {
	return e.id.String()
}

// SetSessionName records name (truncated to 63 bytes on the wire) for
// use in outbound IN packets (spec.md section 6.2).
func (e *Engine) SetSessionName(name string) error {
	e.name = name
	return nil
}

// InitiateSession opens the engine's two UDP sockets and begins the
// handshake (spec.md section 4.1). localCtrlPort==0 lets the OS pick
// an ephemeral port; localDataPort is then forced to localCtrlPort+1
// by convention, matching the wire default ctrl=5004/data=5005
// spacing.
func (e *Engine) InitiateSession(remote Endpoint, localCtrlPort, localDataPort int, role Role) error {
	ctrlSocket, err := transport.NewUDPSocket(localCtrlPort)
	if err != nil {
		return ErrControlBindFailed
	}
	if localCtrlPort == 0 {
		localDataPort = ctrlSocket.LocalPort() + 1
	}
	dataSocket, err := transport.NewUDPSocket(localDataPort)
	if err != nil {
		ctrlSocket.Close()
		return ErrDataBindFailed
	}

	e.setSockets(ctrlSocket, dataSocket, remote, role)
	return nil
}

// setSockets wires already-constructed sockets in (split out so tests
// can inject in-memory transport.Socket pairs without touching real
// UDP).
func (e *Engine) setSockets(ctrlSocket, dataSocket transport.Socket, remote Endpoint, role Role) {
	e.ctrlSocket = ctrlSocket
	e.dataSocket = dataSocket
	e.remoteIP = remote.IP
	e.remoteCtrlPort = remote.Port
	e.remoteDataPort = remote.Port + 1
	e.role = role

	e.resetSessionState()

	if role == RoleInitiator {
		e.fire(evStart)
	} else {
		e.fire(evListen)
	}
}

// resetSessionState randomizes SSRC/Token and resets the per-session
// counters (spec.md section 4.1: "randomizes SSRC and Token, resets
// sequence counters").
func (e *Engine) resetSessionState() {
	e.ssrc = randomUint32()
	e.token = randomUint32()
	e.seq = 0
	e.inviteAttempts = 0
	e.haveLastRTPSeq = false
	e.lastFeedbackSeq = 0
	e.latencyKnown = false
	e.inviteTimer.Cancel()
	e.keepaliveTimer.Cancel()
}

// RunSession advances the engine by one tick (spec.md section 2: "a
// periodic tick, nominally every 1 ms"). elapsed is the wall time
// since the previous call; elapsed==0 falls back to cfg.TickPeriod so
// tests can call RunSession without tracking real time.
func (e *Engine) RunSession(elapsed time.Duration) {
	if elapsed <= 0 {
		elapsed = e.cfg.TickPeriod
	}
	ticks := uint32(elapsed / clock.Unit)
	if ticks == 0 {
		ticks = 1
	}
	e.clk.Advance(elapsed)
	e.inviteTimer.Tick(ticks)
	keepaliveFired := e.keepaliveTimer.Tick(ticks)
	e.sysexOut.Tick(ticks)

	e.pollSocket(e.ctrlSocket)
	e.pollSocket(e.dataSocket)

	e.runStateMachine(keepaliveFired)
}

// SendMIDIBlock enqueues b onto the outbound FIFO, atomically
// (spec.md section 6.2: send_midi_block).
func (e *Engine) SendMIDIBlock(b []byte) bool {
	return e.fifo.Push(b)
}

// CloseSession sends BY to the partner, blocks 50 ms to let it go out,
// and transitions to Closed (spec.md section 4.1 "Closure"). Idempotent:
// a no-op when already Closed (spec.md section 8: "close_session()
// called on an already-Closed engine is a no-op").
func (e *Engine) CloseSession() {
	if e.state == StateClosed {
		return
	}
	e.sendBY()
	time.Sleep(50 * time.Millisecond)
	e.fire(evClosed)
}

// SessionStatus reports the coarse status spec.md section 6.2 names.
func (e *Engine) SessionStatus() Status {
	switch e.state {
	case StateClosed:
		return StatusClosed
	case StateInviteControl, StateInviteData, StateWaitInvite:
		return StatusInviting
	case StateClockSync0, StateClockSync1, StateClockSync2:
		return StatusSyncing
	case StateOpened:
		return StatusOpened
	default:
		return StatusClosed
	}
}

// Latency returns the most recently measured one-way latency. ok is
// false before the first successful clock-sync round-trip and whenever
// the session is not Opened (spec.md section 6.2: "U32_MAX if session
// not Opened").
func (e *Engine) Latency() (time.Duration, bool) {
	return e.latency, e.latencyKnown && e.state == StateOpened
}

// LatencyStats reports the running mean and standard deviation of
// every measured latency sample this session has observed so far,
// computed with a numerically stable single-pass Welford accumulator
// (SPEC_FULL.md section 10 ambient-stack expansion; the base protocol
// only tracks the single most recent sample).
func (e *Engine) LatencyStats() (mean, stddev time.Duration, ok bool) {
	if e.latencyStats.Count() == 0 {
		return 0, 0, false
	}
	return time.Duration(e.latencyStats.Mean()), time.Duration(e.latencyStats.Stddev()), true
}

// RestartSession re-enters InviteControl (spec.md section 6.2:
// "initiator only").
func (e *Engine) RestartSession() error {
	if e.role != RoleInitiator {
		return ErrNotInitiator
	}
	e.resetSessionState()
	e.fire(evRestart)
	return nil
}

// ReadAndResetConnectionLost consumes the edge-triggered
// connection-lost flag (spec.md section 6.2).
func (e *Engine) ReadAndResetConnectionLost() bool {
	return e.connectionLost.Swap(false)
}

// ReadAndResetPeerClosed consumes the edge-triggered peer-closed flag.
func (e *Engine) ReadAndResetPeerClosed() bool {
	return e.peerClosed.Swap(false)
}

// randomUint32 is grounded on the teacher's use of crypto-free
// randomness for protocol-level, non-secret identifiers (SSRC/session
// tokens need only be unlikely to collide, not unpredictable); see
// DESIGN.md for why math/rand/v2 was chosen over crypto/rand here.
func randomUint32() uint32 {
	return randSource.Uint32()
}
