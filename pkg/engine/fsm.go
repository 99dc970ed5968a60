package engine

import (
	"context"

	"github.com/looplab/fsm"
)

// Session states, spec.md section 4.1. Kept as the exact string set
// fsm.FSM tracks internally; Engine.state mirrors fsm.Current() after
// every transition so hot-path reads don't need a map lookup.
const (
	StateClosed        = "closed"
	StateInviteControl = "invite_control"
	StateInviteData    = "invite_data"
	StateWaitInvite    = "wait_invite"
	StateClockSync0    = "clock_sync0"
	StateClockSync1    = "clock_sync1"
	StateClockSync2    = "clock_sync2"
	StateOpened        = "opened"
)

const (
	evStart                 = "start"
	evRestart               = "restart" // initiator: RestartSession, callable from any state, Closed included
	evListen                = "listen"
	evControlOK             = "control_ok"
	evDataOK                = "data_ok"
	evSync0Sent             = "sync0_sent"
	evSync1Received         = "sync1_received"
	evSync2Received         = "sync2_received"
	evInviteExhausted       = "invite_exhausted"
	evPeerClosed            = "peer_closed"          // initiator: BY received -> Closed
	evPeerClosedListener    = "peer_closed_listener" // listener: BY received -> WaitInvite
	evKeepaliveLost         = "keepalive_lost"          // initiator: restart
	evKeepaliveLostListener = "keepalive_lost_listener" // listener: wait for a fresh invite
	evClosed                = "closed"
)

// newSessionFSM builds the looplab/fsm table for spec.md's session
// state machine, grounded on the teacher's pkg/dialog/refer_fsm.go
// pattern of a flat Events table plus an after_event logging callback
// (here via the engine's own onTransition). initial is StateClosed
// for a fresh engine.
func newSessionFSM(e *Engine) *fsm.FSM {
	return fsm.NewFSM(
		StateClosed,
		fsm.Events{
			{Name: evStart, Src: []string{StateClosed}, Dst: StateInviteControl},
			{Name: evRestart, Src: []string{
				StateClosed, StateInviteControl, StateInviteData, StateWaitInvite,
				StateClockSync0, StateClockSync1, StateClockSync2, StateOpened,
			}, Dst: StateInviteControl},
			{Name: evListen, Src: []string{StateClosed}, Dst: StateWaitInvite},

			{Name: evControlOK, Src: []string{StateInviteControl}, Dst: StateInviteData},
			{Name: evDataOK, Src: []string{StateInviteData}, Dst: StateClockSync0},
			{Name: evSync0Sent, Src: []string{StateClockSync0}, Dst: StateClockSync1},
			{Name: evSync1Received, Src: []string{StateClockSync1}, Dst: StateClockSync2},
			{Name: evSync2Received, Src: []string{StateClockSync2, StateWaitInvite}, Dst: StateOpened},

			{Name: evInviteExhausted, Src: []string{StateInviteControl, StateInviteData}, Dst: StateInviteControl},

			{Name: evKeepaliveLost, Src: []string{StateOpened}, Dst: StateInviteControl},
			{Name: evKeepaliveLostListener, Src: []string{StateOpened}, Dst: StateWaitInvite},
			{Name: evPeerClosed, Src: []string{StateOpened, StateInviteControl, StateInviteData, StateClockSync0, StateClockSync1, StateClockSync2}, Dst: StateClosed},
			{Name: evPeerClosedListener, Src: []string{StateOpened, StateWaitInvite, StateClockSync0, StateClockSync1, StateClockSync2}, Dst: StateWaitInvite},
			{Name: evClosed, Src: []string{
				StateClosed, StateInviteControl, StateInviteData, StateWaitInvite,
				StateClockSync0, StateClockSync1, StateClockSync2, StateOpened,
			}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, ev *fsm.Event) {
				e.onTransition(ev.Src, ev.Dst)
			},
		},
	)
}

// onTransition records the state-transition metric and, on entering
// Opened, resets the keepalive schedule and arms its first round. The
// cached Engine.state the public API reads is refreshed by fire.
func (e *Engine) onTransition(from, to string) {
	if e.metrics != nil {
		e.metrics.StateTransitions.WithLabelValues(from, to).Inc()
	}
	if to == StateOpened {
		e.keepaliveStage = 0
		e.sinceOpen = 0
		e.timeOutRemote = timeOutRemoteInit
		e.armKeepalive()
	}
}

// fire is a small wrapper around fsm.Event that discards the "no
// transition defined" error: an event with no transition from the
// current state (for example a BY or CK2 arriving in a state that has
// no use for it) leaves the state unchanged.
func (e *Engine) fire(event string) {
	_ = e.fsm.Event(context.Background(), event)
	e.state = e.fsm.Current()
}
