package engine

import (
	"net"
	"time"

	"github.com/bbouchez/jackrtpmidid/pkg/clock"
	"github.com/bbouchez/jackrtpmidid/pkg/transport"
	"github.com/bbouchez/jackrtpmidid/pkg/wire"
)

// keepaliveFastPeriod / keepaliveSlowPeriod / keepaliveFastStages
// implement spec.md section 4.1's Opened-state keepalive cadence: the
// first few rounds run fast to catch a dead peer quickly after the
// handshake, then settle to an infrequent steady-state ping.
const (
	keepaliveFastPeriod = 1500 * time.Millisecond
	keepaliveSlowPeriod = 10 * time.Second
	keepaliveFastStages = 5

	inviteRetryPeriod    = time.Second
	inviteFirstDataDelay = 100 * time.Millisecond
	maxInviteAttempts    = 12

	// timeOutRemoteInit is the number of missed keepalive round-trips
	// tolerated before the session is declared lost; reset to this
	// value on every CK1/CK2 received while Opened.
	timeOutRemoteInit = 4
)

func ticksFor(d time.Duration) uint32 {
	n := uint32(d / clock.Unit)
	if n == 0 {
		n = 1
	}
	return n
}

// latencyFrom converts a raw wraparound difference between two
// 100us clock stamps into a Duration (spec.md section 4.6: "now -
// TS1L for initiator; now - TS2L for listener").
func latencyFrom(now clock.Stamp, then uint32) time.Duration {
	return time.Duration(uint32(now)-then) * clock.Unit
}

// pollSocket drains every datagram currently waiting on sock (up to a
// generous per-tick cap, so one pathological burst can't starve the
// rest of RunSession), dispatching each to the engine's reactive rules
// (spec.md section 4.2/4.5).
func (e *Engine) pollSocket(sock transport.Socket) {
	if sock == nil {
		return
	}
	onCtrl := sock == e.ctrlSocket
	buf := make([]byte, 65536)
	for i := 0; i < 64; i++ {
		n, from, ok, err := sock.Recv(buf)
		if err != nil || !ok {
			return
		}
		e.handleDatagram(buf[:n], from, onCtrl)
	}
}

// handleDatagram implements spec.md section 4.2's frame classification
// and the source-IP filter: a configured (non-wildcard) remote IP
// rejects anything not from that address.
func (e *Engine) handleDatagram(data []byte, from transport.Endpoint, onCtrl bool) {
	if !e.sourceAllowed(from.IP) {
		if e.metrics != nil {
			e.metrics.PacketsDropped.WithLabelValues("source").Inc()
		}
		return
	}

	switch wire.Identify(data) {
	case wire.FrameSession:
		e.handleSessionFrame(data, from, onCtrl)
	case wire.FrameRTPMIDI:
		e.handleRTPMIDIFrame(data)
	default:
		if e.metrics != nil {
			e.metrics.PacketsDropped.WithLabelValues("unknown").Inc()
		}
	}
}

func (e *Engine) sourceAllowed(ip net.IP) bool {
	if e.remoteIP == nil || e.remoteIP.IsUnspecified() {
		return true
	}
	return e.remoteIP.Equal(ip)
}

// handleSessionFrame dispatches one Apple session-layer datagram by
// its two-letter command (spec.md section 3/4).
func (e *Engine) handleSessionFrame(data []byte, from transport.Endpoint, onCtrl bool) {
	if len(data) >= 4 {
		switch wire.Command(data[2:4]) {
		case wire.CmdInvitation:
			if p, err := wire.DecodeSessionPacket(data); err == nil {
				e.handleIN(p, from, onCtrl)
			}
			return
		case wire.CmdAccept:
			if p, err := wire.DecodeSessionPacket(data); err == nil {
				e.handleOK(p, onCtrl)
			}
			return
		case wire.CmdEnd:
			e.handleBY()
			return
		case wire.CmdSync:
			if p, err := wire.DecodeSyncPacket(data); err == nil {
				e.handleCK(p)
			}
			return
		}
	}
	if e.metrics != nil {
		e.metrics.PacketsDropped.WithLabelValues("unknown").Inc()
	}
}

// handleIN implements spec.md section 4.1's universal IN rule: reply
// OK to the sender's exact address (never the configured remote), on
// whichever socket the IN itself arrived on. A listener additionally
// learns the partner's address from it, using a data-port IN to fix
// SessionPartnerIP.
func (e *Engine) handleIN(p wire.SessionPacket, from transport.Endpoint, onCtrl bool) {
	replySock := e.dataSocket
	if onCtrl {
		replySock = e.ctrlSocket
	}
	if replySock == nil {
		return
	}

	if e.role == RoleListener {
		e.remoteToken = p.InitiatorToken
	}

	reply := wire.SessionPacket{
		Command:         wire.CmdAccept,
		ProtocolVersion: wire.ProtocolVersion,
		InitiatorToken:  p.InitiatorToken,
		SSRC:            e.ssrc,
		Name:            e.name,
	}
	buf, err := wire.EncodeSessionPacket(reply)
	if err != nil {
		return
	}
	if replySock.Send(buf, from) == nil && e.metrics != nil {
		e.metrics.PacketsSent.Inc()
	}

	if e.role != RoleListener {
		return
	}
	e.sessionPartnerIP = from.IP
	if onCtrl {
		e.sessionPartnerPort = from.Port
	} else {
		e.sessionPartnerPort = from.Port - 1
	}
}

// handleOK implements the initiator's half of the handshake (spec.md
// section 4.1 InviteControl/InviteData): OK on control advances to
// InviteData and fires the data-port invite; OK on data advances into
// the clock-sync sequence, which the initiator drives synchronously
// through ClockSync0/1 right here rather than waiting for another
// tick.
func (e *Engine) handleOK(p wire.SessionPacket, onCtrl bool) {
	if e.role != RoleInitiator {
		return
	}
	switch {
	case e.state == StateInviteControl && onCtrl:
		e.sessionPartnerIP = e.remoteIP
		e.sessionPartnerPort = e.remoteCtrlPort
		e.fire(evControlOK)
		e.inviteAttempts = 0
		e.sendIN(e.dataSocket, transport.Endpoint{IP: e.remoteIP, Port: e.remoteDataPort})
		e.inviteTimer.Arm(ticksFor(inviteFirstDataDelay))

	case e.state == StateInviteData && !onCtrl:
		e.fire(evDataOK)
		e.inviteAttempts = 0
		e.inviteTimer.Cancel()
		e.sendCK(0, uint32(e.clk.Now()), 0, 0)
		e.fire(evSync0Sent)
	}
}

// handleBY implements spec.md section 4.1 Closure's peer-initiated
// path: an initiator returns to Closed, a listener falls back to
// WaitInvite to accept a future invite.
func (e *Engine) handleBY() {
	e.peerClosed.Store(true)
	e.sessionPartnerIP = nil
	e.inviteTimer.Cancel()
	e.keepaliveTimer.Cancel()
	if e.role == RoleInitiator {
		e.fire(evPeerClosed)
	} else {
		e.fire(evPeerClosedListener)
	}
}

// handleCK implements spec.md section 4.1/4.6's three-way clock sync,
// both the initiator's explicit CK0->CK1->CK2 drive and the
// reactive rules any Opened peer applies to a fresh round trip
// (keepalive resync).
func (e *Engine) handleCK(p wire.SyncPacket) {
	switch p.Count {
	case 0:
		e.sendCK(1, p.TS1, uint32(e.clk.Now()), 0)

	case 1:
		switch e.state {
		case StateClockSync1:
			e.ts1, e.ts2 = p.TS1, p.TS2
			e.recordLatency(latencyFrom(e.clk.Now(), e.ts1))
			e.fire(evSync1Received)
			e.sendCK(2, e.ts1, e.ts2, uint32(e.clk.Now()))
			e.fire(evSync2Received)
			e.timeOutRemote = timeOutRemoteInit
		case StateOpened:
			e.sendCK(2, p.TS1, p.TS2, uint32(e.clk.Now()))
			e.timeOutRemote = timeOutRemoteInit
		}

	case 2:
		e.timeOutRemote = timeOutRemoteInit
		if e.role == RoleListener {
			e.recordLatency(latencyFrom(e.clk.Now(), p.TS2))
		}
		if e.state != StateOpened {
			e.fire(evSync2Received)
		}
	}
}

// handleRTPMIDIFrame implements spec.md section 4.5: parse the fixed
// RTP header and control word, then hand the MIDI-list bytes to the
// decoder. A payload shorter than its own declared length is
// truncated at the buffer end rather than rejected outright (spec.md
// section 7).
func (e *Engine) handleRTPMIDIFrame(data []byte) {
	header, err := wire.UnmarshalRTPMIDIHeader(data)
	if err != nil || len(data) < 12 {
		return
	}
	e.lastRTPSeq = header.SequenceNumber
	e.haveLastRTPSeq = true

	rest := data[12:]
	cw, consumed, err := wire.ParseControlWord(rest)
	if err != nil {
		return
	}
	body := rest[consumed:]
	length := cw.Len
	if length > len(body) {
		length = len(body)
	}

	if e.metrics != nil {
		e.metrics.PacketsReceived.Inc()
	}
	e.decodeRTPMIDI(body[:length], e.clk.Now(), cw.DeltaTime)
}

// runStateMachine performs the active, per-state duties RunSession
// drives every tick (spec.md section 4.1): invite retransmission in
// the two invite states, and in Opened the outbound-send gate plus
// the keepalive cadence.
func (e *Engine) runStateMachine(keepaliveFired bool) {
	switch e.state {
	case StateInviteControl:
		e.driveInvite(e.ctrlSocket, transport.Endpoint{IP: e.remoteIP, Port: e.remoteCtrlPort}, inviteRetryPeriod)

	case StateInviteData:
		// handleOK already sent the first data-port IN and armed the
		// inviteFirstDataDelay timer; every retry after it waits 1 s.
		e.driveInvite(e.dataSocket, transport.Endpoint{IP: e.remoteIP, Port: e.remoteDataPort}, inviteRetryPeriod)

	case StateOpened:
		e.sendOutboundRTPMIDI()
		if keepaliveFired {
			e.runKeepalive()
		}
	}
}

// driveInvite implements the InviteControl/InviteData retry policy:
// emit IN at period intervals, and after maxInviteAttempts unanswered
// invites loop back through RestartSession (spec.md section 4.1).
func (e *Engine) driveInvite(sock transport.Socket, dst transport.Endpoint, period time.Duration) {
	if e.inviteTimer.Armed() {
		return
	}
	if e.inviteAttempts >= maxInviteAttempts {
		e.fire(evInviteExhausted)
		e.resetSessionState()
		e.inviteTimer.Arm(ticksFor(inviteRetryPeriod))
		return
	}
	e.sendIN(sock, dst)
	e.inviteAttempts++
	e.inviteTimer.Arm(ticksFor(period))
	if e.metrics != nil {
		e.metrics.InviteRetries.Inc()
	}
}

// runKeepalive implements spec.md section 4.1's Opened-state
// keepalive: send a pending RS ack, have the initiator restart a
// fresh clock-sync round trip, and count down the missed-round-trip
// budget until the connection is declared lost.
func (e *Engine) runKeepalive() {
	if e.haveLastRTPSeq && e.lastRTPSeq != e.lastFeedbackSeq {
		e.sendRS(e.lastRTPSeq)
		e.lastFeedbackSeq = e.lastRTPSeq
	}
	if e.role == RoleInitiator {
		e.sendCK(0, uint32(e.clk.Now()), 0, 0)
	}

	e.timeOutRemote--
	if e.timeOutRemote > 0 {
		e.armKeepalive()
		return
	}

	e.connectionLost.Store(true)
	if e.metrics != nil {
		e.metrics.KeepaliveTimeouts.Inc()
	}
	if e.role == RoleInitiator {
		e.resetSessionState()
		e.fire(evKeepaliveLost)
	} else {
		e.sessionPartnerIP = nil
		e.fire(evKeepaliveLostListener)
	}
}

// armKeepalive arms the next keepalive round per spec.md section
// 4.1's cadence: keepaliveFastStages rounds at keepaliveFastPeriod,
// then keepaliveSlowPeriod forever after.
func (e *Engine) armKeepalive() {
	period := keepaliveSlowPeriod
	if e.keepaliveStage < keepaliveFastStages {
		period = keepaliveFastPeriod
	}
	e.keepaliveStage++
	e.keepaliveTimer.Arm(ticksFor(period))
}

// sendIN emits an invitation on sock to dst using this engine's own
// token (spec.md section 4.1: the initiator always identifies itself
// by the token it generated in resetSessionState).
func (e *Engine) sendIN(sock transport.Socket, dst transport.Endpoint) {
	if sock == nil || dst.IP == nil {
		return
	}
	p := wire.SessionPacket{
		Command:         wire.CmdInvitation,
		ProtocolVersion: wire.ProtocolVersion,
		InitiatorToken:  e.token,
		SSRC:            e.ssrc,
		Name:            e.name,
	}
	buf, err := wire.EncodeSessionPacket(p)
	if err != nil {
		return
	}
	if sock.Send(buf, dst) == nil && e.metrics != nil {
		e.metrics.PacketsSent.Inc()
	}
}

// sendBY emits BY to the current session partner's control port
// (spec.md section 4.1 Closure), addressing it with whichever token
// identifies this session to the peer: the initiator's own
// self-generated token, or the token a listener learned from the
// peer's IN.
func (e *Engine) sendBY() {
	if e.ctrlSocket == nil {
		return
	}
	ip := e.sessionPartnerIP
	if ip == nil {
		ip = e.remoteIP
	}
	if ip == nil {
		return
	}
	port := e.sessionPartnerPort
	if port == 0 {
		port = e.remoteCtrlPort
	}

	token := e.token
	if e.role == RoleListener {
		token = e.remoteToken
	}
	p := wire.SessionPacket{
		Command:         wire.CmdEnd,
		ProtocolVersion: wire.ProtocolVersion,
		InitiatorToken:  token,
		SSRC:            e.ssrc,
		Name:            e.name,
	}
	buf, err := wire.EncodeSessionPacket(p)
	if err != nil {
		return
	}
	if e.ctrlSocket.Send(buf, transport.Endpoint{IP: ip, Port: port}) == nil && e.metrics != nil {
		e.metrics.PacketsSent.Inc()
	}
}

// sendCK emits a CK packet of the given round (0/1/2) to the current
// session partner's control port.
func (e *Engine) sendCK(count uint8, ts1, ts2, ts3 uint32) {
	if e.ctrlSocket == nil {
		return
	}
	ip := e.sessionPartnerIP
	if ip == nil {
		ip = e.remoteIP
	}
	if ip == nil {
		return
	}
	port := e.sessionPartnerPort
	if port == 0 {
		port = e.remoteCtrlPort
	}
	buf := wire.EncodeSyncPacket(wire.SyncPacket{SSRC: e.ssrc, Count: count, TS1: ts1, TS2: ts2, TS3: ts3})
	if e.ctrlSocket.Send(buf, transport.Endpoint{IP: ip, Port: port}) == nil && e.metrics != nil {
		e.metrics.PacketsSent.Inc()
	}
}

// sendRS emits a receiver-feedback (RS) packet acknowledging seq
// (spec.md section 4.1/4.4).
func (e *Engine) sendRS(seq uint16) {
	if e.ctrlSocket == nil {
		return
	}
	ip := e.sessionPartnerIP
	if ip == nil {
		ip = e.remoteIP
	}
	if ip == nil {
		return
	}
	port := e.sessionPartnerPort
	if port == 0 {
		port = e.remoteCtrlPort
	}
	buf := wire.EncodeFeedbackPacket(wire.FeedbackPacket{SSRC: e.ssrc, SequenceNumber: seq})
	if e.ctrlSocket.Send(buf, transport.Endpoint{IP: ip, Port: port}) == nil && e.metrics != nil {
		e.metrics.PacketsSent.Inc()
	}
}

// recordLatency updates the single most-recent-sample reading
// (spec.md section 4.6) and the running Welford accumulator
// (SPEC_FULL.md's ambient-stack addition).
func (e *Engine) recordLatency(d time.Duration) {
	e.latency = d
	e.latencyKnown = true
	e.latencyStats.Add(float64(d))
	if e.metrics != nil {
		e.metrics.ObserveLatency(d)
	}
}
