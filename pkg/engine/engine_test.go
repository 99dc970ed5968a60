package engine

import (
	"net"
	"testing"
	"time"

	"github.com/bbouchez/jackrtpmidid/pkg/transport"
	"github.com/bbouchez/jackrtpmidid/pkg/wire"
)

// pair wires two freshly-constructed engines together over in-memory
// sockets so a full handshake can run without touching real UDP.
type pair struct {
	initiator *Engine
	listener  *Engine
}

func newPair(t *testing.T) *pair {
	t.Helper()

	var gotInit, gotList []Message
	init, err := NewEngine(DefaultConfig(), func(m Message) { gotInit = append(gotInit, m) })
	if err != nil {
		t.Fatal(err)
	}
	list, err := NewEngine(DefaultConfig(), func(m Message) { gotList = append(gotList, m) })
	if err != nil {
		t.Fatal(err)
	}

	ctrlA := transport.NewMemorySocket(5004)
	dataA := transport.NewMemorySocket(5005)
	ctrlB := transport.NewMemorySocket(6004)
	dataB := transport.NewMemorySocket(6005)
	transport.Pipe(ctrlA, ctrlB)
	transport.Pipe(dataA, dataB)

	init.setSockets(ctrlA, dataA, Endpoint{IP: net.IPv4(127, 0, 0, 1), Port: 6004}, RoleInitiator)
	list.setSockets(ctrlB, dataB, Endpoint{Port: 5004}, RoleListener)

	return &pair{initiator: init, listener: list}
}

// run advances both engines n ticks, interleaved so packets sent on
// one tick are visible to the other side's very next poll.
func (p *pair) run(n int) {
	for i := 0; i < n; i++ {
		p.initiator.RunSession(time.Millisecond)
		p.listener.RunSession(time.Millisecond)
	}
}

func TestHandshakeReachesOpenedBothSides(t *testing.T) {
	p := newPair(t)
	p.run(20)

	if got := p.initiator.SessionStatus(); got != StatusOpened {
		t.Fatalf("initiator status = %v, want Opened", got)
	}
	if got := p.listener.SessionStatus(); got != StatusOpened {
		t.Fatalf("listener status = %v, want Opened", got)
	}
	if _, ok := p.initiator.Latency(); !ok {
		t.Error("initiator latency not known after handshake")
	}
	if _, ok := p.listener.Latency(); !ok {
		t.Error("listener latency not known after handshake")
	}
}

func TestMIDIBlockDeliveredAcrossSession(t *testing.T) {
	p := newPair(t)
	p.run(20)

	var got []Message
	p.listener.callback = func(m Message) { got = append(got, m) }

	if !p.initiator.SendMIDIBlock([]byte{0x00, 0x90, 0x40, 0x7F}) {
		t.Fatal("SendMIDIBlock rejected a small block")
	}
	p.run(2)

	if len(got) != 1 {
		t.Fatalf("listener received %d messages, want 1", len(got))
	}
	want := []byte{0x90, 0x40, 0x7F}
	if string(got[0].Bytes) != string(want) {
		t.Fatalf("got %v, want %v", got[0].Bytes, want)
	}
}

func TestRunningStatusAcrossTwoMessages(t *testing.T) {
	p := newPair(t)
	p.run(20)

	var got []Message
	p.listener.callback = func(m Message) { got = append(got, m) }

	// Note-on, then a second note sharing running status (no repeated
	// status byte), both in one block (spec.md section 4.5).
	block := []byte{0x00, 0x90, 0x40, 0x7F, 0x00, 0x41, 0x7F}
	if !p.initiator.SendMIDIBlock(block) {
		t.Fatal("SendMIDIBlock failed")
	}
	p.run(2)

	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if string(got[1].Bytes) != string([]byte{0x90, 0x41, 0x7F}) {
		t.Fatalf("second message = %v, want running-status note-on", got[1].Bytes)
	}
}

func TestCloseSessionNotifiesListener(t *testing.T) {
	p := newPair(t)
	p.run(20)

	p.initiator.CloseSession()
	p.run(2)

	if got := p.initiator.SessionStatus(); got != StatusClosed {
		t.Fatalf("initiator status = %v, want Closed", got)
	}
	if !p.listener.ReadAndResetPeerClosed() {
		t.Fatal("listener did not observe peer_closed after initiator BY")
	}
	if got := p.listener.SessionStatus(); got != StatusInviting {
		t.Fatalf("listener status = %v, want Inviting (wait_invite)", got)
	}
	// Edge-triggered: a second read without a new BY must be false.
	if p.listener.ReadAndResetPeerClosed() {
		t.Fatal("peer_closed flag should have been consumed")
	}
}

func TestCloseSessionIsIdempotent(t *testing.T) {
	p := newPair(t)
	p.run(20)
	p.initiator.CloseSession()
	p.run(2)
	p.initiator.CloseSession() // must be a no-op, not a second BY send/panic
	if got := p.initiator.SessionStatus(); got != StatusClosed {
		t.Fatalf("status after second CloseSession = %v, want Closed", got)
	}
}

func TestRestartSessionRejectedForListener(t *testing.T) {
	p := newPair(t)
	if err := p.listener.RestartSession(); err != ErrNotInitiator {
		t.Fatalf("err = %v, want ErrNotInitiator", err)
	}
}

func TestRestartSessionFromOpenedReentersInviteControl(t *testing.T) {
	p := newPair(t)
	p.run(20)
	if got := p.initiator.SessionStatus(); got != StatusOpened {
		t.Fatalf("initiator status = %v, want Opened before restart", got)
	}

	if err := p.initiator.RestartSession(); err != nil {
		t.Fatalf("RestartSession from Opened: %v", err)
	}
	if got := p.initiator.state; got != StateInviteControl {
		t.Fatalf("state after RestartSession from Opened = %q, want %q (not silently swallowed)", got, StateInviteControl)
	}
	if got := p.initiator.SessionStatus(); got != StatusInviting {
		t.Fatalf("status after RestartSession from Opened = %v, want Inviting", got)
	}
}

func TestInboundFrameWithZBitClearHasNoDeltaTime(t *testing.T) {
	p := newPair(t)
	p.run(20)

	var got []Message
	p.listener.callback = func(m Message) { got = append(got, m) }

	list := []byte{0x90, 0x40, 0x7F, 0x41, 0x7F} // note-on, running-status note-on; no delta bytes
	header, err := wire.RTPMIDIHeader{SequenceNumber: 1, Timestamp: 0, SSRC: 0x1234}.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	buf := append([]byte{}, header...)
	buf = wire.AppendControlWord(buf, wire.ControlWord{DeltaTime: false, Len: len(list)})
	buf = append(buf, list...)

	p.listener.handleRTPMIDIFrame(buf)

	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2 (Z=0 list must parse as a bare event sequence)", len(got))
	}
	if string(got[0].Bytes) != string([]byte{0x90, 0x40, 0x7F}) {
		t.Fatalf("first message = %v, want note-on", got[0].Bytes)
	}
	if string(got[1].Bytes) != string([]byte{0x90, 0x41, 0x7F}) {
		t.Fatalf("second message = %v, want running-status note-on", got[1].Bytes)
	}
}

func TestSysExFragmentationAcrossPackets(t *testing.T) {
	p := newPair(t)
	p.run(20)

	var got []Message
	p.listener.callback = func(m Message) { got = append(got, m) }

	msg := make([]byte, 1024)
	msg[0] = 0xF0
	for i := 1; i < len(msg)-1; i++ {
		msg[i] = byte(i % 100)
	}
	msg[len(msg)-1] = 0xF7

	if err := p.initiator.sysexOut.Submit(msg); err != nil {
		t.Fatal(err)
	}
	// Two fragments, each behind a 131ms cooldown after the first.
	p.run(5)
	p.run(150) // let the inter-fragment cooldown elapse (131ms @ 1ms/tick)

	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1 reassembled SysEx", len(got))
	}
	if string(got[0].Bytes) != string(msg) {
		t.Fatalf("reassembled SysEx mismatch: got %d bytes, want %d", len(got[0].Bytes), len(msg))
	}
}
