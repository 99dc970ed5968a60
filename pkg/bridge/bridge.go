// Package bridge implements the supplemental serial-MIDI hardware
// bridge (SPEC_FULL.md section 11): a SerialBridge reads a physical
// MIDI-over-serial device byte by byte, reassembles whole messages
// with pkg/midi's running-status rules and pkg/sysex's reassembly
// state machine, and forwards them into an Engine's outbound FIFO;
// the Engine's own inbound callback is wired back to write outgoing
// messages to the same port. This mirrors original_source's JACK
// bridge concept (a trivial FIFO adapter) but targets a serial MIDI
// interface instead, grounded on go.bug.st/serial the way the
// teacher's pack uses it in facebook-time's sa53fw/mac package.
package bridge

import (
	"context"
	"io"

	"go.bug.st/serial"

	"github.com/bbouchez/jackrtpmidid/pkg/engine"
	"github.com/bbouchez/jackrtpmidid/pkg/midi"
	"github.com/bbouchez/jackrtpmidid/pkg/sysex"
)

// port is the subset of serial.Port this package needs; factored out
// so tests can substitute an in-memory io.ReadWriteCloser instead of
// opening a real device.
type port interface {
	io.ReadWriteCloser
}

// sink is the one Engine method the bridge's read side needs. Taking
// the interface rather than *engine.Engine directly lets tests forward
// into a fake and assert on what the bridge decoded, without standing
// up a whole session.
type sink interface {
	SendMIDIBlock(b []byte) bool
}

// SerialBridge couples one serial port to one Engine. Construct with
// Open (real hardware) or newBridge (tests).
type SerialBridge struct {
	port port
	eng  sink

	sysexIn *sysex.Inbound

	runningStatus     byte
	haveRunningStatus bool

	pendingStatus byte
	pendingNeed   int
	pendingData   []byte

	readBuf []byte
}

// Open opens device at the given baud rate and wires a SerialBridge to
// eng. The bridge does not take ownership of starting eng's session;
// callers are expected to have already called eng.InitiateSession.
func Open(device string, baud int, eng *engine.Engine) (*SerialBridge, error) {
	p, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	return newBridge(p, eng), nil
}

func newBridge(p port, eng sink) *SerialBridge {
	return &SerialBridge{
		port:        p,
		eng:         eng,
		sysexIn:     sysex.NewInbound(65536),
		readBuf:     make([]byte, 4096),
		pendingData: make([]byte, 0, 64),
	}
}

// Close releases the underlying serial port.
func (b *SerialBridge) Close() error {
	return b.port.Close()
}

// Callback is an engine.Callback: it writes each decoded inbound MIDI
// message's raw bytes (status + data, delta-time already stripped by
// the engine) straight to the serial port.
func (b *SerialBridge) Callback(m engine.Message) {
	_, _ = b.port.Write(m.Bytes)
}

// Run reads from the serial port until it errors, the port is closed,
// or ctx is done, decoding whole MIDI messages and forwarding each one
// to eng.SendMIDIBlock with a synthetic zero delta-time prefix (serial
// MIDI carries none). Intended to run as one goroutine of an
// errgroup.Group alongside the engine's own tick loop.
func (b *SerialBridge) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = b.port.Close()
		case <-done:
		}
	}()

	for {
		n, err := b.port.Read(b.readBuf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		for i := 0; i < n; i++ {
			b.handleByte(b.readBuf[i])
		}
	}
}

// handleByte feeds one serial byte through the same-shaped decode
// pipeline pkg/engine/decode.go uses for RTP-MIDI payloads, minus
// delta-time (the serial wire has none).
func (b *SerialBridge) handleByte(c byte) {
	if b.sysexIn.Active() {
		b.dispatchSysEx(b.sysexIn.HandleByte(c))
		return
	}

	if c < 0x80 {
		b.continueMessage(c)
		return
	}

	switch midi.Classify(c) {
	case midi.KindRealTime:
		b.forward([]byte{c})
	case midi.KindSystemCommon:
		if isSysExByte(c) {
			b.dispatchSysEx(b.sysexIn.HandleByte(c))
			return
		}
		b.startMessage(c)
	default: // channel status byte
		b.startMessage(c)
	}
}

// startMessage begins assembling a new status-led message, discarding
// any message left incomplete by the previous byte stream position
// (a malformed or interrupted transmission).
func (b *SerialBridge) startMessage(status byte) {
	n, ok := midi.MessageLen(status)
	if !ok {
		b.pendingStatus = 0
		return
	}
	if midi.ClearsRunningStatus(status) {
		b.haveRunningStatus = false
	} else if midi.Classify(status) == midi.KindChannel {
		b.runningStatus = status
		b.haveRunningStatus = true
	}
	b.pendingStatus = status
	b.pendingNeed = n - 1
	b.pendingData = b.pendingData[:0]
	if b.pendingNeed == 0 {
		b.forward([]byte{status})
		b.pendingStatus = 0
	}
}

// continueMessage handles a data byte (c < 0x80): either the next byte
// of a message already under assembly, or the opening data byte of a
// running-status message that omitted its status byte on the wire.
func (b *SerialBridge) continueMessage(c byte) {
	if b.pendingStatus == 0 {
		if !b.haveRunningStatus {
			return // no running status established yet: malformed, drop
		}
		n, ok := midi.MessageLen(b.runningStatus)
		if !ok {
			return
		}
		b.pendingStatus = b.runningStatus
		b.pendingNeed = n - 1
		b.pendingData = b.pendingData[:0]
	}

	b.pendingData = append(b.pendingData, c)
	if len(b.pendingData) >= b.pendingNeed {
		msg := make([]byte, 0, 1+len(b.pendingData))
		msg = append(msg, b.pendingStatus)
		msg = append(msg, b.pendingData...)
		b.forward(msg)
		b.pendingStatus = 0
	}
}

// dispatchSysEx handles one pkg/sysex.Event produced by feeding a byte
// to b.sysexIn. EventReprocess re-runs the offending byte through
// handleByte, now that sysexIn is no longer active.
func (b *SerialBridge) dispatchSysEx(ev sysex.Event) {
	switch ev.Kind {
	case sysex.EventEmit, sysex.EventRealtime:
		b.forward(ev.Payload)
	case sysex.EventReprocess:
		b.handleByte(ev.Payload[0])
	}
}

// forward enqueues msg (status + data, or a whole reassembled SysEx)
// onto the engine's outbound FIFO with the zero delta-time prefix
// every RTP-MIDI event needs.
func (b *SerialBridge) forward(msg []byte) {
	if b.eng == nil {
		return
	}
	block := make([]byte, 0, 1+len(msg))
	block = append(block, 0x00)
	block = append(block, msg...)
	b.eng.SendMIDIBlock(block)
}

func isSysExByte(b byte) bool {
	return b == 0xF0 || b == 0xF7 || b == 0xF4
}
