package engine

import (
	"github.com/bbouchez/jackrtpmidid/pkg/clock"
	"github.com/bbouchez/jackrtpmidid/pkg/midi"
	"github.com/bbouchez/jackrtpmidid/pkg/sysex"
)

// decodeRTPMIDI walks one RTP-MIDI payload's MIDI-list section (the
// bytes after the control word) per spec.md section 4.5, emitting one
// Message to e.callback per complete MIDI message (including whole
// reassembled SysEx). now is the local clock reading used as the
// event_time base; each event's EventTime is now plus the accumulated
// delta-time seen so far in this packet, in clock.Unit ticks.
// hasDeltaTime is the control word's Z bit: when false, the list is a
// bare sequence of events with no delta-time bytes at all, and every
// event's EventTime is simply now.
func (e *Engine) decodeRTPMIDI(list []byte, now clock.Stamp, hasDeltaTime bool) {
	pos := 0
	var accumulated uint32

	for pos < len(list) {
		if e.sysexIn.Active() {
			b := list[pos]
			pos++
			pos = e.handleSysExEvent(e.sysexIn.HandleByte(b), list, pos, now+clock.Stamp(accumulated))
			continue
		}

		if hasDeltaTime {
			delta, n := midi.DecodeDeltaTime(list[pos:])
			pos += n
			accumulated += delta
			if pos >= len(list) {
				break // truncated: no room for the event this delta announced
			}
		}

		b := list[pos]
		pos++
		pos = e.dispatchEvent(b, list, pos, now+clock.Stamp(accumulated))
	}
}

// dispatchEvent handles one MIDI event starting at byte b (already
// consumed from list at index pos-1), consuming any further bytes the
// event requires from list[pos:], and returns the new pos.
func (e *Engine) dispatchEvent(b byte, list []byte, pos int, eventTime clock.Stamp) int {
	if b < 0x80 {
		return e.dispatchRunningStatusData(b, list, pos, eventTime)
	}

	switch midi.Classify(b) {
	case midi.KindRealTime:
		e.emit([]byte{b}, eventTime)
		return pos

	case midi.KindSystemCommon:
		if isSysExByte(b) {
			return e.handleSysExEvent(e.sysexIn.HandleByte(b), list, pos, eventTime)
		}
		n, ok := midi.MessageLen(b)
		if !ok {
			return pos // undefined system-common byte: drop
		}
		dataLen := n - 1
		if pos+dataLen > len(list) {
			return len(list) // truncate at buffer end, per spec.md section 7
		}
		msg := make([]byte, 0, n)
		msg = append(msg, b)
		msg = append(msg, list[pos:pos+dataLen]...)
		pos += dataLen
		if midi.ClearsRunningStatus(b) {
			e.haveRunningStatus = false
		}
		e.emit(msg, eventTime)
		return pos

	default: // KindChannel
		n, _ := midi.MessageLen(b)
		dataLen := n - 1
		if pos+dataLen > len(list) {
			return len(list)
		}
		msg := make([]byte, 0, n)
		msg = append(msg, b)
		msg = append(msg, list[pos:pos+dataLen]...)
		pos += dataLen
		e.runningStatus = b
		e.haveRunningStatus = true
		e.emit(msg, eventTime)
		return pos
	}
}

// dispatchRunningStatusData handles a data byte (b < 0x80) that opens
// a running-status event: the status byte itself was omitted from the
// wire and is taken from e.runningStatus.
func (e *Engine) dispatchRunningStatusData(b byte, list []byte, pos int, eventTime clock.Stamp) int {
	if !e.haveRunningStatus {
		return pos // no running status established yet: malformed, drop
	}
	n, ok := midi.MessageLen(e.runningStatus)
	if !ok {
		return pos
	}
	dataLen := n - 2 // status + b already account for 2 of the n bytes
	if dataLen < 0 {
		dataLen = 0
	}
	if pos+dataLen > len(list) {
		return len(list)
	}
	msg := make([]byte, 0, n)
	msg = append(msg, e.runningStatus, b)
	msg = append(msg, list[pos:pos+dataLen]...)
	pos += dataLen
	e.emit(msg, eventTime)
	return pos
}

// isSysExByte reports whether b is one of the bytes the SysEx
// reassembly state machine owns (0xF0 start/end-of-fragment, 0xF7
// terminator/continuation-start, 0xF4 cancel).
func isSysExByte(b byte) bool {
	return b == 0xF0 || b == 0xF7 || b == 0xF4
}

// handleSysExEvent dispatches one pkg/sysex.Event produced by feeding
// a byte to e.sysexIn, and returns the list position to resume
// scanning from. On EventReprocess, the offending byte is re-run
// through dispatchEvent at the current position so its trailing data
// bytes (if any) are still read from the right place in list.
func (e *Engine) handleSysExEvent(ev sysex.Event, list []byte, pos int, eventTime clock.Stamp) int {
	switch ev.Kind {
	case sysex.EventEmit:
		if e.metrics != nil {
			e.metrics.SysExFragmentsRecv.Inc()
		}
		e.emit(ev.Payload, eventTime)
	case sysex.EventRealtime:
		e.emit(ev.Payload, eventTime)
	case sysex.EventReprocess:
		return e.dispatchEvent(ev.Payload[0], list, pos, eventTime)
	case sysex.EventOverflow:
		if e.metrics != nil {
			e.metrics.SysExOverflows.Inc()
		}
	}
	return pos
}

// emit invokes the host callback, if one was registered.
func (e *Engine) emit(b []byte, eventTime clock.Stamp) {
	if e.callback == nil {
		return
	}
	e.callback(Message{Bytes: b, EventTime: eventTime})
}
