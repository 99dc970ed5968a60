package engine

import (
	"github.com/bbouchez/jackrtpmidid/pkg/transport"
	"github.com/bbouchez/jackrtpmidid/pkg/wire"
)

// maxRTPLoad is MAX_RTP_LOAD; the MIDI list drained from the FIFO into
// one outbound RTP-MIDI payload is bounded by maxRTPLoad-2 (spec.md
// section 4.3: "MAX_RTP_LOAD - 2").
const maxRTPLoad = 1024

// sendOutboundRTPMIDI implements spec.md section 4.3/4.4: served with
// priority, a pending SysEx fragment; with no SysEx pending, drains
// whole MIDI bytes from the outbound FIFO. While a SysEx message is
// pending but its inter-fragment cooldown runs, the FIFO is not drained
// and nothing is sent. Emits nothing if no non-empty list was produced.
// Returns true if a packet was sent.
func (e *Engine) sendOutboundRTPMIDI() bool {
	var list []byte

	if e.sysexOut.Pending() && e.sysexOut.Ready() {
		list = e.sysexOut.NextFragment()
		if e.metrics != nil {
			e.metrics.SysExFragmentsSent.Inc()
		}
	} else if !e.sysexOut.Pending() {
		list = e.fifo.Drain(maxRTPLoad - 2)
	}

	if len(list) == 0 {
		return false
	}

	e.seq++
	header := wire.RTPMIDIHeader{
		SequenceNumber: e.seq,
		Timestamp:      uint32(e.clk.Now()),
		SSRC:           e.ssrc,
	}
	headerBytes, err := header.Marshal()
	if err != nil {
		return false
	}

	buf := make([]byte, 0, len(headerBytes)+2+len(list))
	buf = append(buf, headerBytes...)
	buf = wire.AppendLongControlWord(buf, wire.ControlWord{DeltaTime: true, Len: len(list)})
	buf = append(buf, list...)

	remote := transport.Endpoint{IP: e.sessionPartnerIP, Port: e.remoteDataPort}
	if err := e.dataSocket.Send(buf, remote); err != nil {
		return false
	}
	if e.metrics != nil {
		e.metrics.PacketsSent.Inc()
	}
	return true
}
