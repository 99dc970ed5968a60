package wire

import (
	"errors"

	"github.com/pion/rtp"
)

// ErrControlWordTruncated is returned when a received RTP-MIDI payload
// is too short to contain its control word: empty, or a single byte
// whose B bit announces the two-byte long form.
var ErrControlWordTruncated = errors.New("wire: rtp-midi control word truncated")

// MaxShortLen / MaxLongLen are the payload-length ceilings the short
// and long control-word forms can express (spec.md section 3).
const (
	MaxShortLen = 15
	MaxLongLen  = 4095
)

// rtpMIDIPayloadType is the static RTP payload type RTP-MIDI streams
// use on the wire (spec.md section 6.1 / RFC 6295).
const rtpMIDIPayloadType = 0x61

// RTPMIDIHeader is the fixed 12-byte RTP header RTP-MIDI frames carry
// in front of the MIDI command section (spec.md section 3):
//
//	0x80 0x61 | SeqNum:u16 | Timestamp:u32 | SSRC:u32
//
// It is built and parsed with github.com/pion/rtp's generic rtp.Header
// rather than hand-written, since every field here is plain RTP with
// no RTP-MIDI-specific bit packing (that starts only in the control
// word that follows).
type RTPMIDIHeader struct {
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
}

// Marshal serializes h as the 12-byte RTP fixed header spec.md
// requires: version 2, no padding/extension/CSRC, marker clear,
// payload type 0x61.
func (h RTPMIDIHeader) Marshal() ([]byte, error) {
	rh := rtp.Header{
		Version:        2,
		Marker:         false,
		PayloadType:    rtpMIDIPayloadType,
		SequenceNumber: h.SequenceNumber,
		Timestamp:      h.Timestamp,
		SSRC:           h.SSRC,
	}
	return rh.Marshal()
}

// UnmarshalRTPMIDIHeader parses the fixed 12-byte RTP header from the
// front of buf. buf must already have been classified FrameRTPMIDI by
// Identify.
func UnmarshalRTPMIDIHeader(buf []byte) (RTPMIDIHeader, error) {
	var rh rtp.Header
	if err := rh.Unmarshal(buf); err != nil {
		return RTPMIDIHeader{}, err
	}
	if rh.PayloadType != rtpMIDIPayloadType {
		return RTPMIDIHeader{}, ErrNotRTPMIDIPacket
	}
	return RTPMIDIHeader{
		SequenceNumber: rh.SequenceNumber,
		Timestamp:      rh.Timestamp,
		SSRC:           rh.SSRC,
	}, nil
}

// ControlWord is the B/J/Z/P/Len control word that opens the MIDI
// command section (spec.md section 3). This engine always emits Z=1,
// J=0, P=0 on output (spec.md's invariants); J and P are still decoded
// on input for completeness, per spec.md section 4.5 ("journal present
// after list (not supported on output; ignored on input)").
type ControlWord struct {
	Journal   bool // J
	DeltaTime bool // Z
	NoStatus  bool // P
	Len       int
}

// AppendLongControlWord appends cw's encoding to dst always using the
// 2-byte long form (B=1), regardless of whether Len would fit the
// short form's 4 bits. spec.md section 4.3 has this engine build every
// outbound RTP-MIDI payload this way, trading a byte of payload size
// for a fixed, branch-free encoding step on the hot send path.
func AppendLongControlWord(dst []byte, cw ControlWord) []byte {
	b0 := byte(0x80) // B=1
	if cw.Journal {
		b0 |= 0x40
	}
	if cw.DeltaTime {
		b0 |= 0x20
	}
	if cw.NoStatus {
		b0 |= 0x10
	}
	b0 |= byte((cw.Len >> 8) & 0x0f)
	b1 := byte(cw.Len & 0xff)
	return append(dst, b0, b1)
}

// AppendControlWord appends the wire encoding of cw to dst, choosing
// the short (1-byte) form when Len fits and the long (2-byte) form
// otherwise. Used by tests and by any future caller that wants the
// size-optimal encoding; the engine's own send path uses
// AppendLongControlWord per spec.md section 4.3.
func AppendControlWord(dst []byte, cw ControlWord) []byte {
	if cw.Len >= 16 {
		return AppendLongControlWord(dst, cw)
	}

	b0 := byte(0x00) // B=0
	if cw.Journal {
		b0 |= 0x40
	}
	if cw.DeltaTime {
		b0 |= 0x20
	}
	if cw.NoStatus {
		b0 |= 0x10
	}
	b0 |= byte(cw.Len & 0x0f)
	return append(dst, b0)
}

// ParseControlWord reads the control word from the front of buf and
// returns it along with the number of bytes it occupied (1 or 2,
// depending on the B bit).
func ParseControlWord(buf []byte) (cw ControlWord, consumed int, err error) {
	if len(buf) < 1 {
		return ControlWord{}, 0, ErrControlWordTruncated
	}
	b0 := buf[0]
	big := b0&0x80 != 0
	cw.Journal = b0&0x40 != 0
	cw.DeltaTime = b0&0x20 != 0
	cw.NoStatus = b0&0x10 != 0

	if !big {
		cw.Len = int(b0 & 0x0f)
		return cw, 1, nil
	}

	if len(buf) < 2 {
		return ControlWord{}, 0, ErrControlWordTruncated
	}
	cw.Len = (int(b0&0x0f) << 8) | int(buf[1])
	return cw, 2, nil
}
