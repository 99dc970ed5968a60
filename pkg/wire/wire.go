// Package wire implements the on-the-wire packet formats of the Apple
// RTP-MIDI session protocol: the two-byte magic sniff that tells an
// Apple session frame (IN/OK/NO/BY/CK/RS) apart from an RTP-MIDI
// frame, and the Apple session/sync/feedback packet layouts themselves
// (spec.md section 3). The RTP-MIDI frame's outer 12-byte RTP header is
// also handled here, built on top of github.com/pion/rtp; the MIDI
// command section (delta-times + MIDI bytes) that follows it is
// specific to RFC 6295 and has no pack dependency to build on, so it is
// hand-coded in rtpmidi.go.
package wire

import "errors"

// ErrShortPacket is returned when a datagram is too small to contain
// even the two-byte frame-type magic.
var ErrShortPacket = errors.New("wire: packet shorter than frame magic")

// ErrNotSessionPacket / ErrNotRTPMIDIPacket are returned by the
// type-specific decoders when handed a datagram that Identify already
// classified as the other kind, or as unknown.
var (
	ErrNotSessionPacket = errors.New("wire: not an Apple session packet")
	ErrNotRTPMIDIPacket = errors.New("wire: not an RTP-MIDI packet")
	ErrUnknownCommand   = errors.New("wire: unrecognized Apple session command")
)

// FrameKind classifies a received datagram by its first two bytes, per
// spec.md section 4.2.
type FrameKind int

const (
	// FrameUnknown is neither 0xFFFF nor 0x8061 and must be silently
	// dropped per spec.md section 7.
	FrameUnknown FrameKind = iota
	FrameSession
	FrameRTPMIDI
)

const (
	sessionMagicHi = 0xFF
	sessionMagicLo = 0xFF
	rtpMIDIFirst   = 0x80
	rtpMIDISecond  = 0x61
)

// Identify classifies buf's frame kind from its leading two bytes.
func Identify(buf []byte) FrameKind {
	if len(buf) < 2 {
		return FrameUnknown
	}
	if buf[0] == sessionMagicHi && buf[1] == sessionMagicLo {
		return FrameSession
	}
	if buf[0] == rtpMIDIFirst && buf[1] == rtpMIDISecond {
		return FrameRTPMIDI
	}
	return FrameUnknown
}

// Command is the two-letter Apple session command code.
type Command string

const (
	CmdInvitation Command = "IN"
	CmdAccept     Command = "OK"
	CmdDecline    Command = "NO"
	CmdEnd        Command = "BY"
	CmdSync       Command = "CK"
	CmdFeedback   Command = "RS"
)

// ProtocolVersion is the Apple session protocol version this engine
// speaks (spec.md section 6.1).
const ProtocolVersion uint32 = 2
