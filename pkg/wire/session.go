package wire

import (
	"encoding/binary"
	"fmt"
)

// SessionPacket is an IN/OK/NO/BY Apple session packet (spec.md
// section 3):
//
//	0xFF 0xFF | CmdHi CmdLo | ProtoVersion:u32 | InitiatorToken:u32 | SSRC:u32 | Name:UTF-8-nul-terminated
type SessionPacket struct {
	Command         Command
	ProtocolVersion uint32
	InitiatorToken  uint32
	SSRC            uint32
	Name            string
}

// maxNameLen is spec.md's session-name bound ("Name: <=63 bytes").
const maxNameLen = 63

// EncodeSessionPacket serializes p in wire order. Name is truncated to
// maxNameLen bytes if longer.
func EncodeSessionPacket(p SessionPacket) ([]byte, error) {
	if len(p.Command) != 2 {
		return nil, fmt.Errorf("wire: invalid session command %q", p.Command)
	}

	name := p.Name
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}

	buf := make([]byte, 0, 16+len(name)+1)
	buf = append(buf, sessionMagicHi, sessionMagicLo)
	buf = append(buf, p.Command[0], p.Command[1])
	buf = appendUint32(buf, p.ProtocolVersion)
	buf = appendUint32(buf, p.InitiatorToken)
	buf = appendUint32(buf, p.SSRC)
	buf = append(buf, name...)
	buf = append(buf, 0)
	return buf, nil
}

// DecodeSessionPacket parses buf as an Apple session packet. buf must
// already have been classified FrameSession by Identify. Malformed
// packets (too short, bad magic, unknown command) return
// ErrNotSessionPacket or ErrUnknownCommand so the caller can silently
// drop them per spec.md section 7. A name with no NUL terminator is
// decoded as an empty name, without an error.
func DecodeSessionPacket(buf []byte) (SessionPacket, error) {
	if len(buf) < 16 {
		return SessionPacket{}, ErrNotSessionPacket
	}
	if buf[0] != sessionMagicHi || buf[1] != sessionMagicLo {
		return SessionPacket{}, ErrNotSessionPacket
	}

	cmd := Command(buf[2:4])
	switch cmd {
	case CmdInvitation, CmdAccept, CmdDecline, CmdEnd:
	default:
		return SessionPacket{}, ErrUnknownCommand
	}

	p := SessionPacket{
		Command:         cmd,
		ProtocolVersion: binary.BigEndian.Uint32(buf[4:8]),
		InitiatorToken:  binary.BigEndian.Uint32(buf[8:12]),
		SSRC:            binary.BigEndian.Uint32(buf[12:16]),
	}

	rest := buf[16:]
	nul := indexByte(rest, 0)
	if nul < 0 {
		// No NUL terminator: treat as a zero-length name rather than
		// reading past the datagram (spec.md section 7: truncate, don't
		// read past buffer bounds).
		return p, nil
	}
	p.Name = string(rest[:nul])
	return p, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
