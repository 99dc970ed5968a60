package wire

import "encoding/binary"

// FeedbackPacket is the receiver-state (RS) acknowledgement packet
// (spec.md section 3):
//
//	0xFF 0xFF | 'R' 'S' | SSRC:u32 | SequenceNumber:u16 | 0:u16
type FeedbackPacket struct {
	SSRC           uint32
	SequenceNumber uint16
}

const feedbackPacketLen = 12

// EncodeFeedbackPacket serializes p as an RS packet.
func EncodeFeedbackPacket(p FeedbackPacket) []byte {
	buf := make([]byte, 0, feedbackPacketLen)
	buf = append(buf, sessionMagicHi, sessionMagicLo, 'R', 'S')
	buf = appendUint32(buf, p.SSRC)
	var seq [2]byte
	binary.BigEndian.PutUint16(seq[:], p.SequenceNumber)
	buf = append(buf, seq[:]...)
	buf = append(buf, 0, 0)
	return buf
}

// DecodeFeedbackPacket parses buf as an RS packet.
func DecodeFeedbackPacket(buf []byte) (FeedbackPacket, error) {
	if len(buf) < feedbackPacketLen {
		return FeedbackPacket{}, ErrNotSessionPacket
	}
	if buf[0] != sessionMagicHi || buf[1] != sessionMagicLo || buf[2] != 'R' || buf[3] != 'S' {
		return FeedbackPacket{}, ErrNotSessionPacket
	}
	return FeedbackPacket{
		SSRC:           binary.BigEndian.Uint32(buf[4:8]),
		SequenceNumber: binary.BigEndian.Uint16(buf[8:10]),
	}, nil
}
