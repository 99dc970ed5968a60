package wire

import "encoding/binary"

// SyncPacket is the three-way clock-sync (CK) packet (spec.md section
// 3):
//
//	0xFF 0xFF | 'C' 'K' | SSRC:u32 | Count:u8 | 0 0 0 | TS1H TS1L | TS2H TS2L | TS3H TS3L
//
// The engine only ever uses the low 32 bits of each 64-bit timestamp
// slot and transmits zero for the high words (spec.md section 3), so
// TS1/TS2/TS3 here already represent those low words.
type SyncPacket struct {
	SSRC  uint32
	Count uint8
	TS1   uint32
	TS2   uint32
	TS3   uint32
}

const syncPacketLen = 36

// EncodeSyncPacket serializes p as a CK packet.
func EncodeSyncPacket(p SyncPacket) []byte {
	buf := make([]byte, 0, syncPacketLen)
	buf = append(buf, sessionMagicHi, sessionMagicLo, 'C', 'K')
	buf = appendUint32(buf, p.SSRC)
	buf = append(buf, p.Count, 0, 0, 0)
	buf = appendUint32(buf, 0) // TS1H, always zero
	buf = appendUint32(buf, p.TS1)
	buf = appendUint32(buf, 0) // TS2H
	buf = appendUint32(buf, p.TS2)
	buf = appendUint32(buf, 0) // TS3H
	buf = appendUint32(buf, p.TS3)
	return buf
}

// DecodeSyncPacket parses buf as a CK packet.
func DecodeSyncPacket(buf []byte) (SyncPacket, error) {
	if len(buf) < syncPacketLen {
		return SyncPacket{}, ErrNotSessionPacket
	}
	if buf[0] != sessionMagicHi || buf[1] != sessionMagicLo || buf[2] != 'C' || buf[3] != 'K' {
		return SyncPacket{}, ErrNotSessionPacket
	}

	return SyncPacket{
		SSRC:  binary.BigEndian.Uint32(buf[4:8]),
		Count: buf[8],
		TS1:   binary.BigEndian.Uint32(buf[16:20]),
		TS2:   binary.BigEndian.Uint32(buf[24:28]),
		TS3:   binary.BigEndian.Uint32(buf[32:36]),
	}, nil
}
