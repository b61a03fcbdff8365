package wire

// FixedHeader is the 2-5 byte header present on every control packet:
// [type+flags (1 byte)][remaining length, variable 1-4 bytes].
type FixedHeader struct {
	PacketType      uint8
	Flags           uint8
	RemainingLength int
}

// appendBytes appends the encoded fixed header to dst.
func (h *FixedHeader) appendBytes(dst []byte) []byte {
	dst = append(dst, (h.PacketType<<4)|(h.Flags&0x0F))
	return appendVarInt(dst, h.RemainingLength)
}

// decodeFixedHeader reads a fixed header from buf. ok is false when
// buf does not yet hold a complete header (the remaining-length
// varint may still be arriving); the caller should wait for more
// bytes rather than treat that as an error.
func decodeFixedHeader(buf []byte) (h FixedHeader, n int, ok bool, err error) {
	if len(buf) < 1 {
		return FixedHeader{}, 0, false, nil
	}
	first := buf[0]
	remLen, rn, ok, err := decodeVarInt(buf[1:])
	if err != nil {
		return FixedHeader{}, 0, false, err
	}
	if !ok {
		return FixedHeader{}, 0, false, nil
	}
	return FixedHeader{
		PacketType:      first >> 4,
		Flags:           first & 0x0F,
		RemainingLength: remLen,
	}, 1 + rn, true, nil
}
