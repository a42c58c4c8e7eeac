package codec

import "encoding/binary"

// Bitcoin-style variable-length integer: a one-byte prefix signals the
// total width (0xFD => 2-byte LE, 0xFE => 4-byte LE, 0xFF => 8-byte LE).

func (r *reader) varint() (uint64, error) {
	prefix, err := r.byte()
	if err != nil {
		return 0, err
	}
	switch prefix {
	case 0xfd:
		v, err := r.uint16()
		return uint64(v), err
	case 0xfe:
		v, err := r.uint32()
		return uint64(v), err
	case 0xff:
		return r.uint64()
	default:
		return uint64(prefix), nil
	}
}

// AppendVarInt appends the varint encoding of v to dst.
func AppendVarInt(dst []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(dst, byte(v))
	case v <= 0xffff:
		dst = append(dst, 0xfd)
		return binary.LittleEndian.AppendUint16(dst, uint16(v))
	case v <= 0xffffffff:
		dst = append(dst, 0xfe)
		return binary.LittleEndian.AppendUint32(dst, uint32(v))
	default:
		dst = append(dst, 0xff)
		return binary.LittleEndian.AppendUint64(dst, v)
	}
}

// ReadVarInt decodes a varint from buf, returning the value and the number
// of bytes consumed.
func ReadVarInt(buf []byte) (uint64, int, error) {
	r := newReader(buf)
	v, err := r.varint()
	if err != nil {
		return 0, 0, err
	}
	return v, r.pos, nil
}

// VarIntSize returns the encoded width of v in bytes.
func VarIntSize(v uint64) int {
	switch {
	case v < 0xfd:
		return 1
	case v <= 0xffff:
		return 3
	case v <= 0xffffffff:
		return 5
	default:
		return 9
	}
}
