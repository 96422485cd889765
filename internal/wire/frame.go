package wire

import (
	"encoding/binary"
	"fmt"
)

// Format tokens describe a frame payload field by field:
//
//	L  8-byte unsigned integer (uint64)
//	I  4-byte signed integer (int32)
//	P  a length-prefixed byte buffer: an 8-byte length followed by that
//	   many payload bytes
//	Q  an 8-byte size declaration with no accompanying bytes — used to
//	   tell the receiver how large a buffer to expect in a later frame
//	   (e.g. the stack-image size a CALL_STKOUT reply will carry)
//
// This mirrors the reference runtime's urpc_generic_send/urpc_unpack_payload
// pair, which pack/unpack a C varargs list against the same token set.

// Pack encodes args according to format into a frame payload.
func Pack(format string, args ...any) ([]byte, error) {
	if len(format) != len(args) {
		return nil, fmt.Errorf("wire: format %q expects %d args, got %d", format, len(format), len(args))
	}
	buf := make([]byte, 0, 8*len(args))
	for i, tok := range format {
		switch tok {
		case 'L':
			v, err := toUint64(args[i])
			if err != nil {
				return nil, fmt.Errorf("wire: arg %d (%c): %w", i, tok, err)
			}
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], v)
			buf = append(buf, b[:]...)
		case 'I':
			v, err := toInt32(args[i])
			if err != nil {
				return nil, fmt.Errorf("wire: arg %d (%c): %w", i, tok, err)
			}
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(v))
			buf = append(buf, b[:]...)
		case 'P':
			bs, ok := args[i].([]byte)
			if !ok {
				return nil, fmt.Errorf("wire: arg %d (%c): expected []byte, got %T", i, tok, args[i])
			}
			var lenBuf [8]byte
			binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(bs)))
			buf = append(buf, lenBuf[:]...)
			buf = append(buf, bs...)
		case 'Q':
			v, err := toUint64(args[i])
			if err != nil {
				return nil, fmt.Errorf("wire: arg %d (%c): %w", i, tok, err)
			}
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], v)
			buf = append(buf, b[:]...)
		default:
			return nil, fmt.Errorf("wire: unknown format token %q", tok)
		}
	}
	return buf, nil
}

// Unpack decodes a frame payload according to format into outs, which must
// be pointers matching each token: *uint64 for L/Q, *int32 for I, *[]byte
// for P. The []byte written for a P token aliases data; callers that retain
// it past the frame's lifetime must copy.
func Unpack(data []byte, format string, outs ...any) error {
	if len(format) != len(outs) {
		return fmt.Errorf("wire: format %q expects %d outs, got %d", format, len(format), len(outs))
	}
	off := 0
	for i, tok := range format {
		switch tok {
		case 'L', 'Q':
			if off+8 > len(data) {
				return fmt.Errorf("wire: truncated payload decoding arg %d (%c)", i, tok)
			}
			out, ok := outs[i].(*uint64)
			if !ok {
				return fmt.Errorf("wire: out %d (%c): expected *uint64, got %T", i, tok, outs[i])
			}
			*out = binary.LittleEndian.Uint64(data[off : off+8])
			off += 8
		case 'I':
			if off+4 > len(data) {
				return fmt.Errorf("wire: truncated payload decoding arg %d (%c)", i, tok)
			}
			out, ok := outs[i].(*int32)
			if !ok {
				return fmt.Errorf("wire: out %d (%c): expected *int32, got %T", i, tok, outs[i])
			}
			*out = int32(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
		case 'P':
			if off+8 > len(data) {
				return fmt.Errorf("wire: truncated payload decoding arg %d (%c) length", i, tok)
			}
			plen := binary.LittleEndian.Uint64(data[off : off+8])
			off += 8
			if off+int(plen) > len(data) {
				return fmt.Errorf("wire: truncated payload decoding arg %d (%c) body", i, tok)
			}
			out, ok := outs[i].(*[]byte)
			if !ok {
				return fmt.Errorf("wire: out %d (%c): expected *[]byte, got %T", i, tok, outs[i])
			}
			*out = data[off : off+int(plen)]
			off += int(plen)
		default:
			return fmt.Errorf("wire: unknown format token %q", tok)
		}
	}
	return nil
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case int64:
		return uint64(n), nil
	case int:
		return uint64(n), nil
	case uint:
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}

func toInt32(v any) (int32, error) {
	switch n := v.(type) {
	case int32:
		return n, nil
	case int:
		return int32(n), nil
	case uint32:
		return int32(n), nil
	default:
		return 0, fmt.Errorf("expected a 32-bit integer, got %T", v)
	}
}
