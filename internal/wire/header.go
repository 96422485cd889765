package wire

import "encoding/binary"

// HeaderSize is the fixed size of a frame's wire header: a 4-byte command
// code followed by an 8-byte request ID.
const HeaderSize = 12

// EncodeHeader writes mb into a fresh HeaderSize-byte buffer.
func EncodeHeader(mb Mailbox) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(mb.Cmd))
	binary.LittleEndian.PutUint64(buf[4:12], mb.RequestID)
	return buf
}

// DecodeHeader reads a Mailbox from the first HeaderSize bytes of data.
func DecodeHeader(data []byte) (Mailbox, error) {
	if len(data) < HeaderSize {
		return Mailbox{}, ErrShortHeader
	}
	return Mailbox{
		Cmd:       Cmd(binary.LittleEndian.Uint32(data[0:4])),
		RequestID: binary.LittleEndian.Uint64(data[4:12]),
	}, nil
}

// ErrShortHeader is returned by DecodeHeader when given fewer than
// HeaderSize bytes.
var ErrShortHeader = frameError("wire: buffer shorter than header size")

type frameError string

func (e frameError) Error() string { return string(e) }
