package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// MaxFramePayload bounds one reliable-channel payload (1 MiB).
	MaxFramePayload = 1 << 20
	// MaxDatagramSend is the conservative outbound datagram cap chosen to stay
	// below typical path MTUs and avoid IP fragmentation.
	MaxDatagramSend = 1200
	// MaxDatagramRecv is the theoretical IPv4 UDP payload limit accepted on the
	// receive path.
	MaxDatagramRecv = 65507
)

// WriteFrame writes one length-prefixed payload: an unsigned 32-bit big-endian
// length N followed by N payload bytes.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: refusing to write empty frame", ErrFraming)
	}
	if len(payload) > MaxFramePayload {
		return fmt.Errorf("%w: frame payload %d exceeds %d bytes", ErrFraming, len(payload), MaxFramePayload)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed payload from the stream. Length values of
// zero or above MaxFramePayload are framing errors; the caller should treat the
// stream as unrecoverable afterwards because the read position is lost.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 || length > MaxFramePayload {
		return nil, fmt.Errorf("%w: frame length %d out of range", ErrFraming, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: truncated frame: %v", ErrFraming, err)
	}
	return payload, nil
}
