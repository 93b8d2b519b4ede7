package wire

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Tagged payloads are JSON and therefore always begin with '{'. Compressed
// payloads are prefixed with a marker byte outside the JSON value space so the
// receive path can tell the two apart without negotiation.
const (
	snappyMarker byte = 0x01
	zstdMarker   byte = 0x02

	// frameCompressThreshold is the reliable-channel payload size above which
	// zstd compression is applied before framing.
	frameCompressThreshold = 8 << 10
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// PackDatagram prepares a payload for the datagram channel. Payloads over the
// send cap are snappy-compressed; the caller still enforces MaxDatagramSend on
// the result, so an incompressible payload is ultimately dropped there.
func PackDatagram(payload []byte) []byte {
	if len(payload) <= MaxDatagramSend {
		return payload
	}
	encoded := snappy.Encode(nil, payload)
	packed := make([]byte, 0, 1+len(encoded))
	packed = append(packed, snappyMarker)
	return append(packed, encoded...)
}

// UnpackDatagram restores a received datagram payload to its tagged JSON form.
func UnpackDatagram(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty datagram", ErrFraming)
	}
	if data[0] != snappyMarker {
		return data, nil
	}
	payload, err := snappy.Decode(nil, data[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: snappy datagram: %v", ErrFraming, err)
	}
	return payload, nil
}

// PackFrame prepares a payload for the reliable channel, compressing large
// control messages (level data, bulk spawn batches) with zstd.
func PackFrame(payload []byte) []byte {
	if len(payload) <= frameCompressThreshold {
		return payload
	}
	packed := zstdEncoder.EncodeAll(payload, []byte{zstdMarker})
	if len(packed) >= len(payload) {
		return payload
	}
	return packed
}

// UnpackFrame restores a received reliable payload to its tagged JSON form.
func UnpackFrame(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame payload", ErrFraming)
	}
	if data[0] != zstdMarker {
		return data, nil
	}
	payload, err := zstdDecoder.DecodeAll(data[1:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd frame: %v", ErrFraming, err)
	}
	return payload, nil
}
