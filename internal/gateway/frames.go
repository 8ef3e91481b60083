package gateway

import (
	"encoding/binary"
	"fmt"
)

// Binary frames carry segment payloads: a fixed 8-byte header of a 4-byte
// ASCII magic plus a 4-byte big-endian segment index, then the raw payload.
// There is no length field; the frame length is the transport message
// length.
const (
	MagicInit    = "INIT"
	MagicSegment = "SEGM"

	frameHeaderSize = 8
)

// encodeFrame builds a binary frame. The index is 0 and ignored for INIT.
func encodeFrame(magic string, index uint32, payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))
	copy(buf[:4], magic)
	binary.BigEndian.PutUint32(buf[4:8], index)
	copy(buf[frameHeaderSize:], payload)
	return buf
}

// decodeFrame splits a binary frame into its parts. Used by tests and
// diagnostic tooling; the server itself only encodes.
func decodeFrame(frame []byte) (magic string, index uint32, payload []byte, err error) {
	if len(frame) < frameHeaderSize {
		return "", 0, nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	magic = string(frame[:4])
	if magic != MagicInit && magic != MagicSegment {
		return "", 0, nil, fmt.Errorf("unknown frame magic %q", magic)
	}
	index = binary.BigEndian.Uint32(frame[4:8])
	return magic, index, frame[frameHeaderSize:], nil
}
