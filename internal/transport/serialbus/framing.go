package serialbus

import "encoding/binary"

// Frame format, adapted from core/codec.EncodeRS232Frame/DecodeRS232Frame:
// [magic (2 BE)][length (4 BE)][payload][checksum (2 BE, Fletcher-16)].
// The length field is widened from the teacher's 2 bytes (256-byte MTU, a
// fixed-size MeshCore binary frame) to 4 bytes since this transport carries
// JSON packets larger than 256 bytes; payloads are capped at maxFramePayload.
const (
	frameMagic        uint16 = 0xC03E
	frameHeaderSize           = 6 // magic(2) + length(4)
	frameChecksumSize         = 2
	minFrameSize              = frameHeaderSize + frameChecksumSize
	// maxFramePayload bounds a single inbound frame, matching
	// stream.Transport's 4 KiB JSON frame cap.
	maxFramePayload = 4096
)

// fletcher16 computes the Fletcher-16 checksum of data, matching
// core/codec.Fletcher16 (MeshCore's BridgeBase.cpp algorithm).
func fletcher16(data []byte) uint16 {
	var sum1, sum2 uint16
	for _, b := range data {
		sum1 = (sum1 + uint16(b)) % 255
		sum2 = (sum2 + sum1) % 255
	}
	return sum2<<8 | sum1
}

// encodeFrame wraps payload in a magic+length+checksum frame.
func encodeFrame(payload []byte) []byte {
	frame := make([]byte, frameHeaderSize+len(payload)+frameChecksumSize)
	binary.BigEndian.PutUint16(frame[0:2], frameMagic)
	binary.BigEndian.PutUint32(frame[2:6], uint32(len(payload)))
	copy(frame[frameHeaderSize:], payload)
	checksum := fletcher16(payload)
	binary.BigEndian.PutUint16(frame[frameHeaderSize+len(payload):], checksum)
	return frame
}

// decodeFrame extracts one complete frame from data, returning the
// payload, the remaining bytes, and whether a complete frame was found.
// A false return with data unchanged means "wait for more bytes"; a false
// return with data advanced by one byte means "bad frame, resync".
func decodeFrame(data []byte) (payload []byte, remaining []byte, ok bool) {
	if len(data) < minFrameSize {
		return nil, data, false
	}
	magic := binary.BigEndian.Uint16(data[0:2])
	if magic != frameMagic {
		return nil, data[1:], false // resync: drop one byte and retry
	}
	payloadLen := int(binary.BigEndian.Uint32(data[2:6]))
	if payloadLen > maxFramePayload {
		return nil, data[1:], false // corrupt length field, resync
	}
	total := frameHeaderSize + payloadLen + frameChecksumSize
	if len(data) < total {
		return nil, data, false // incomplete, wait for more
	}
	body := data[frameHeaderSize : frameHeaderSize+payloadLen]
	checksumOffset := frameHeaderSize + payloadLen
	received := binary.BigEndian.Uint16(data[checksumOffset : checksumOffset+2])
	if fletcher16(body) != received {
		return nil, data[1:], false // bad checksum, resync
	}
	out := make([]byte, payloadLen)
	copy(out, body)
	return out, data[total:], true
}
