package fdi

import (
	"encoding/binary"
	"fmt"
	"io"
)

// EncodeRequest builds an 8-byte request frame.
// The payload must be exactly 4 bytes.
func EncodeRequest(cmd Command, tagID uint16, payload []byte) ([]byte, error) {
	if len(payload) != PayloadSize {
		return nil, fmt.Errorf("encode request: payload is %d bytes (want %d)", len(payload), PayloadSize)
	}
	frame := make([]byte, FrameSize)
	binary.LittleEndian.PutUint16(frame[0:2], uint16(cmd))
	binary.LittleEndian.PutUint16(frame[2:4], tagID)
	copy(frame[4:8], payload)
	return frame, nil
}

// EncodeResponse builds an 8-byte response frame.
// The payload must be exactly 4 bytes.
func EncodeResponse(status Status, tagID uint16, payload []byte) ([]byte, error) {
	if len(payload) != PayloadSize {
		return nil, fmt.Errorf("encode response: payload is %d bytes (want %d)", len(payload), PayloadSize)
	}
	frame := make([]byte, FrameSize)
	binary.LittleEndian.PutUint16(frame[0:2], uint16(status))
	binary.LittleEndian.PutUint16(frame[2:4], tagID)
	copy(frame[4:8], payload)
	return frame, nil
}

// DecodeRequest parses an 8-byte request frame.
// A command outside the defined table yields UnknownCommandError.
func DecodeRequest(frame []byte) (cmd Command, tagID uint16, payload []byte, err error) {
	if len(frame) != FrameSize {
		return 0, 0, nil, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(frame))
	}
	cmd = Command(binary.LittleEndian.Uint16(frame[0:2]))
	if !cmd.Valid() {
		return 0, 0, nil, &UnknownCommandError{ID: uint16(cmd)}
	}
	tagID = binary.LittleEndian.Uint16(frame[2:4])
	payload = make([]byte, PayloadSize)
	copy(payload, frame[4:8])
	return cmd, tagID, payload, nil
}

// DecodeResponse parses an 8-byte response frame.
// A status outside the defined table yields UnknownStatusError.
func DecodeResponse(frame []byte) (status Status, tagID uint16, payload []byte, err error) {
	if len(frame) != FrameSize {
		return 0, 0, nil, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(frame))
	}
	status = Status(binary.LittleEndian.Uint16(frame[0:2]))
	if !status.Valid() {
		return 0, 0, nil, &UnknownStatusError{Code: uint16(status)}
	}
	tagID = binary.LittleEndian.Uint16(frame[2:4])
	payload = make([]byte, PayloadSize)
	copy(payload, frame[4:8])
	return status, tagID, payload, nil
}

// FramesNeeded returns how many 8-byte frames carry n bytes of payload.
func FramesNeeded(n int) int {
	return (n + FrameSize - 1) / FrameSize
}

// PadToFrame appends zero bytes until the buffer length is a multiple of
// the frame size. An already aligned buffer is returned unchanged.
func PadToFrame(buf []byte) []byte {
	rem := len(buf) % FrameSize
	if rem == 0 {
		return buf
	}
	return append(buf, make([]byte, FrameSize-rem)...)
}

// ZeroPayload returns a fresh all-zero 4-byte payload slot.
func ZeroPayload() []byte {
	return make([]byte, PayloadSize)
}

// IsZeroPayload reports whether every byte of the payload slot is zero.
func IsZeroPayload(payload []byte) bool {
	for _, b := range payload {
		if b != 0 {
			return false
		}
	}
	return true
}

// WriteFrame writes one frame to w. Buffers that are not exactly one frame
// are rejected with InvalidFrameSizeError before touching the writer.
func WriteFrame(w io.Writer, frame []byte) error {
	if len(frame) != FrameSize {
		return &InvalidFrameSizeError{Size: len(frame)}
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one frame from r.
// A clean EOF on the frame boundary is reported as ErrPeerClosed.
func ReadFrame(r io.Reader) ([]byte, error) {
	frame := make([]byte, FrameSize)
	if _, err := io.ReadFull(r, frame); err != nil {
		if err == io.EOF {
			return nil, ErrPeerClosed
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return frame, nil
}
