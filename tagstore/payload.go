package tagstore

import (
	"encoding/binary"
	"fmt"
	"math"
)

// payloadSize matches the FDI 4-byte value slot.
const payloadSize = 4

// ValuePayload encodes the tag's current value into the 4-byte slot.
// String tags always carry a zero slot; the body travels in follow-on
// frames.
func (t Tag) ValuePayload() []byte {
	p := make([]byte, payloadSize)
	switch t.Value.kind {
	case TypeInteger:
		binary.LittleEndian.PutUint32(p, uint32(t.Value.i))
	case TypeUnsigned:
		binary.LittleEndian.PutUint32(p, t.Value.u)
	case TypeFloat:
		binary.LittleEndian.PutUint32(p, math.Float32bits(t.Value.f))
	case TypeString:
		// Zero slot.
	}
	return p
}

// ApplyPayload decodes the 4-byte slot per the tag's type and returns the
// resulting value. For String tags the slot must be zero and the stored
// string is left untouched (the body is written separately).
func (t Tag) ApplyPayload(payload []byte) (Value, error) {
	if len(payload) != payloadSize {
		return Value{}, fmt.Errorf("%w: payload is %d bytes (want %d)", ErrInvalidValue, len(payload), payloadSize)
	}
	switch t.Value.kind {
	case TypeInteger:
		return IntValue(int32(binary.LittleEndian.Uint32(payload))), nil
	case TypeUnsigned:
		return UintValue(binary.LittleEndian.Uint32(payload)), nil
	case TypeFloat:
		return FloatValue(math.Float32frombits(binary.LittleEndian.Uint32(payload))), nil
	case TypeString:
		for _, b := range payload {
			if b != 0 {
				return Value{}, fmt.Errorf("%w: nonzero slot for string tag", ErrInvalidValue)
			}
		}
		return t.Value, nil
	default:
		return Value{}, fmt.Errorf("%w: tag has no type", ErrInvalidValue)
	}
}
