package canon

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeError records a decode underflow or a coercion loss (spec §4.1, §4.3.4).
// It is intentionally not part of internal/protoerr's taxonomy struct set: the
// codec is a leaf component with no knowledge of which protocol or address is
// involved, so callers wrap it into a protoerr.DataError with that context.
type DecodeError struct {
	DataType DataType
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("canon: decode %s: %s", e.DataType, e.Reason)
}

// Encode converts a canonical Value to its wire bytes for data_type, in the
// big-endian order that is canonical for S7, Profibus, Ethernet/IP CIP
// payloads, and Modbus registers (spec §4.1).
func Encode(v Value, dt DataType) ([]byte, error) {
	switch dt {
	case Bool, Coil, DiscreteInput:
		i, err := v.AsInt64()
		if err != nil {
			return nil, err
		}
		if i != 0 {
			return []byte{0x01}, nil
		}
		return []byte{0x00}, nil

	case Uint8:
		i, err := v.AsInt64()
		if err != nil {
			return nil, err
		}
		if i < 0 || i > math.MaxUint8 {
			return nil, &DecodeError{DataType: dt, Reason: "value out of range"}
		}
		return []byte{byte(i)}, nil

	case Int8:
		i, err := v.AsInt64()
		if err != nil {
			return nil, err
		}
		if i < math.MinInt8 || i > math.MaxInt8 {
			return nil, &DecodeError{DataType: dt, Reason: "value out of range"}
		}
		return []byte{byte(int8(i))}, nil

	case Uint16, HoldingRegister, InputRegister:
		i, err := v.AsInt64()
		if err != nil {
			return nil, err
		}
		if i < 0 || i > math.MaxUint16 {
			return nil, &DecodeError{DataType: dt, Reason: "value out of range"}
		}
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(i))
		return buf, nil

	case Int16:
		i, err := v.AsInt64()
		if err != nil {
			return nil, err
		}
		if i < math.MinInt16 || i > math.MaxInt16 {
			return nil, &DecodeError{DataType: dt, Reason: "value out of range"}
		}
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(int16(i)))
		return buf, nil

	case Uint32:
		i, err := v.AsInt64()
		if err != nil {
			return nil, err
		}
		if i < 0 || i > math.MaxUint32 {
			return nil, &DecodeError{DataType: dt, Reason: "value out of range"}
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(i))
		return buf, nil

	case Int32:
		i, err := v.AsInt64()
		if err != nil {
			return nil, err
		}
		if i < math.MinInt32 || i > math.MaxInt32 {
			return nil, &DecodeError{DataType: dt, Reason: "value out of range"}
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(int32(i)))
		return buf, nil

	case Float32:
		f, err := v.AsFloat64()
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(f)))
		return buf, nil

	case Float64:
		f, err := v.AsFloat64()
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(f))
		return buf, nil

	case String:
		if v.Kind != KindString {
			return nil, &DecodeError{DataType: dt, Reason: "value is not a string"}
		}
		// S7 string convention: length-prefix byte, capacity <= 82 (spec §4.1).
		if len(v.S) > 82 {
			return nil, &DecodeError{DataType: dt, Reason: "string exceeds 82-byte S7 capacity"}
		}
		buf := make([]byte, 1+len(v.S))
		buf[0] = byte(len(v.S))
		copy(buf[1:], v.S)
		return buf, nil

	default:
		return nil, &DecodeError{DataType: dt, Reason: "unsupported data type"}
	}
}

// Decode converts wire bytes back into a canonical Value for data_type. On
// underflow (fewer bytes than the type requires) it returns a zero-filled
// default value alongside the error, per spec §4.1, so callers can choose to
// surface the default while still recording the decode failure in statistics.
func Decode(data []byte, dt DataType) (Value, error) {
	width := dt.Width()
	if width > 0 && len(data) < width {
		return zeroValue(dt), &DecodeError{DataType: dt, Reason: "buffer underflow"}
	}

	switch dt {
	case Bool, Coil, DiscreteInput:
		return BoolValue(data[0] != 0), nil
	case Uint8:
		return Uint(uint64(data[0])), nil
	case Int8:
		return Int(int64(int8(data[0]))), nil
	case Uint16, HoldingRegister, InputRegister:
		return Uint(uint64(binary.BigEndian.Uint16(data))), nil
	case Int16:
		return Int(int64(int16(binary.BigEndian.Uint16(data)))), nil
	case Uint32:
		return Uint(uint64(binary.BigEndian.Uint32(data))), nil
	case Int32:
		return Int(int64(int32(binary.BigEndian.Uint32(data)))), nil
	case Float32:
		// NaN/±Inf pass through unchanged — Float32frombits never normalizes
		// special values (spec §4.1 edge case).
		return Float(float64(math.Float32frombits(binary.BigEndian.Uint32(data)))), nil
	case Float64:
		return Float(math.Float64frombits(binary.BigEndian.Uint64(data))), nil
	case String:
		if len(data) < 1 {
			return Str(""), &DecodeError{DataType: dt, Reason: "buffer underflow"}
		}
		n := int(data[0])
		if 1+n > len(data) {
			n = len(data) - 1
		}
		return Str(string(data[1 : 1+n])), nil
	default:
		return Value{}, &DecodeError{DataType: dt, Reason: "unsupported data type"}
	}
}

// DecodeMany splits data into count consecutive dt-wide elements and decodes
// each one (spec §4.1 "decode(bytes, data_type, count) -> [value]"). When dt
// is a fixed-width 2-byte type and len(data) is odd, the trailing byte is
// dropped rather than causing an underflow on the last element — data is
// truncated to the largest whole-element prefix first (spec §4.1 edge case).
// count <= 1 is equivalent to a single Decode call wrapped in a 1-element
// slice. Variable-width types (String) do not support count > 1.
func DecodeMany(data []byte, dt DataType, count int) ([]Value, error) {
	if count <= 1 {
		v, err := Decode(data, dt)
		return []Value{v}, err
	}
	width := dt.Width()
	if width <= 0 {
		return nil, &DecodeError{DataType: dt, Reason: "count > 1 not supported for variable-width type"}
	}
	if usable := (len(data) / width) * width; usable != len(data) {
		data = data[:usable]
	}
	out := make([]Value, 0, count)
	var firstErr error
	for i := 0; i < count; i++ {
		start := i * width
		if start+width > len(data) {
			out = append(out, zeroValue(dt))
			if firstErr == nil {
				firstErr = &DecodeError{DataType: dt, Reason: "buffer underflow"}
			}
			continue
		}
		v, err := Decode(data[start:start+width], dt)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		out = append(out, v)
	}
	return out, firstErr
}

// EncodeMany is the inverse of DecodeMany: it concatenates the wire encoding
// of each value in values, in order. All values are encoded with the same
// data_type.
func EncodeMany(values []Value, dt DataType) ([]byte, error) {
	if len(values) <= 1 {
		if len(values) == 0 {
			return nil, nil
		}
		return Encode(values[0], dt)
	}
	buf := make([]byte, 0, dt.Width()*len(values))
	for _, v := range values {
		b, err := Encode(v, dt)
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	return buf, nil
}

func zeroValue(dt DataType) Value {
	switch dt {
	case Bool, Coil, DiscreteInput:
		return BoolValue(false)
	case Float32, Float64:
		return Float(0)
	case String:
		return Str("")
	default:
		return Int(0)
	}
}

// PackRegistersHighWordFirst splits a 32-bit wire value into two 16-bit
// Modbus registers, register 0 holding the high word (spec §4.3.2, I2, E3).
func PackRegistersHighWordFirst(v uint32) [2]uint16 {
	return [2]uint16{uint16(v >> 16), uint16(v & 0xFFFF)}
}

// UnpackRegistersHighWordFirst is the inverse of PackRegistersHighWordFirst.
func UnpackRegistersHighWordFirst(hi, lo uint16) uint32 {
	return uint32(hi)<<16 | uint32(lo)
}

// EncodeFloat32Registers encodes a float32 as two Modbus registers,
// high-word-first (spec E3: 1.5 → [0x3FC0, 0x0000]).
func EncodeFloat32Registers(f float32) [2]uint16 {
	return PackRegistersHighWordFirst(math.Float32bits(f))
}

// DecodeFloat32Registers is the inverse of EncodeFloat32Registers.
func DecodeFloat32Registers(hi, lo uint16) float32 {
	return math.Float32frombits(UnpackRegistersHighWordFirst(hi, lo))
}
