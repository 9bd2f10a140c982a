// Package canon defines the canonical value domain that every protocol driver
// converts into and out of, and the data-type codec for protocol wire layouts.
package canon

import "fmt"

// Kind identifies which arm of Value is populated.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindUint
	KindFloat
	KindBytes
	KindString
)

// Value is the canonical cross-protocol value variant described in spec §9:
// every replication step and every codec round-trip passes through this type
// rather than an untyped interface{} grab-bag.
type Value struct {
	Kind Kind

	B bool
	I int64
	U uint64
	F float64
	Y []byte
	S string
}

func BoolValue(v bool) Value { return Value{Kind: KindBool, B: v} }
func Int(v int64) Value     { return Value{Kind: KindInt, I: v} }
func Uint(v uint64) Value   { return Value{Kind: KindUint, U: v} }
func Float(v float64) Value { return Value{Kind: KindFloat, F: v} }
func Bytes(v []byte) Value  { return Value{Kind: KindBytes, Y: v} }
func Str(v string) Value    { return Value{Kind: KindString, S: v} }

// AsFloat64 coerces the value into the canonical numeric domain used for
// replication transforms (spec §4.5) and VFD setpoint validation.
func (v Value) AsFloat64() (float64, error) {
	switch v.Kind {
	case KindBool:
		if v.B {
			return 1, nil
		}
		return 0, nil
	case KindInt:
		return float64(v.I), nil
	case KindUint:
		return float64(v.U), nil
	case KindFloat:
		return v.F, nil
	default:
		return 0, fmt.Errorf("canon: value of kind %v has no numeric domain", v.Kind)
	}
}

// AsInt64 coerces the value into a signed integer, truncating floats toward
// zero.
func (v Value) AsInt64() (int64, error) {
	switch v.Kind {
	case KindBool:
		if v.B {
			return 1, nil
		}
		return 0, nil
	case KindInt:
		return v.I, nil
	case KindUint:
		return int64(v.U), nil
	case KindFloat:
		return int64(v.F), nil
	default:
		return 0, fmt.Errorf("canon: value of kind %v has no integer domain", v.Kind)
	}
}

// Equal reports whether two values carry the same kind and payload. Value
// cannot use == directly since KindBytes carries a slice.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.B == other.B
	case KindInt:
		return v.I == other.I
	case KindUint:
		return v.U == other.U
	case KindFloat:
		return v.F == other.F
	case KindString:
		return v.S == other.S
	case KindBytes:
		if len(v.Y) != len(other.Y) {
			return false
		}
		for i := range v.Y {
			if v.Y[i] != other.Y[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}
