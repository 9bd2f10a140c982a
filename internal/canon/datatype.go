package canon

// DataType is the `data_type` field carried by ReadRequest/WriteRequest (spec §3).
type DataType int

const (
	Bool DataType = iota
	Uint8
	Uint16
	Uint32
	Int8
	Int16
	Int32
	Float32
	Float64
	String
	Coil
	DiscreteInput
	HoldingRegister
	InputRegister
)

func (t DataType) String() string {
	switch t {
	case Bool:
		return "bool"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case String:
		return "string"
	case Coil:
		return "coil"
	case DiscreteInput:
		return "discrete_input"
	case HoldingRegister:
		return "holding_register"
	case InputRegister:
		return "input_register"
	default:
		return "unknown"
	}
}

// Width returns the data type's canonical width in bytes, used by the S7 and
// Profibus drivers to compute read_area/write_area lengths (spec §4.3.1).
func (t DataType) Width() int {
	switch t {
	case Bool, Uint8, Int8, Coil, DiscreteInput:
		return 1
	case Uint16, Int16, HoldingRegister, InputRegister:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0 // String and bit addresses carry no fixed width
	}
}

// IsMultiRegister reports whether a Modbus holding/input register read needs
// two consecutive 16-bit registers packed high-word-first (spec §4.3.2, I2).
func (t DataType) IsMultiRegister() bool {
	switch t {
	case Uint32, Int32, Float32:
		return true
	default:
		return false
	}
}
