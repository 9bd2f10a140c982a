// Package addr parses the human-readable PLC address forms of spec §4.2 into
// resolved (area, offset, width, bit) tuples, ported one-to-one from
// AddressParser in the original Python library's areas.py.
package addr

// MemoryArea is an S7/Profibus memory region (spec §3).
type MemoryArea int

const (
	PE MemoryArea = iota // Process inputs, read-only
	PA                   // Process outputs
	MK                   // Merkers
	DB                   // Data blocks
	TM                   // Timers
	CT                   // Counters
	SYS
	SYSInfo
	SYSFlags
)

func (a MemoryArea) String() string {
	switch a {
	case PE:
		return "PE"
	case PA:
		return "PA"
	case MK:
		return "MK"
	case DB:
		return "DB"
	case TM:
		return "TM"
	case CT:
		return "CT"
	case SYS:
		return "SYS"
	case SYSInfo:
		return "SYS_INFO"
	case SYSFlags:
		return "SYS_FLAGS"
	default:
		return "UNKNOWN"
	}
}

// ReadOnly reports whether writes to this area are rejected before transport
// (spec §3 invariant, §8 boundary behavior: I0.0 write -> AddressError).
func (a MemoryArea) ReadOnly() bool {
	switch a {
	case PE, SYS, SYSInfo, SYSFlags:
		return true
	default:
		return false
	}
}

// Snap7Code returns the snap7 area code of a, mirroring Areas.AREA_INFO's
// snap7_code field from areas.py.
func (a MemoryArea) Snap7Code() int {
	switch a {
	case PE:
		return 129
	case PA:
		return 130
	case MK:
		return 131
	case DB:
		return 132
	case TM:
		return 29
	case CT:
		return 28
	case SYS:
		return 3
	case SYSInfo:
		return 4
	case SYSFlags:
		return 5
	default:
		return 0
	}
}
