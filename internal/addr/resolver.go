package addr

import (
	"fmt"
	"regexp"
	"strconv"
)

// Kind identifies which arm of Address is populated.
type Kind int

const (
	KindBit Kind = iota
	KindByte
	KindWord
	KindDWord
	KindDB
	KindTimer
	KindCounter
	KindOPCUANode
)

// Address is the resolved variant of spec §3: "Address (resolved): variant
// over {BitAddr, ByteAddr, WordAddr, DWordAddr, DBAddr, TimerAddr,
// CounterAddr, OPCUANodeId}."
type Address struct {
	Kind Kind

	Area MemoryArea
	Byte int
	Bit  int // valid only for Kind == KindBit or KindDB with HasBit
	DB     int
	HasBit bool
	dbWidth int // width in bytes for KindDB non-bit forms (1, 2, or 4)

	Number int // timer/counter number

	// OPC UA NodeId fields.
	Namespace  int
	Identifier string
	IsNumeric  bool // true if Identifier is a numeric "i=" form
}

// Width returns the implicit data width in bytes (spec §3: "Each carries an
// implicit data width in bytes.").
func (a Address) Width() int {
	switch a.Kind {
	case KindBit:
		return 1
	case KindByte:
		return 1
	case KindWord:
		return 2
	case KindDWord:
		return 4
	case KindDB:
		if a.HasBit {
			return 1
		}
		return a.dbWidth
	case KindTimer, KindCounter:
		return 2
	default:
		return 0
	}
}

// String re-emits the canonical textual form of a resolved address. Per
// invariant 3 (spec §8): parsing this string again yields the same Address.
func (a Address) String() string {
	switch a.Kind {
	case KindBit:
		return fmt.Sprintf("%s%d.%d", bitPrefix(a.Area), a.Byte, a.Bit)
	case KindByte:
		return fmt.Sprintf("%sB%d", bitPrefix(a.Area), a.Byte)
	case KindWord:
		return fmt.Sprintf("%sW%d", bitPrefix(a.Area), a.Byte)
	case KindDWord:
		return fmt.Sprintf("%sD%d", bitPrefix(a.Area), a.Byte)
	case KindDB:
		if a.HasBit {
			return fmt.Sprintf("DB%d.DBX%d.%d", a.DB, a.Byte, a.Bit)
		}
		return fmt.Sprintf("DB%d.DB%s%d", a.DB, dbWidthLetter(a.dbWidth), a.Byte)
	case KindTimer:
		return fmt.Sprintf("T%d", a.Number)
	case KindCounter:
		return fmt.Sprintf("C%d", a.Number)
	case KindOPCUANode:
		if a.IsNumeric {
			if a.Namespace == 0 {
				return fmt.Sprintf("i=%s", a.Identifier)
			}
			return fmt.Sprintf("ns=%d;i=%s", a.Namespace, a.Identifier)
		}
		if a.Namespace == 0 {
			return a.Identifier
		}
		return fmt.Sprintf("ns=%d;s=%s", a.Namespace, a.Identifier)
	default:
		return ""
	}
}

func bitPrefix(area MemoryArea) string {
	switch area {
	case PE:
		return "I"
	case PA:
		return "Q"
	case MK:
		return "M"
	default:
		return "?"
	}
}

func dbWidthLetter(w int) string {
	switch w {
	case 1:
		return "B"
	case 2:
		return "W"
	case 4:
		return "D"
	default:
		return "W"
	}
}

// AddressError is raised for unparsable or semantically invalid addresses
// (spec §7).
type AddressError struct {
	Input  string
	Reason string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("addr: %q: %s", e.Input, e.Reason)
}

var (
	reBit    = regexp.MustCompile(`^([IQM])(\d+)\.(\d+)$`)
	reByte   = regexp.MustCompile(`^([IQM])B(\d+)$`)
	reWord   = regexp.MustCompile(`^([IQM])W(\d+)$`)
	reDWord  = regexp.MustCompile(`^([IQM])D(\d+)$`)
	reDBWord = regexp.MustCompile(`^DB(\d+)\.DB([BWD])(\d+)$`)
	reDBBit  = regexp.MustCompile(`^DB(\d+)\.DBX(\d+)\.(\d+)$`)
	reTimer  = regexp.MustCompile(`^T(\d+)$`)
	reCount  = regexp.MustCompile(`^C(\d+)$`)

	reOPCNsString = regexp.MustCompile(`^ns=(\d+);s=(.+)$`)
	reOPCNsNum    = regexp.MustCompile(`^ns=(\d+);i=(\d+)$`)
	reOPCBareNum  = regexp.MustCompile(`^i=(\d+)$`)
)

func areaFor(letter string) MemoryArea {
	switch letter {
	case "I":
		return PE
	case "Q":
		return PA
	case "M":
		return MK
	default:
		return PE
	}
}

// Parse resolves a human-readable PLC address string into an Address
// (spec §4.2). Resolution is purely syntactic; area read-only semantics are
// enforced by the driver, not here.
func Parse(s string) (Address, error) {
	if m := reBit.FindStringSubmatch(s); m != nil {
		b, _ := strconv.Atoi(m[2])
		bit, _ := strconv.Atoi(m[3])
		if bit < 0 || bit > 7 {
			return Address{}, &AddressError{Input: s, Reason: "bit must be in [0,7]"}
		}
		return Address{Kind: KindBit, Area: areaFor(m[1]), Byte: b, Bit: bit}, nil
	}
	if m := reByte.FindStringSubmatch(s); m != nil {
		b, _ := strconv.Atoi(m[2])
		return Address{Kind: KindByte, Area: areaFor(m[1]), Byte: b}, nil
	}
	if m := reWord.FindStringSubmatch(s); m != nil {
		b, _ := strconv.Atoi(m[2])
		return Address{Kind: KindWord, Area: areaFor(m[1]), Byte: b}, nil
	}
	if m := reDWord.FindStringSubmatch(s); m != nil {
		b, _ := strconv.Atoi(m[2])
		return Address{Kind: KindDWord, Area: areaFor(m[1]), Byte: b}, nil
	}
	if m := reDBBit.FindStringSubmatch(s); m != nil {
		db, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		bit, _ := strconv.Atoi(m[3])
		if bit < 0 || bit > 7 {
			return Address{}, &AddressError{Input: s, Reason: "bit must be in [0,7]"}
		}
		return Address{Kind: KindDB, Area: DB, DB: db, Byte: b, Bit: bit, HasBit: true}, nil
	}
	if m := reDBWord.FindStringSubmatch(s); m != nil {
		db, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[3])
		width := map[string]int{"B": 1, "W": 2, "D": 4}[m[2]]
		return Address{Kind: KindDB, Area: DB, DB: db, Byte: b, dbWidth: width}, nil
	}
	if m := reTimer.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return Address{Kind: KindTimer, Area: TM, Number: n}, nil
	}
	if m := reCount.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return Address{Kind: KindCounter, Area: CT, Number: n}, nil
	}
	if m := reOPCNsString.FindStringSubmatch(s); m != nil {
		ns, _ := strconv.Atoi(m[1])
		return Address{Kind: KindOPCUANode, Namespace: ns, Identifier: m[2]}, nil
	}
	if m := reOPCNsNum.FindStringSubmatch(s); m != nil {
		ns, _ := strconv.Atoi(m[1])
		return Address{Kind: KindOPCUANode, Namespace: ns, Identifier: m[2], IsNumeric: true}, nil
	}
	if m := reOPCBareNum.FindStringSubmatch(s); m != nil {
		return Address{Kind: KindOPCUANode, Namespace: 0, Identifier: m[1], IsNumeric: true}, nil
	}
	if s != "" {
		// Bare string: OPC UA namespace-0 symbolic NodeId.
		return Address{Kind: KindOPCUANode, Namespace: 0, Identifier: s}, nil
	}
	return Address{}, &AddressError{Input: s, Reason: "unrecognized address format"}
}
