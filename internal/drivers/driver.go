// Package drivers defines the protocol-independent driver contract that
// every protocol package (modbus, s7, profibus, ethernetip, opcua)
// implements, plus the ConnectionSupervisor that wraps a Driver with
// heartbeat, reconnect-with-backoff and running statistics — generalized
// from the teacher's single-protocol Client in client.go.
package drivers

import (
	"context"
	"time"

	"github.com/plcgateway/gateway/internal/canon"
)

// ProtocolKind names the wire protocol a Driver speaks.
type ProtocolKind int

const (
	ModbusTCP ProtocolKind = iota
	ModbusRTU
	S7
	ProfibusDP
	EthernetIP
	OPCUA
)

func (k ProtocolKind) String() string {
	switch k {
	case ModbusTCP:
		return "modbus_tcp"
	case ModbusRTU:
		return "modbus_rtu"
	case S7:
		return "s7"
	case ProfibusDP:
		return "profibus_dp"
	case EthernetIP:
		return "ethernet_ip"
	case OPCUA:
		return "opcua"
	default:
		return "unknown"
	}
}

// ConnectionState is the five-state connection lifecycle of spec §4.4. This
// supersedes the teacher's three-state ConnectionState (types.go): the
// supervisor distinguishes a terminal Error from a Reconnecting backoff
// loop, and Disconnected is only ever reached by explicit Disconnect() or by
// exhausting reconnect attempts.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ReadRequest names a resolved tag to read. Count is the number of
// consecutive dt-wide elements to read starting at Address (spec §4.1);
// Count <= 1 means a single element. TimeoutMS, when nonzero, overrides the
// node's configured timeout for this one operation.
type ReadRequest struct {
	Address   string
	DataType  canon.DataType
	Count     int
	TimeoutMS int
}

// WriteRequest names a resolved tag and the value(s) to write. A single-
// element write populates Value; a multi-element write (Count > 1) populates
// Values instead, one entry per element, in address order.
type WriteRequest struct {
	Address   string
	DataType  canon.DataType
	Value     canon.Value
	Values    []canon.Value
	Count     int
	TimeoutMS int
}

// ProtocolStatus reports point-in-time health for a driver, surfaced by the
// supervisor and by the HTTP status endpoint (spec §6 GET /api/plc/status).
type ProtocolStatus struct {
	Protocol       ProtocolKind
	State          ConnectionState
	LastError      string
	LastSuccessAt  time.Time
	Reconnects     int64
	MeanLatencyMS  float64
	SampleCount    int64
}

// Driver is the protocol-independent contract every protocol package
// implements, generalizing the teacher's Client (Connect/Close/Read*/
// Write*) to a single-value and batch shape shared across S7, Modbus,
// Profibus, EtherNet/IP and OPC UA.
type Driver interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Ping(ctx context.Context) error

	Read(ctx context.Context, req ReadRequest) ([]canon.Value, error)
	Write(ctx context.Context, req WriteRequest) error
	ReadMany(ctx context.Context, reqs []ReadRequest) ([]canon.Value, error)
	WriteMany(ctx context.Context, reqs []WriteRequest) error

	Kind() ProtocolKind
	IsConnected() bool
}
