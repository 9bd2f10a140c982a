// Package s7 drives Siemens S7 PLCs over rack/slot ISO-on-TCP, wrapping
// github.com/robinson/gos7 behind the gateway's common Driver interface.
// Area dispatch and address resolution are shared with Profibus-DP via
// internal/addr; only the connection parameters differ.
package s7

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robinson/gos7"

	"github.com/plcgateway/gateway/internal/addr"
	"github.com/plcgateway/gateway/internal/canon"
	"github.com/plcgateway/gateway/internal/drivers"
	"github.com/plcgateway/gateway/internal/protoerr"
)

// Config names the connection parameters for one CPU (spec §3).
type Config struct {
	Host string
	Rack int
	Slot int
}

// CPUInfo mirrors the module/order-code identity block returned by an SZL
// read (spec §3.2), ported from s7.py's get_cpu_info.
type CPUInfo struct {
	ModuleTypeName string
	SerialNumber   string
	ASName         string
	Copyright      string
	ModuleName     string
}

// Driver implements drivers.Driver for a single S7 CPU connection.
type Driver struct {
	cfg Config

	mu        sync.Mutex
	connected bool
	handler   *gos7.TCPClientHandler
	client    gos7.Client
}

// New builds an unconnected S7 driver for the given rack/slot.
func New(cfg Config) *Driver {
	return &Driver{cfg: cfg}
}

func (d *Driver) Kind() drivers.ProtocolKind { return drivers.S7 }

func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected {
		return nil
	}

	handler := gos7.NewTCPClientHandler(d.cfg.Host, d.cfg.Rack, d.cfg.Slot)
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining > 0 {
			handler.Timeout = remaining
		}
	}
	if err := handler.Connect(); err != nil {
		return &protoerr.ConnectionError{Op: "connect", Host: d.cfg.Host, Err: err}
	}

	d.handler = handler
	d.client = gos7.NewClient(handler)
	d.connected = true
	return nil
}

func (d *Driver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil
	}
	d.connected = false
	return d.handler.Close()
}

func (d *Driver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *Driver) Ping(ctx context.Context) error {
	if !d.IsConnected() {
		return protoerr.ErrNotConnected
	}
	buf := make([]byte, 1)
	return d.client.AGReadMK(0, 1, buf)
}

// readArea dispatches a resolved Address onto gos7's per-area AGRead*
// helper (inputs, outputs, markers, data blocks, timers, counters).
func (d *Driver) readArea(a addr.Address, width int) ([]byte, error) {
	buf := make([]byte, width)
	var err error
	switch a.Area {
	case addr.PE:
		err = d.client.AGReadEB(a.Byte, width, buf)
	case addr.PA:
		err = d.client.AGReadAB(a.Byte, width, buf)
	case addr.MK:
		err = d.client.AGReadMK(a.Byte, width, buf)
	case addr.DB:
		err = d.client.AGReadDB(a.DB, a.Byte, width, buf)
	case addr.TM:
		err = d.client.AGReadTM(a.Number, 1, buf)
	case addr.CT:
		err = d.client.AGReadCT(a.Number, 1, buf)
	default:
		return nil, &protoerr.AddressError{Address: a.String(), Reason: "area not readable via ReadArea"}
	}
	if err != nil {
		return nil, &protoerr.CommunicationError{Op: "read_area", Detail: err.Error()}
	}
	return buf, nil
}

func (d *Driver) writeArea(a addr.Address, data []byte) error {
	var err error
	switch a.Area {
	case addr.PA:
		err = d.client.AGWriteAB(a.Byte, len(data), data)
	case addr.MK:
		err = d.client.AGWriteMK(a.Byte, len(data), data)
	case addr.DB:
		err = d.client.AGWriteDB(a.DB, a.Byte, len(data), data)
	case addr.TM:
		err = d.client.AGWriteTM(a.Number, 1, data)
	case addr.CT:
		err = d.client.AGWriteCT(a.Number, 1, data)
	default:
		return &protoerr.AddressError{Address: a.String(), Reason: "area is read-only or not writable via WriteArea"}
	}
	if err != nil {
		return &protoerr.CommunicationError{Op: "write_area", Detail: err.Error()}
	}
	return nil
}

// Read implements drivers.Driver. req.Count consecutive dt-wide elements are
// read as one contiguous byte_area of length_bytes = width(dt) * count (spec
// §4.1); bit addresses never carry Count > 1 since a single bit has no
// natural stride.
func (d *Driver) Read(ctx context.Context, req drivers.ReadRequest) ([]canon.Value, error) {
	a, err := addr.Parse(req.Address)
	if err != nil {
		return nil, err
	}
	if a.Kind == addr.KindBit || (a.Kind == addr.KindDB && a.HasBit) {
		raw, err := d.readArea(a, 1)
		if err != nil {
			return nil, err
		}
		bit := (raw[0]>>uint(a.Bit))&1 == 1
		return []canon.Value{canon.BoolValue(bit)}, nil
	}

	count := req.Count
	if count < 1 {
		count = 1
	}
	width := req.DataType.Width()
	if width == 0 {
		width = a.Width()
	}
	raw, err := d.readArea(a, width*count)
	if err != nil {
		return nil, err
	}
	values, decErr := canon.DecodeMany(raw, req.DataType, count)
	if decErr != nil {
		return values, fmt.Errorf("s7: decode %s: %w", req.Address, decErr)
	}
	return values, nil
}

func (d *Driver) Write(ctx context.Context, req drivers.WriteRequest) error {
	a, err := addr.Parse(req.Address)
	if err != nil {
		return err
	}
	if a.Area.ReadOnly() {
		return &protoerr.AddressError{Address: req.Address, Reason: "area is read-only"}
	}
	if a.Kind == addr.KindBit || (a.Kind == addr.KindDB && a.HasBit) {
		cur, err := d.readArea(a, 1)
		if err != nil {
			return err
		}
		if req.Value.B {
			cur[0] |= 1 << uint(a.Bit)
		} else {
			cur[0] &^= 1 << uint(a.Bit)
		}
		return d.writeArea(a, cur)
	}

	values := req.Values
	if req.Count <= 1 {
		values = []canon.Value{req.Value}
	}
	data, err := canon.EncodeMany(values, req.DataType)
	if err != nil {
		return err
	}
	return d.writeArea(a, data)
}

func (d *Driver) ReadMany(ctx context.Context, reqs []drivers.ReadRequest) ([]canon.Value, error) {
	out := make([]canon.Value, 0, len(reqs))
	for i, r := range reqs {
		v, err := d.Read(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("s7: batch read[%d] %s: %w", i, r.Address, err)
		}
		out = append(out, v...)
	}
	return out, nil
}

func (d *Driver) WriteMany(ctx context.Context, reqs []drivers.WriteRequest) error {
	for i, r := range reqs {
		if err := d.Write(ctx, r); err != nil {
			return fmt.Errorf("s7: batch write[%d] %s: %w", i, r.Address, err)
		}
	}
	return nil
}

// CPUInfo reads the SZL-based identity block (spec §3.2), ported from
// s7.py's get_cpu_info.
func (d *Driver) CPUInfo(ctx context.Context) (CPUInfo, error) {
	if !d.IsConnected() {
		return CPUInfo{}, protoerr.ErrNotConnected
	}
	info, err := d.client.GetCPUInfo()
	if err != nil {
		return CPUInfo{}, &protoerr.CommunicationError{Op: "cpu_info", Detail: err.Error()}
	}
	return CPUInfo{
		ModuleTypeName: info.ModuleTypeName,
		SerialNumber:   info.SerialNumber,
		ASName:         info.ASName,
		Copyright:      info.Copyright,
		ModuleName:     info.ModuleName,
	}, nil
}

// PLCStatus reads the CPU run/stop status word.
func (d *Driver) PLCStatus(ctx context.Context) (string, error) {
	if !d.IsConnected() {
		return "", protoerr.ErrNotConnected
	}
	status, err := d.client.PLCGetStatus()
	if err != nil {
		return "", &protoerr.CommunicationError{Op: "plc_status", Detail: err.Error()}
	}
	return status, nil
}
