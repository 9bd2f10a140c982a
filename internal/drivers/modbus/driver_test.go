package modbus

import (
	"context"
	"errors"
	"testing"

	"github.com/plcgateway/gateway/internal/canon"
	"github.com/plcgateway/gateway/internal/drivers"
	"github.com/plcgateway/gateway/internal/protoerr"
)


// fakeEndpoint is an in-memory double of endpoint, addressed by offset, for
// exercising Driver.Read/Write without a real transport.
type fakeEndpoint struct {
	holding map[uint16]uint16
	coils   map[uint16]bool
	failNext error
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{holding: map[uint16]uint16{}, coils: map[uint16]bool{}}
}

func (f *fakeEndpoint) Connect(ctx context.Context) error { return nil }
func (f *fakeEndpoint) Close() error                      { return nil }
func (f *fakeEndpoint) IsConnected() bool                 { return true }

func (f *fakeEndpoint) ReadCoils(ctx context.Context, addr, qty uint16) ([]bool, error) {
	out := make([]bool, qty)
	for i := range out {
		out[i] = f.coils[addr+uint16(i)]
	}
	return out, nil
}

func (f *fakeEndpoint) ReadDiscreteInputs(ctx context.Context, addr, qty uint16) ([]bool, error) {
	return f.ReadCoils(ctx, addr, qty)
}

func (f *fakeEndpoint) ReadHoldingRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	out := make([]uint16, qty)
	for i := range out {
		out[i] = f.holding[addr+uint16(i)]
	}
	return out, nil
}

func (f *fakeEndpoint) ReadInputRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	return f.ReadHoldingRegisters(ctx, addr, qty)
}

func (f *fakeEndpoint) WriteSingleCoil(ctx context.Context, addr uint16, value bool) error {
	f.coils[addr] = value
	return nil
}

func (f *fakeEndpoint) WriteSingleRegister(ctx context.Context, addr, value uint16) error {
	f.holding[addr] = value
	return nil
}

func (f *fakeEndpoint) WriteMultipleCoils(ctx context.Context, addr uint16, values []bool) error {
	for i, v := range values {
		f.coils[addr+uint16(i)] = v
	}
	return nil
}

func (f *fakeEndpoint) WriteMultipleRegisters(ctx context.Context, addr uint16, values []uint16) error {
	for i, v := range values {
		f.holding[addr+uint16(i)] = v
	}
	return nil
}

func TestDriverReadWriteMultiElementUint16(t *testing.T) {
	ep := newFakeEndpoint()
	d := NewDriver(nil, drivers.ModbusTCP)
	d.client = ep

	err := d.Write(context.Background(), drivers.WriteRequest{
		Address: "holding:10", DataType: canon.Uint16, Count: 3,
		Values: []canon.Value{canon.Uint(1), canon.Uint(2), canon.Uint(3)},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	vs, err := d.Read(context.Background(), drivers.ReadRequest{Address: "holding:10", DataType: canon.Uint16, Count: 3})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(vs) != 3 {
		t.Fatalf("expected 3 values, got %d", len(vs))
	}
	for i, want := range []int64{1, 2, 3} {
		got, _ := vs[i].AsInt64()
		if got != want {
			t.Fatalf("element %d = %d, want %d", i, got, want)
		}
	}
}

func TestDriverReadWriteSingleCoil(t *testing.T) {
	ep := newFakeEndpoint()
	d := NewDriver(nil, drivers.ModbusTCP)
	d.client = ep

	if err := d.Write(context.Background(), drivers.WriteRequest{Address: "coil:4", DataType: canon.Bool, Value: canon.BoolValue(true)}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	vs, err := d.Read(context.Background(), drivers.ReadRequest{Address: "coil:4", DataType: canon.Bool})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(vs) != 1 || !vs[0].B {
		t.Fatalf("expected coil:4 = true, got %+v", vs)
	}
}

func TestDriverWriteToInputTableRejected(t *testing.T) {
	ep := newFakeEndpoint()
	d := NewDriver(nil, drivers.ModbusTCP)
	d.client = ep

	err := d.Write(context.Background(), drivers.WriteRequest{Address: "input:0", DataType: canon.Uint16, Value: canon.Uint(1)})
	if err == nil {
		t.Fatal("expected error writing to read-only input table")
	}
	var addrErr *protoerr.AddressError
	if ok := errors.As(err, &addrErr); !ok {
		t.Fatalf("expected protoerr.AddressError, got %T: %v", err, err)
	}
}

func TestToProtoErrMapsExceptionTaxonomy(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want interface{}
	}{
		{"illegal address", NewModbusError(FuncReadHoldingRegisters, ExceptionIllegalDataAddress), &protoerr.AddressError{}},
		{"illegal value", NewModbusError(FuncWriteSingleRegister, ExceptionIllegalDataValue), &protoerr.DataError{}},
		{"gateway unavailable", NewModbusError(FuncReadHoldingRegisters, ExceptionGatewayPathUnavailable), &protoerr.ConnectionError{}},
		{"timeout", ErrTimeout, &protoerr.TimeoutError{}},
		{"not connected", ErrNotConnected, &protoerr.ConnectionError{}},
		{"invalid frame", ErrInvalidFrame, &protoerr.ProtocolError{}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := toProtoErr("op", "holding:0", c.err)
			switch c.want.(type) {
			case *protoerr.AddressError:
				var e *protoerr.AddressError
				if !errors.As(got, &e) {
					t.Fatalf("expected AddressError, got %T: %v", got, got)
				}
			case *protoerr.DataError:
				var e *protoerr.DataError
				if !errors.As(got, &e) {
					t.Fatalf("expected DataError, got %T: %v", got, got)
				}
			case *protoerr.ConnectionError:
				var e *protoerr.ConnectionError
				if !errors.As(got, &e) {
					t.Fatalf("expected ConnectionError, got %T: %v", got, got)
				}
			case *protoerr.TimeoutError:
				var e *protoerr.TimeoutError
				if !errors.As(got, &e) {
					t.Fatalf("expected TimeoutError, got %T: %v", got, got)
				}
			case *protoerr.ProtocolError:
				var e *protoerr.ProtocolError
				if !errors.As(got, &e) {
					t.Fatalf("expected ProtocolError, got %T: %v", got, got)
				}
			}
		})
	}
}

func TestDriverReadWrapsWireFailureAsProtoErr(t *testing.T) {
	ep := newFakeEndpoint()
	ep.failNext = NewModbusError(FuncReadHoldingRegisters, ExceptionIllegalDataAddress)
	d := NewDriver(nil, drivers.ModbusTCP)
	d.client = ep

	_, err := d.Read(context.Background(), drivers.ReadRequest{Address: "holding:0", DataType: canon.Uint16})
	var addrErr *protoerr.AddressError
	if !errors.As(err, &addrErr) {
		t.Fatalf("expected Driver.Read to surface a protoerr.AddressError, got %T: %v", err, err)
	}
}
