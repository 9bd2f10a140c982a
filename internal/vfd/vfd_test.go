package vfd

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/plcgateway/gateway/internal/canon"
	"github.com/plcgateway/gateway/internal/drivers"
)

// fakeDriver is an address-keyed in-memory Driver double that can be told to
// fail reads of specific addresses, for exercising ReadParameters' per-field
// error tolerance.
type fakeDriver struct {
	mu      sync.Mutex
	values  map[string]canon.Value
	failing map[string]bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{values: map[string]canon.Value{}, failing: map[string]bool{}}
}

func (d *fakeDriver) Connect(ctx context.Context) error { return nil }
func (d *fakeDriver) Disconnect() error                 { return nil }
func (d *fakeDriver) Ping(ctx context.Context) error     { return nil }
func (d *fakeDriver) Kind() drivers.ProtocolKind         { return drivers.ModbusTCP }
func (d *fakeDriver) IsConnected() bool                  { return true }

func (d *fakeDriver) Read(ctx context.Context, req drivers.ReadRequest) ([]canon.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing[req.Address] {
		return nil, errors.New("fake read failure")
	}
	return []canon.Value{d.values[req.Address]}, nil
}

func (d *fakeDriver) Write(ctx context.Context, req drivers.WriteRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[req.Address] = req.Value
	return nil
}

func (d *fakeDriver) ReadMany(ctx context.Context, reqs []drivers.ReadRequest) ([]canon.Value, error) {
	return nil, nil
}
func (d *fakeDriver) WriteMany(ctx context.Context, reqs []drivers.WriteRequest) error { return nil }

func (d *fakeDriver) set(addr string, v canon.Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[addr] = v
}

func (d *fakeDriver) setFailing(addr string, fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing[addr] = fail
}

func (d *fakeDriver) get(addr string) canon.Value {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[addr]
}

func TestDecodeStatusPriorityOrder(t *testing.T) {
	cases := []struct {
		word uint16
		want State
	}{
		{bitFault | bitRunning, StateFault},
		{bitWarning | bitRunning, StateWarning},
		{bitRunning | bitAccelerating, StateRunning},
		{bitAccelerating, StateAccelerating},
		{bitDecelerating, StateDecelerating},
		{bitReady, StateReady},
		{bitStopped, StateStopped},
		{0, StateUnknown},
	}
	for _, c := range cases {
		if got := decodeStatus(c.word); got != c.want {
			t.Errorf("decodeStatus(%#x) = %v, want %v", c.word, got, c.want)
		}
	}
}

func TestResolveRegisterMapFallsBackToDefault(t *testing.T) {
	m := resolveRegisterMap(Config{Manufacturer: "unknown-brand"})
	if m != defaultRegisterMap() {
		t.Fatalf("expected default register map for unknown manufacturer")
	}
}

func TestResolveRegisterMapAppliesManufacturerOverride(t *testing.T) {
	m := resolveRegisterMap(Config{Manufacturer: "abb"})
	if m.StartCommand != "holding:100" {
		t.Fatalf("expected ABB override, got %+v", m)
	}
}

func TestResolveRegisterMapExplicitOverrideWins(t *testing.T) {
	custom := RegisterMap{StartCommand: "holding:999"}
	m := resolveRegisterMap(Config{Manufacturer: "abb", RegisterMapOverride: &custom})
	if m.StartCommand != "holding:999" {
		t.Fatalf("expected explicit override to win, got %+v", m)
	}
}

func TestReadParametersRetainsPreviousValueOnIndividualFailure(t *testing.T) {
	d := newFakeDriver()
	f := New(d, Config{})

	d.set(f.regs.OutputFrequency, canon.Float(50))
	d.set(f.regs.OutputCurrent, canon.Float(12))
	first := f.ReadParameters(context.Background())
	if first.OutputFrequency != 50 || first.OutputCurrent != 12 {
		t.Fatalf("unexpected initial parameters: %+v", first)
	}

	d.setFailing(f.regs.OutputCurrent, true)
	d.set(f.regs.OutputFrequency, canon.Float(60))
	second := f.ReadParameters(context.Background())
	if second.OutputFrequency != 60 {
		t.Fatalf("expected OutputFrequency to update to 60, got %v", second.OutputFrequency)
	}
	if second.OutputCurrent != 12 {
		t.Fatalf("expected OutputCurrent to retain previous value 12 on read failure, got %v", second.OutputCurrent)
	}
}

func TestSetFrequencyRejectsOutOfRange(t *testing.T) {
	d := newFakeDriver()
	f := New(d, Config{MaxFrequencyHz: 60})

	if err := f.SetFrequency(context.Background(), 70); err == nil {
		t.Fatal("expected error for frequency above max")
	}
	if err := f.SetFrequency(context.Background(), -1); err == nil {
		t.Fatal("expected error for negative frequency")
	}
	if err := f.SetFrequency(context.Background(), 45); err != nil {
		t.Fatalf("expected in-range frequency to succeed, got %v", err)
	}
	got, _ := d.get(f.regs.FrequencySetpoint).AsFloat64()
	if got != 45 {
		t.Fatalf("frequency setpoint = %v, want 45", got)
	}
}

func TestStartStopResetWriteSeparateRegisters(t *testing.T) {
	d := newFakeDriver()
	f := New(d, Config{})
	ctx := context.Background()

	if err := f.StartMotor(ctx); err != nil {
		t.Fatalf("StartMotor: %v", err)
	}
	if err := f.StopMotor(ctx); err != nil {
		t.Fatalf("StopMotor: %v", err)
	}
	if err := f.ResetFault(ctx); err != nil {
		t.Fatalf("ResetFault: %v", err)
	}

	if d.get(f.regs.StartCommand).U != 1 {
		t.Fatalf("expected StartCommand register written independently of StopCommand")
	}
	if d.get(f.regs.StopCommand).U != 1 {
		t.Fatalf("expected StopCommand register written independently of StartCommand")
	}
}
