// Package vfd implements a canonical control/status facade over a
// variable-frequency drive's register map, with manufacturer-specific
// overrides and a background status monitor, ported from
// vfd_communication.py's VFDCommunication/VFDConfig.
package vfd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/plcgateway/gateway/internal/canon"
	"github.com/plcgateway/gateway/internal/drivers"
)

// RegisterMap names the driver-side addresses for the canonical VFD control
// surface (spec §3.1). Values are Modbus-style "table:offset" or any other
// address grammar the underlying Driver accepts.
type RegisterMap struct {
	StartCommand       string
	StopCommand        string
	FaultReset         string
	FrequencySetpoint  string
	SpeedSetpoint      string
	TorqueSetpoint     string
	OutputFrequency    string
	OutputSpeed        string
	OutputCurrent      string
	OutputVoltage      string
	OutputPower        string
	OutputTorque       string
	Status             string
	FaultCode          string
	WarningCode        string
	MotorTemperature   string
	DriveTemperature   string
}

// defaultRegisterMap is the common Modbus holding-register convention most
// VFDs expose; manufacturer overrides replace individual fields.
func defaultRegisterMap() RegisterMap {
	return RegisterMap{
		StartCommand:      "holding:0",
		StopCommand:       "holding:1",
		FaultReset:        "holding:2",
		FrequencySetpoint: "holding:3",
		SpeedSetpoint:     "holding:4",
		TorqueSetpoint:    "holding:5",
		OutputFrequency:   "holding:6",
		OutputSpeed:       "holding:7",
		OutputCurrent:     "holding:8",
		OutputVoltage:     "holding:9",
		OutputPower:       "holding:10",
		OutputTorque:      "holding:11",
		Status:            "holding:12",
		FaultCode:         "holding:13",
		WarningCode:       "holding:14",
		MotorTemperature:  "holding:15",
		DriveTemperature:  "holding:16",
	}
}

// ControlMode names who is driving the VFD's setpoint (spec §3.1).
type ControlMode int

const (
	ControlLocal ControlMode = iota
	ControlRemote
	ControlAuto
)

func (m ControlMode) String() string {
	switch m {
	case ControlRemote:
		return "remote"
	case ControlAuto:
		return "auto"
	default:
		return "local"
	}
}

// Config names a VFD's connection, register map and nameplate limits (spec
// §3.1). Manufacturer is a lookup key into a table of RegisterMap overrides;
// unrecognized manufacturers fall back to defaultRegisterMap().
type Config struct {
	Manufacturer        string
	Model               string
	RegisterMapOverride *RegisterMap
	MonitorInterval     time.Duration

	MaxFrequencyHz  float64
	MinFrequencyHz  float64
	PowerRatingKW   float64
	NominalCurrentA float64
	ControlMode     ControlMode
}

// manufacturerOverrides holds known register-map deltas by manufacturer
// name (spec §4.6: "register_map_overrides").
var manufacturerOverrides = map[string]RegisterMap{
	"abb": {
		StartCommand: "holding:100", StopCommand: "holding:101", FaultReset: "holding:102",
		FrequencySetpoint: "holding:103", SpeedSetpoint: "holding:104", TorqueSetpoint: "holding:105",
		OutputFrequency: "holding:106", OutputSpeed: "holding:107", OutputCurrent: "holding:108",
		OutputVoltage: "holding:109", OutputPower: "holding:110", OutputTorque: "holding:111",
		Status: "holding:112", FaultCode: "holding:113", WarningCode: "holding:114",
		MotorTemperature: "holding:115", DriveTemperature: "holding:116",
	},
	"danfoss": {
		StartCommand: "holding:0", StopCommand: "holding:1", FaultReset: "holding:2",
		FrequencySetpoint: "holding:3", SpeedSetpoint: "holding:4", TorqueSetpoint: "holding:5",
		OutputFrequency: "holding:10", OutputSpeed: "holding:11", OutputCurrent: "holding:12",
		OutputVoltage: "holding:13", OutputPower: "holding:14", OutputTorque: "holding:15",
		Status: "holding:20", FaultCode: "holding:21", WarningCode: "holding:22",
		MotorTemperature: "holding:23", DriveTemperature: "holding:24",
	},
}

func resolveRegisterMap(cfg Config) RegisterMap {
	if cfg.RegisterMapOverride != nil {
		return *cfg.RegisterMapOverride
	}
	if m, ok := manufacturerOverrides[cfg.Manufacturer]; ok {
		return m
	}
	return defaultRegisterMap()
}

// Status bit layout of the canonical status word (spec §4.6), priority
// ordered Fault > Warning > Running > Accelerating > Decelerating > Ready >
// Stopped when decoding a display state.
const (
	bitFault = 1 << iota
	bitWarning
	bitRunning
	bitAccelerating
	bitDecelerating
	bitReady
	bitStopped
)

// State names the priority-decoded display state of a VFD.
type State int

const (
	StateFault State = iota
	StateWarning
	StateRunning
	StateAccelerating
	StateDecelerating
	StateReady
	StateStopped
	StateUnknown
)

func (s State) String() string {
	switch s {
	case StateFault:
		return "fault"
	case StateWarning:
		return "warning"
	case StateRunning:
		return "running"
	case StateAccelerating:
		return "accelerating"
	case StateDecelerating:
		return "decelerating"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// decodeStatus applies the fixed priority order to a raw status word.
func decodeStatus(word uint16) State {
	switch {
	case word&bitFault != 0:
		return StateFault
	case word&bitWarning != 0:
		return StateWarning
	case word&bitRunning != 0:
		return StateRunning
	case word&bitAccelerating != 0:
		return StateAccelerating
	case word&bitDecelerating != 0:
		return StateDecelerating
	case word&bitReady != 0:
		return StateReady
	case word&bitStopped != 0:
		return StateStopped
	default:
		return StateUnknown
	}
}

// VFDParameters is the feedback snapshot read in parallel from the drive
// (spec §3.1): output_frequency, output_speed, output_current,
// output_voltage, output_power, output_torque, motor_temperature,
// drive_temperature. A field that fails to read on a given fan-out retains
// whatever value the last successful read left it at.
type VFDParameters struct {
	OutputFrequency  float64
	OutputSpeed      float64
	OutputCurrent    float64
	OutputVoltage    float64
	OutputPower      float64
	OutputTorque     float64
	MotorTemperature float64
	DriveTemperature float64
}

// Status is a point-in-time snapshot of a VFD's operating condition.
type Status struct {
	State       State
	FaultCode   int
	WarningCode int
	VFDParameters
}

// Facade wraps a Driver with VFD-specific control/status operations.
type Facade struct {
	driver drivers.Driver
	regs   RegisterMap
	cfg    Config
	logger *slog.Logger

	mu             sync.Mutex
	params         VFDParameters
	onStatusChange func(Status)
	onFault        func(Status)
	lastState      State
	stopCh         chan struct{}
}

// New wraps driver with the register map resolved from cfg.
func New(driver drivers.Driver, cfg Config) *Facade {
	return &Facade{
		driver:    driver,
		regs:      resolveRegisterMap(cfg),
		cfg:       cfg,
		logger:    slog.Default(),
		lastState: StateUnknown,
	}
}

// OnStatusChange registers a callback invoked whenever the decoded display
// state changes between monitor ticks.
func (f *Facade) OnStatusChange(cb func(Status)) { f.onStatusChange = cb }

// OnFault registers a callback invoked whenever the decoded state is Fault.
func (f *Facade) OnFault(cb func(Status)) { f.onFault = cb }

func (f *Facade) Start(ctx context.Context) error {
	if f.cfg.MonitorInterval <= 0 {
		f.cfg.MonitorInterval = time.Second
	}
	f.mu.Lock()
	f.stopCh = make(chan struct{})
	f.mu.Unlock()
	go f.monitorLoop(ctx)
	return nil
}

func (f *Facade) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopCh != nil {
		close(f.stopCh)
		f.stopCh = nil
	}
}

func (f *Facade) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		case <-ticker.C:
			st, err := f.ReadStatus(ctx)
			if err != nil {
				f.logger.Warn("vfd status read failed", slog.String("error", err.Error()))
				continue
			}
			f.mu.Lock()
			changed := st.State != f.lastState
			f.lastState = st.State
			f.mu.Unlock()
			if changed && f.onStatusChange != nil {
				f.onStatusChange(st)
			}
			if st.State == StateFault && f.onFault != nil {
				f.onFault(st)
			}
		}
	}
}

// StartMotor commands the VFD to run by writing 1 to the dedicated
// start-command register (spec §3.1 splits start/stop/fault-reset into independent
// registers rather than one collapsed control word).
func (f *Facade) StartMotor(ctx context.Context) error {
	return f.driver.Write(ctx, drivers.WriteRequest{
		Address: f.regs.StartCommand, DataType: canon.Uint16, Value: canon.Uint(1),
	})
}

// StopMotor commands the VFD to stop.
func (f *Facade) StopMotor(ctx context.Context) error {
	return f.driver.Write(ctx, drivers.WriteRequest{
		Address: f.regs.StopCommand, DataType: canon.Uint16, Value: canon.Uint(1),
	})
}

// SetFrequency writes a commanded output frequency in Hz, rejecting anything
// outside [0, MaxFrequencyHz] (or [MinFrequencyHz, MaxFrequencyHz] when a
// nonzero floor is configured) rather than forwarding an out-of-range
// setpoint to the drive (spec §3.1 "0 <= hz <= max_frequency").
func (f *Facade) SetFrequency(ctx context.Context, hz float64) error {
	lo := f.cfg.MinFrequencyHz
	if lo < 0 {
		lo = 0
	}
	if hz < lo {
		return fmt.Errorf("vfd: frequency %.2f Hz below minimum %.2f Hz", hz, lo)
	}
	if f.cfg.MaxFrequencyHz > 0 && hz > f.cfg.MaxFrequencyHz {
		return fmt.Errorf("vfd: frequency %.2f Hz exceeds maximum %.2f Hz", hz, f.cfg.MaxFrequencyHz)
	}
	return f.driver.Write(ctx, drivers.WriteRequest{
		Address: f.regs.FrequencySetpoint, DataType: canon.Float32, Value: canon.Float(hz),
	})
}

// SetSpeed writes a commanded speed in RPM.
func (f *Facade) SetSpeed(ctx context.Context, rpm float64) error {
	return f.driver.Write(ctx, drivers.WriteRequest{
		Address: f.regs.SpeedSetpoint, DataType: canon.Float32, Value: canon.Float(rpm),
	})
}

// SetTorque writes a commanded torque setpoint (percent of rated torque).
func (f *Facade) SetTorque(ctx context.Context, percent float64) error {
	return f.driver.Write(ctx, drivers.WriteRequest{
		Address: f.regs.TorqueSetpoint, DataType: canon.Float32, Value: canon.Float(percent),
	})
}

// ResetFault clears a latched fault by pulsing the fault-reset register.
func (f *Facade) ResetFault(ctx context.Context) error {
	if err := f.driver.Write(ctx, drivers.WriteRequest{
		Address: f.regs.FaultReset, DataType: canon.Uint16, Value: canon.Uint(1),
	}); err != nil {
		return err
	}
	return f.driver.Write(ctx, drivers.WriteRequest{
		Address: f.regs.FaultReset, DataType: canon.Uint16, Value: canon.Uint(0),
	})
}

// ReadStatus reads the status/fault/warning words plus every feedback
// parameter, priority-decodes the display state, and returns the combined
// snapshot.
func (f *Facade) ReadStatus(ctx context.Context) (Status, error) {
	var word, fault, warning int64
	var wordErr, faultErr, warnErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vs, err := f.driver.Read(gctx, drivers.ReadRequest{Address: f.regs.Status, DataType: canon.Uint16})
		if err != nil {
			wordErr = err
			return nil
		}
		word, _ = vs[0].AsInt64()
		return nil
	})
	g.Go(func() error {
		vs, err := f.driver.Read(gctx, drivers.ReadRequest{Address: f.regs.FaultCode, DataType: canon.Uint16})
		if err != nil {
			faultErr = err
			return nil
		}
		fault, _ = vs[0].AsInt64()
		return nil
	})
	g.Go(func() error {
		vs, err := f.driver.Read(gctx, drivers.ReadRequest{Address: f.regs.WarningCode, DataType: canon.Uint16})
		if err != nil {
			warnErr = err
			return nil
		}
		warning, _ = vs[0].AsInt64()
		return nil
	})
	g.Wait()

	if wordErr != nil {
		return Status{}, wordErr
	}
	if faultErr != nil {
		return Status{}, faultErr
	}
	if warnErr != nil {
		return Status{}, warnErr
	}

	params := f.ReadParameters(ctx)

	return Status{
		State:         decodeStatus(uint16(word)),
		FaultCode:     int(fault),
		WarningCode:   int(warning),
		VFDParameters: params,
	}, nil
}

// ReadParameters fans out a read of every feedback register in parallel
// (spec §4.6 "read_parameters"). A field whose individual read fails
// retains its previous value rather than zeroing out or aborting the whole
// snapshot — this is the behavior the single sequential ReadStatus used to
// get wrong by returning on the first error and discarding everything else.
func (f *Facade) ReadParameters(ctx context.Context) VFDParameters {
	f.mu.Lock()
	params := f.params
	f.mu.Unlock()

	type fieldSpec struct {
		address string
		assign  func(*VFDParameters, float64)
	}
	fields := []fieldSpec{
		{f.regs.OutputFrequency, func(p *VFDParameters, v float64) { p.OutputFrequency = v }},
		{f.regs.OutputSpeed, func(p *VFDParameters, v float64) { p.OutputSpeed = v }},
		{f.regs.OutputCurrent, func(p *VFDParameters, v float64) { p.OutputCurrent = v }},
		{f.regs.OutputVoltage, func(p *VFDParameters, v float64) { p.OutputVoltage = v }},
		{f.regs.OutputPower, func(p *VFDParameters, v float64) { p.OutputPower = v }},
		{f.regs.OutputTorque, func(p *VFDParameters, v float64) { p.OutputTorque = v }},
		{f.regs.MotorTemperature, func(p *VFDParameters, v float64) { p.MotorTemperature = v }},
		{f.regs.DriveTemperature, func(p *VFDParameters, v float64) { p.DriveTemperature = v }},
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, fs := range fields {
		fs := fs
		g.Go(func() error {
			vs, err := f.driver.Read(gctx, drivers.ReadRequest{Address: fs.address, DataType: canon.Float32})
			if err != nil {
				f.logger.Warn("vfd feedback read failed, retaining previous value",
					slog.String("address", fs.address), slog.String("error", err.Error()))
				return nil
			}
			v, _ := vs[0].AsFloat64()
			mu.Lock()
			fs.assign(&params, v)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	f.mu.Lock()
	f.params = params
	f.mu.Unlock()
	return params
}
