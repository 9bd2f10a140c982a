package modbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/plcgateway/gateway/internal/drivers/modbus/internal/transport"
)

// RTUClient is a Modbus RTU client over a serial line, the transport-level
// sibling of Client (TCP). It reuses the same PDU builders/parsers from
// protocol.go — only the framing (address byte + CRC16 instead of an MBAP
// header) differs.
type RTUClient struct {
	unitID UnitID
	rtu    *transport.RTUTransport
	logger *slog.Logger

	mu    sync.Mutex
	state ConnectionState
}

// NewRTUClient opens a Modbus RTU client on portName (e.g. "/dev/ttyUSB0")
// talking to the given slave unit ID at the given baud rate.
func NewRTUClient(portName string, unitID UnitID, baud int, timeout time.Duration) *RTUClient {
	return &RTUClient{
		unitID: unitID,
		rtu:    transport.NewRTUTransport(portName, baud, timeout),
		logger: slog.Default(),
		state:  StateDisconnected,
	}
}

func (c *RTUClient) Connect(ctx context.Context) error {
	if err := c.rtu.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.state = StateConnected
	c.mu.Unlock()
	return nil
}

func (c *RTUClient) Close() error {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	return c.rtu.Close()
}

func (c *RTUClient) IsConnected() bool { return c.rtu.IsConnected() }

func (c *RTUClient) roundTrip(ctx context.Context, pdu []byte) ([]byte, error) {
	if !c.rtu.IsConnected() {
		return nil, ErrNotConnected
	}
	resp, err := c.rtu.SendUnitFrame(ctx, byte(c.unitID), pdu)
	if err != nil {
		return nil, err
	}
	if IsExceptionResponse(resp) {
		return nil, ParseExceptionResponse(resp)
	}
	if len(resp) > 0 && FunctionCode(resp[0]) != FunctionCode(pdu[0]) {
		return nil, fmt.Errorf("%w: function code mismatch (expected %02X, got %02X)",
			ErrInvalidResponse, pdu[0], resp[0])
	}
	return resp, nil
}

func (c *RTUClient) ReadCoils(ctx context.Context, addr, qty uint16) ([]bool, error) {
	pdu, err := BuildReadCoilsPDU(addr, qty)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, pdu)
	if err != nil {
		return nil, err
	}
	return ParseCoilsResponse(resp, qty)
}

func (c *RTUClient) ReadDiscreteInputs(ctx context.Context, addr, qty uint16) ([]bool, error) {
	pdu, err := BuildReadDiscreteInputsPDU(addr, qty)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, pdu)
	if err != nil {
		return nil, err
	}
	return ParseCoilsResponse(resp, qty)
}

func (c *RTUClient) ReadHoldingRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	pdu, err := BuildReadHoldingRegistersPDU(addr, qty)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, pdu)
	if err != nil {
		return nil, err
	}
	return ParseRegistersResponse(resp, qty)
}

func (c *RTUClient) ReadInputRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	pdu, err := BuildReadInputRegistersPDU(addr, qty)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, pdu)
	if err != nil {
		return nil, err
	}
	return ParseRegistersResponse(resp, qty)
}

func (c *RTUClient) WriteSingleCoil(ctx context.Context, addr uint16, value bool) error {
	pdu := BuildWriteSingleCoilPDU(addr, value)
	expected := CoilOff
	if value {
		expected = CoilOn
	}
	resp, err := c.roundTrip(ctx, pdu)
	if err != nil {
		return err
	}
	return ParseWriteResponse(resp, addr, expected)
}

func (c *RTUClient) WriteSingleRegister(ctx context.Context, addr, value uint16) error {
	pdu := BuildWriteSingleRegisterPDU(addr, value)
	resp, err := c.roundTrip(ctx, pdu)
	if err != nil {
		return err
	}
	return ParseWriteResponse(resp, addr, value)
}

func (c *RTUClient) WriteMultipleCoils(ctx context.Context, addr uint16, values []bool) error {
	pdu, err := BuildWriteMultipleCoilsPDU(addr, values)
	if err != nil {
		return err
	}
	resp, err := c.roundTrip(ctx, pdu)
	if err != nil {
		return err
	}
	return ParseWriteMultipleResponse(resp, addr, uint16(len(values)))
}

func (c *RTUClient) WriteMultipleRegisters(ctx context.Context, addr uint16, values []uint16) error {
	pdu, err := BuildWriteMultipleRegistersPDU(addr, values)
	if err != nil {
		return err
	}
	resp, err := c.roundTrip(ctx, pdu)
	if err != nil {
		return err
	}
	return ParseWriteMultipleResponse(resp, addr, uint16(len(values)))
}
