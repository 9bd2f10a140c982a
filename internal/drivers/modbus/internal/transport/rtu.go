package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// RTUTransport implements Modbus RTU framing (address byte + PDU + CRC16)
// over a serial line, the RS-485/RS-232 counterpart to TCPTransport.
type RTUTransport struct {
	portName string
	mode     *serial.Mode
	timeout  time.Duration

	mu   sync.Mutex
	port serial.Port
}

// NewRTUTransport configures a serial transport at portName (e.g.
// "/dev/ttyUSB0") with the given baud rate and per-request timeout.
func NewRTUTransport(portName string, baud int, timeout time.Duration) *RTUTransport {
	return &RTUTransport{
		portName: portName,
		timeout:  timeout,
		mode: &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.EvenParity,
			StopBits: serial.OneStopBit,
		},
	}
}

// interFrameSilence is the minimum quiet time between frames the RTU spec
// requires (3.5 character times), used both before sending (to flush any
// trailing partial frame from the bus) and after receiving.
func (t *RTUTransport) interFrameSilence() time.Duration {
	bitsPerChar := 11.0 // start + 8 data + parity + stop
	charTime := time.Duration(bitsPerChar / float64(t.mode.BaudRate) * float64(time.Second))
	silence := charTime * 35 / 10
	if silence < time.Millisecond {
		return time.Millisecond
	}
	return silence
}

func (t *RTUTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}
	port, err := serial.Open(t.portName, t.mode)
	if err != nil {
		return fmt.Errorf("rtu connect: %w", err)
	}
	port.SetReadTimeout(t.timeout)
	t.port = port
	return nil
}

func (t *RTUTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

func (t *RTUTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// SendUnitFrame writes unitID+pdu+crc16 and reads back a complete response
// frame, validating its trailing CRC. Unlike TCP there is no length field in
// the header, so framing relies on the inter-frame silence window: a read
// that goes quiet for interFrameSilence() is treated as end-of-frame.
func (t *RTUTransport) SendUnitFrame(ctx context.Context, unitID byte, pdu []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil, fmt.Errorf("rtu: not connected")
	}

	frame := make([]byte, 0, len(pdu)+3)
	frame = append(frame, unitID)
	frame = append(frame, pdu...)
	crc := CRC16(frame)
	frame = append(frame, byte(crc&0xFF), byte(crc>>8))

	time.Sleep(t.interFrameSilence())
	if _, err := t.port.Write(frame); err != nil {
		return nil, fmt.Errorf("rtu write: %w", err)
	}

	resp, err := t.readFrame()
	if err != nil {
		return nil, err
	}
	if len(resp) < 4 {
		return nil, fmt.Errorf("rtu: short frame (%d bytes)", len(resp))
	}
	want := CRC16(resp[:len(resp)-2])
	got := uint16(resp[len(resp)-2]) | uint16(resp[len(resp)-1])<<8
	if want != got {
		return nil, fmt.Errorf("rtu: CRC mismatch (want %#04x, got %#04x)", want, got)
	}
	if resp[0] != unitID {
		return nil, fmt.Errorf("rtu: unit ID mismatch (expected %d, got %d)", unitID, resp[0])
	}
	return resp[1 : len(resp)-2], nil // strip address byte and CRC, leaving the PDU
}

func (t *RTUTransport) readFrame() ([]byte, error) {
	buf := make([]byte, 0, 256)
	chunk := make([]byte, 256)
	silence := t.interFrameSilence()
	lastRead := time.Now()

	for {
		n, err := t.port.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			lastRead = time.Now()
			continue
		}
		if err != nil {
			if len(buf) > 0 {
				return buf, nil
			}
			return nil, fmt.Errorf("rtu read: %w", err)
		}
		if len(buf) > 0 && time.Since(lastRead) >= silence {
			return buf, nil
		}
		if len(buf) == 0 {
			return nil, fmt.Errorf("rtu read: timeout waiting for response")
		}
	}
}
