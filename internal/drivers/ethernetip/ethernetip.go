// Package ethernetip drives Allen-Bradley/Rockwell PLCs over EtherNet/IP,
// hand-rolling the encapsulation header, session register/unregister, and
// CIP Read/Write Tag Service framing per the wire-format pinning in spec §6.
// No third-party EtherNet/IP client is used: the exact byte offsets here
// (session handle at bytes 4..8, CIP general status byte) are a contract the
// driver must own directly, the same choice other_examples/iceisfun-goeip
// and other_examples/tonylturner-cipdip make for the same protocol.
package ethernetip

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/plcgateway/gateway/internal/canon"
	"github.com/plcgateway/gateway/internal/drivers"
	"github.com/plcgateway/gateway/internal/protoerr"
)

const (
	cmdRegisterSession   uint16 = 0x0065
	cmdUnregisterSession uint16 = 0x0066
	cmdSendRRData        uint16 = 0x006F

	serviceReadTag  byte = 0x4C
	serviceWriteTag byte = 0x4D

	cipDataTypeBOOL   uint16 = 0x00C1
	cipDataTypeSINT   uint16 = 0x00C2
	cipDataTypeINT    uint16 = 0x00C3
	cipDataTypeDINT   uint16 = 0x00C4
	cipDataTypeREAL   uint16 = 0x00CA
)

// Config names the connection parameters for a CIP-speaking endpoint
// (spec §3): host and TCP port, default 44818.
type Config struct {
	Host string
	Port int
}

// Driver implements drivers.Driver over a hand-rolled EtherNet/IP session.
type Driver struct {
	cfg Config

	mu        sync.Mutex
	conn      net.Conn
	sessionID uint32
}

// New builds an unconnected EtherNet/IP driver.
func New(cfg Config) *Driver {
	if cfg.Port == 0 {
		cfg.Port = 44818
	}
	return &Driver{cfg: cfg}
}

func (d *Driver) Kind() drivers.ProtocolKind { return drivers.EthernetIP }

func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return nil
	}

	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &protoerr.ConnectionError{Op: "connect", Host: addr, Err: err}
	}

	sessionID, err := registerSession(conn)
	if err != nil {
		conn.Close()
		return &protoerr.ConnectionError{Op: "register_session", Host: addr, Err: err}
	}

	d.conn = conn
	d.sessionID = sessionID
	return nil
}

func (d *Driver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	unregisterSession(d.conn, d.sessionID)
	err := d.conn.Close()
	d.conn = nil
	d.sessionID = 0
	return err
}

func (d *Driver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

func (d *Driver) Ping(ctx context.Context) error {
	d.mu.Lock()
	conn, sid := d.conn, d.sessionID
	d.mu.Unlock()
	if conn == nil {
		return protoerr.ErrNotConnected
	}
	// Any round trip that reaches CIP service dispatch proves the session is
	// alive, even if the tag below does not exist on the target.
	_, err := sendCIPRequest(conn, sid, serviceReadTag, buildSymbolicPath("__heartbeat__"), nil)
	if err != nil && !isCIPStatusError(err) {
		return err
	}
	return nil
}

// encapsulation header: command(2) length(2) sessionHandle(4) status(4)
// senderContext(8) options(4), per the CIP encapsulation spec.
func writeEncapHeader(buf []byte, cmd uint16, length uint16, session uint32) {
	binary.LittleEndian.PutUint16(buf[0:2], cmd)
	binary.LittleEndian.PutUint16(buf[2:4], length)
	binary.LittleEndian.PutUint32(buf[4:8], session)
	// bytes 8:12 status, 12:20 senderContext, 20:24 options all zero
}

func registerSession(conn net.Conn) (uint32, error) {
	req := make([]byte, 24+4)
	writeEncapHeader(req, cmdRegisterSession, 4, 0)
	binary.LittleEndian.PutUint16(req[24:26], 1) // protocol version
	binary.LittleEndian.PutUint16(req[26:28], 0) // option flags

	if _, err := conn.Write(req); err != nil {
		return 0, fmt.Errorf("register session write: %w", err)
	}

	resp := make([]byte, 28)
	if err := readFull(conn, resp); err != nil {
		return 0, fmt.Errorf("register session read: %w", err)
	}
	status := binary.LittleEndian.Uint32(resp[8:12])
	if status != 0 {
		return 0, fmt.Errorf("register session status %#x", status)
	}
	sessionID := binary.LittleEndian.Uint32(resp[4:8])
	return sessionID, nil
}

func unregisterSession(conn net.Conn, sessionID uint32) {
	req := make([]byte, 24)
	writeEncapHeader(req, cmdUnregisterSession, 0, sessionID)
	conn.Write(req)
}

// buildSymbolicPath encodes an ANSI extended symbolic segment (0x91, len,
// name, pad) per CIP's path encoding, the tag-name addressing mode spec §3
// (Address) names for EtherNet/IP.
func buildSymbolicPath(tag string) []byte {
	name := []byte(tag)
	path := make([]byte, 0, len(name)+3)
	path = append(path, 0x91, byte(len(name)))
	path = append(path, name...)
	if len(name)%2 != 0 {
		path = append(path, 0) // pad to even length
	}
	return path
}

// sendCIPRequest wraps a CIP message in SendRRData's Common Packet Format
// (null address item + unconnected data item) and returns the response
// CIP service data, or an error describing a non-zero CIP general status.
func sendCIPRequest(conn net.Conn, sessionID uint32, service byte, path []byte, data []byte) ([]byte, error) {
	cip := make([]byte, 0, 8+len(path)+len(data))
	cip = append(cip, service, byte(len(path)/2))
	cip = append(cip, path...)
	cip = append(cip, data...)

	cpf := make([]byte, 0, 16+len(cip))
	cpf = append(cpf, 0, 0)    // interface handle
	cpf = append(cpf, 0, 0)    // timeout
	cpf = append(cpf, 2, 0)    // item count = 2
	cpf = append(cpf, 0, 0, 0, 0) // null address item: type 0x0000, len 0
	cpf = append(cpf, 0xB2, 0x00) // unconnected data item type
	lenBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBuf, uint16(len(cip)))
	cpf = append(cpf, lenBuf...)
	cpf = append(cpf, cip...)

	req := make([]byte, 24+len(cpf))
	writeEncapHeader(req, cmdSendRRData, uint16(len(cpf)), sessionID)
	copy(req[24:], cpf)

	if _, err := conn.Write(req); err != nil {
		return nil, fmt.Errorf("send rr data write: %w", err)
	}

	header := make([]byte, 24)
	if err := readFull(conn, header); err != nil {
		return nil, fmt.Errorf("send rr data read header: %w", err)
	}
	status := binary.LittleEndian.Uint32(header[8:12])
	if status != 0 {
		return nil, fmt.Errorf("encapsulation status %#x", status)
	}
	length := binary.LittleEndian.Uint16(header[2:4])
	body := make([]byte, length)
	if err := readFull(conn, body); err != nil {
		return nil, fmt.Errorf("send rr data read body: %w", err)
	}

	// body: interface handle(4) timeout(2) itemcount(2) addr-item(4)
	// data-item-header(4) then CIP reply: service(1) reserved(1) status(1)
	// extStatusSize(1) ...
	const cpfPrefix = 4 + 2 + 2 + 4 + 4
	if len(body) < cpfPrefix+2 {
		return nil, fmt.Errorf("short CIP reply (%d bytes)", len(body))
	}
	cipReply := body[cpfPrefix:]
	generalStatus := cipReply[2]
	if generalStatus != 0 {
		return nil, &cipStatusError{Status: generalStatus}
	}
	extSize := int(cipReply[3])
	dataStart := 4 + extSize*2
	if dataStart > len(cipReply) {
		return cipReply[4:], nil
	}
	return cipReply[dataStart:], nil
}

type cipStatusError struct{ Status byte }

func (e *cipStatusError) Error() string {
	return fmt.Sprintf("ethernetip: CIP general status %#02x", e.Status)
}

func isCIPStatusError(err error) bool {
	_, ok := err.(*cipStatusError)
	return ok
}

func readFull(conn net.Conn, buf []byte) error {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return err
		}
	}
	return nil
}

func cipTypeFor(dt canon.DataType) uint16 {
	switch dt {
	case canon.Bool:
		return cipDataTypeBOOL
	case canon.Int8, canon.Uint8:
		return cipDataTypeSINT
	case canon.Int16, canon.Uint16:
		return cipDataTypeINT
	case canon.Int32, canon.Uint32:
		return cipDataTypeDINT
	case canon.Float32:
		return cipDataTypeREAL
	default:
		return cipDataTypeDINT
	}
}

// Read implements drivers.Driver. The CIP Read Tag Service already carries an
// explicit element-count field (req data bytes 0:2); req.Count maps onto it
// directly for a contiguous array read starting at req.Address (spec §4.1).
func (d *Driver) Read(ctx context.Context, req drivers.ReadRequest) ([]canon.Value, error) {
	d.mu.Lock()
	conn, sid := d.conn, d.sessionID
	d.mu.Unlock()
	if conn == nil {
		return nil, protoerr.ErrNotConnected
	}
	count := req.Count
	if count < 1 {
		count = 1
	}

	reqData := make([]byte, 2)
	binary.LittleEndian.PutUint16(reqData, uint16(count))
	resp, err := sendCIPRequest(conn, sid, serviceReadTag, buildSymbolicPath(req.Address), reqData)
	if err != nil {
		return nil, &protoerr.CommunicationError{Op: "read_tag", Detail: err.Error()}
	}
	if len(resp) < 2 {
		return nil, &protoerr.DataError{Expected: "CIP type + value", Actual: fmt.Sprintf("%d bytes", len(resp)), Reason: "short reply"}
	}
	values, decErr := canon.DecodeMany(resp[2:], req.DataType, count)
	if decErr != nil {
		return values, fmt.Errorf("ethernetip: decode %s: %w", req.Address, decErr)
	}
	return values, nil
}

// Write implements drivers.Driver; a Count > 1 write encodes req.Values back
// to back into the same CIP element-count field Read consumes.
func (d *Driver) Write(ctx context.Context, req drivers.WriteRequest) error {
	d.mu.Lock()
	conn, sid := d.conn, d.sessionID
	d.mu.Unlock()
	if conn == nil {
		return protoerr.ErrNotConnected
	}
	count := req.Count
	values := req.Values
	if count < 1 {
		count = 1
		values = []canon.Value{req.Value}
	}

	encoded, err := canon.EncodeMany(values, req.DataType)
	if err != nil {
		return err
	}
	payload := make([]byte, 0, 4+len(encoded))
	typeBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(typeBuf, cipTypeFor(req.DataType))
	payload = append(payload, typeBuf...)
	countBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(countBuf, uint16(count))
	payload = append(payload, countBuf...)
	payload = append(payload, encoded...)

	_, err = sendCIPRequest(conn, sid, serviceWriteTag, buildSymbolicPath(req.Address), payload)
	if err != nil {
		return &protoerr.CommunicationError{Op: "write_tag", Detail: err.Error()}
	}
	return nil
}

func (d *Driver) ReadMany(ctx context.Context, reqs []drivers.ReadRequest) ([]canon.Value, error) {
	out := make([]canon.Value, 0, len(reqs))
	for i, r := range reqs {
		v, err := d.Read(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("ethernetip: batch read[%d] %s: %w", i, r.Address, err)
		}
		out = append(out, v...)
	}
	return out, nil
}

func (d *Driver) WriteMany(ctx context.Context, reqs []drivers.WriteRequest) error {
	for i, r := range reqs {
		if err := d.Write(ctx, r); err != nil {
			return fmt.Errorf("ethernetip: batch write[%d] %s: %w", i, r.Address, err)
		}
	}
	return nil
}
