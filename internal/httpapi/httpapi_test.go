package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/plcgateway/gateway/internal/canon"
	"github.com/plcgateway/gateway/internal/diag"
	"github.com/plcgateway/gateway/internal/drivers"
	"github.com/plcgateway/gateway/internal/network"
)

type fakeDriver struct {
	connected bool
	written   []drivers.WriteRequest
}

func (f *fakeDriver) Connect(ctx context.Context) error { f.connected = true; return nil }
func (f *fakeDriver) Disconnect() error                 { f.connected = false; return nil }
func (f *fakeDriver) Ping(ctx context.Context) error    { return nil }
func (f *fakeDriver) Kind() drivers.ProtocolKind        { return drivers.ModbusTCP }
func (f *fakeDriver) IsConnected() bool                 { return f.connected }
func (f *fakeDriver) Read(ctx context.Context, req drivers.ReadRequest) ([]canon.Value, error) {
	return []canon.Value{canon.Float(42.5)}, nil
}
func (f *fakeDriver) Write(ctx context.Context, req drivers.WriteRequest) error {
	f.written = append(f.written, req)
	return nil
}
func (f *fakeDriver) ReadMany(ctx context.Context, reqs []drivers.ReadRequest) ([]canon.Value, error) {
	out := make([]canon.Value, len(reqs))
	for i := range reqs {
		out[i] = canon.BoolValue(true)
	}
	return out, nil
}
func (f *fakeDriver) WriteMany(ctx context.Context, reqs []drivers.WriteRequest) error {
	f.written = append(f.written, reqs...)
	return nil
}

func newTestServer() (*Server, *fakeDriver) {
	d := &fakeDriver{}
	n := network.New([]network.NodeConfig{{Name: "plc1", Driver: d}}, nil, nil)
	return New(n, nil), d
}

func TestNormalizeAddressAliasesLegacyInputPrefix(t *testing.T) {
	cases := map[string]string{
		"A0.1": "Q0.1",
		"Q0.1": "Q0.1",
		"DB1":  "DB1",
	}
	for in, want := range cases {
		if got := normalizeAddress(in); got != want {
			t.Errorf("normalizeAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Success {
		t.Fatal("expected success=true")
	}
}

func TestHandleConnectUnknownNode(t *testing.T) {
	s, _ := newTestServer()
	body, _ := json.Marshal(nodeRequest{Node: "missing"})
	req := httptest.NewRequest(http.MethodPost, "/api/plc/connect", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleOutputNormalizesAddressAndWrites(t *testing.T) {
	s, d := newTestServer()
	body, _ := json.Marshal(outputRequest{Node: "plc1", Address: "A0.1", Value: true})
	req := httptest.NewRequest(http.MethodPost, "/api/plc/output", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(d.written) != 1 {
		t.Fatalf("expected 1 write, got %d", len(d.written))
	}
	if d.written[0].Address != "Q0.1" {
		t.Fatalf("address = %q, want Q0.1", d.written[0].Address)
	}
}

func TestHandleOutputsReadsCurrentStates(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/plc/outputs?node=plc1&address=A0.1&address=Q0.2", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", w.Code, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Success {
		t.Fatal("expected success=true")
	}
}

func TestHandleDiagReplicationErrorsWithRing(t *testing.T) {
	s, _ := newTestServer()
	ring := diag.NewRing(8)
	ring.Record(diag.ErrorEntry{Mapping: "m1", Error: "boom"})
	s.WithDiagRing(ring)

	req := httptest.NewRequest(http.MethodGet, "/diag/replication-errors", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Success {
		t.Fatal("expected success=true")
	}
}

func TestHandleDiagReplicationErrorsWithoutRing(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/diag/replication-errors", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandleConfigRejectsUnknownProtocol(t *testing.T) {
	s, _ := newTestServer()
	body, _ := json.Marshal(map[string]interface{}{
		"node": "plc1", "protocol": "bogus", "host": "127.0.0.1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/plc/config", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body: %s", w.Code, w.Body.String())
	}
}

func TestHandleConfigUnreachableTargetReportsBadGateway(t *testing.T) {
	s, _ := newTestServer()
	body, _ := json.Marshal(map[string]interface{}{
		"node": "plc1", "protocol": "modbus_tcp", "host": "127.0.0.1", "port": 1,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/plc/config", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502, body: %s", w.Code, w.Body.String())
	}
}

func TestHandleStatusReportsNodes(t *testing.T) {
	s, d := newTestServer()
	d.connected = true
	req := httptest.NewRequest(http.MethodGet, "/api/plc/status", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Success {
		t.Fatal("expected success=true")
	}
}
