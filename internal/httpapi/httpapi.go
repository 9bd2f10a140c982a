// Package httpapi exposes the fixed HTTP surface of spec §6, ported
// line-for-line from original_source/api/plc_api.py's route table and
// {success, data|message|error} JSON envelope. The A0.x -> Q0.x address
// alias is normalized here, at the edge, before any address reaches
// internal/addr (spec §4.2 Open Question resolution).
package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/plcgateway/gateway/internal/canon"
	"github.com/plcgateway/gateway/internal/config"
	"github.com/plcgateway/gateway/internal/diag"
	"github.com/plcgateway/gateway/internal/drivers"
	"github.com/plcgateway/gateway/internal/network"
)

// envelope is the fixed {success, data|message|error} response shape every
// route returns, matching plc_api.py's jsonify(...) calls.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Server wires the PLC network to net/http. No web framework is used: the
// route table is small and fixed, matching the pack's overall minimalism
// (no repo in the retrieval pack pulls in a router for a handful of routes).
type Server struct {
	net    *network.Network
	diag   *diag.Ring
	logger *slog.Logger
	mux    *http.ServeMux
}

// New builds a Server backed by net. Call Handler() to get an http.Handler
// suitable for http.ListenAndServe. Until a ring is attached with
// WithDiagRing, /diag/replication-errors reports an empty window.
func New(net *network.Network, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{net: net, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

// WithDiagRing attaches the replication-error ring buffer for the
// /diag/replication-errors route. Returns s for chaining.
func (s *Server) WithDiagRing(ring *diag.Ring) *Server {
	s.diag = ring
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc("/api/plc/status", s.handleStatus)
	s.mux.HandleFunc("/api/plc/connect", s.handleConnect)
	s.mux.HandleFunc("/api/plc/disconnect", s.handleDisconnect)
	s.mux.HandleFunc("/api/plc/output", s.handleOutput)
	s.mux.HandleFunc("/api/plc/outputs", s.handleOutputs)
	s.mux.HandleFunc("/api/plc/inputs", s.handleInputs)
	s.mux.HandleFunc("/api/plc/analog", s.handleAnalog)
	s.mux.HandleFunc("/api/plc/config", s.handleConfig)
	s.mux.HandleFunc("/api/plc/health", s.handleHealth)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/diag/replication-errors", s.handleDiagReplicationErrors)
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, envelope{Success: false, Error: err.Error()})
}

// normalizeAddress rewrites the HTTP-only "A0.x" input alias to the
// canonical "Q0.x" output form before it reaches internal/addr (spec §4.2
// Open Question: "A" is an HTTP-surface convenience, never a wire form).
func normalizeAddress(addr string) string {
	if strings.HasPrefix(addr, "A") && len(addr) > 1 && (addr[1] >= '0' && addr[1] <= '9') {
		return "Q" + addr[1:]
	}
	return addr
}

type statusResponse struct {
	Node  string `json:"node"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var out []statusResponse
	for _, ns := range s.net.NetworkStatus() {
		out = append(out, statusResponse{
			Node:  ns.Name,
			State: ns.Status.State.String(),
			Error: ns.Status.LastError,
		})
	}
	writeOK(w, out)
}

type nodeRequest struct {
	Node string `json:"node"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	d, ok := s.net.Driver(req.Node)
	if !ok {
		writeErr(w, http.StatusNotFound, errUnknownNode(req.Node))
		return
	}
	if err := d.Connect(r.Context()); err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "connected"})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	d, ok := s.net.Driver(req.Node)
	if !ok {
		writeErr(w, http.StatusNotFound, errUnknownNode(req.Node))
		return
	}
	if err := d.Disconnect(); err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "disconnected"})
}

type outputRequest struct {
	Node    string `json:"node"`
	Address string `json:"address"`
	Value   bool   `json:"value"`
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	var req outputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	d, ok := s.net.Driver(req.Node)
	if !ok {
		writeErr(w, http.StatusNotFound, errUnknownNode(req.Node))
		return
	}
	addr := normalizeAddress(req.Address)
	err := d.Write(r.Context(), drivers.WriteRequest{Address: addr, DataType: canon.Bool, Value: canon.BoolValue(req.Value)})
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "output set"})
}

type multiOutputRequest struct {
	Node    string          `json:"node"`
	Outputs map[string]bool `json:"outputs"`
}

// handleOutputs dispatches on method: GET reads current output bit states
// (plc_api.py's get_outputs), POST batch-writes them (write_multiple_outputs).
// Both share the /api/plc/outputs path in the original route table.
func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.handleOutputsRead(w, r)
		return
	}
	s.handleOutputsWrite(w, r)
}

func (s *Server) handleOutputsRead(w http.ResponseWriter, r *http.Request) {
	node := r.URL.Query().Get("node")
	addrs := r.URL.Query()["address"]
	d, ok := s.net.Driver(node)
	if !ok {
		writeErr(w, http.StatusNotFound, errUnknownNode(node))
		return
	}
	reqs := make([]drivers.ReadRequest, len(addrs))
	for i, a := range addrs {
		reqs[i] = drivers.ReadRequest{Address: normalizeAddress(a), DataType: canon.Bool}
	}
	values, err := d.ReadMany(r.Context(), reqs)
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	out := make(map[string]bool, len(values))
	for i, v := range values {
		out[addrs[i]] = v.B
	}
	writeOK(w, out)
}

func (s *Server) handleOutputsWrite(w http.ResponseWriter, r *http.Request) {
	var req multiOutputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	d, ok := s.net.Driver(req.Node)
	if !ok {
		writeErr(w, http.StatusNotFound, errUnknownNode(req.Node))
		return
	}
	reqs := make([]drivers.WriteRequest, 0, len(req.Outputs))
	for addr, v := range req.Outputs {
		reqs = append(reqs, drivers.WriteRequest{
			Address: normalizeAddress(addr), DataType: canon.Bool, Value: canon.BoolValue(v),
		})
	}
	if err := d.WriteMany(r.Context(), reqs); err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "outputs set"})
}

func (s *Server) handleInputs(w http.ResponseWriter, r *http.Request) {
	node := r.URL.Query().Get("node")
	addrs := r.URL.Query()["address"]
	d, ok := s.net.Driver(node)
	if !ok {
		writeErr(w, http.StatusNotFound, errUnknownNode(node))
		return
	}
	reqs := make([]drivers.ReadRequest, len(addrs))
	for i, a := range addrs {
		reqs[i] = drivers.ReadRequest{Address: normalizeAddress(a), DataType: canon.Bool}
	}
	values, err := d.ReadMany(r.Context(), reqs)
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	out := make(map[string]bool, len(values))
	for i, v := range values {
		out[addrs[i]] = v.B
	}
	writeOK(w, out)
}

func (s *Server) handleAnalog(w http.ResponseWriter, r *http.Request) {
	node := r.URL.Query().Get("node")
	addr := r.URL.Query().Get("address")
	d, ok := s.net.Driver(node)
	if !ok {
		writeErr(w, http.StatusNotFound, errUnknownNode(node))
		return
	}
	vs, err := d.Read(r.Context(), drivers.ReadRequest{Address: normalizeAddress(addr), DataType: canon.Float32})
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	if len(vs) == 0 {
		writeErr(w, http.StatusBadGateway, fmt.Errorf("httpapi: no value returned for %s", addr))
		return
	}
	f, _ := vs[0].AsFloat64()
	writeOK(w, f)
}

type configRequest struct {
	Node         string `json:"node"`
	Protocol     string `json:"protocol"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Rack         int    `json:"rack"`
	Slot         int    `json:"slot"`
	SlaveAddress int    `json:"slave_address"`
}

// handleConfig rebuilds and reconnects a single node's driver in place
// (spec §6 POST /api/plc/config), mirroring plc_api.py's
// "disconnect, replace, reconnect" update_config behavior.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	driver, err := config.BuildDriver(config.PLCConfig{
		Name:         req.Node,
		Protocol:     req.Protocol,
		Host:         req.Host,
		Port:         req.Port,
		Rack:         req.Rack,
		Slot:         req.Slot,
		SlaveAddress: req.SlaveAddress,
	})
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	if err := s.net.ReplaceDriver(req.Node, driver); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if err := driver.Connect(r.Context()); err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "configuration updated"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "ok"})
}

func (s *Server) handleDiagReplicationErrors(w http.ResponseWriter, r *http.Request) {
	if s.diag == nil {
		writeOK(w, []diag.ErrorEntry{})
		return
	}
	writeOK(w, s.diag.Recent())
}

type unknownNodeError struct{ node string }

func (e *unknownNodeError) Error() string { return "unknown node: " + e.node }
func errUnknownNode(node string) error    { return &unknownNodeError{node: node} }
