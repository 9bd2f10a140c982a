package network

import (
	"context"
	"testing"

	"github.com/plcgateway/gateway/internal/canon"
	"github.com/plcgateway/gateway/internal/drivers"
	"github.com/plcgateway/gateway/internal/replication"
)

type fakeDriver struct{ connected bool }

func (f *fakeDriver) Connect(ctx context.Context) error { f.connected = true; return nil }
func (f *fakeDriver) Disconnect() error                 { f.connected = false; return nil }
func (f *fakeDriver) Ping(ctx context.Context) error     { return nil }
func (f *fakeDriver) Kind() drivers.ProtocolKind         { return drivers.ModbusTCP }
func (f *fakeDriver) IsConnected() bool                  { return f.connected }
func (f *fakeDriver) Read(ctx context.Context, req drivers.ReadRequest) ([]canon.Value, error) {
	return []canon.Value{canon.Int(7)}, nil
}
func (f *fakeDriver) Write(ctx context.Context, req drivers.WriteRequest) error { return nil }
func (f *fakeDriver) ReadMany(ctx context.Context, reqs []drivers.ReadRequest) ([]canon.Value, error) {
	return nil, nil
}
func (f *fakeDriver) WriteMany(ctx context.Context, reqs []drivers.WriteRequest) error { return nil }

func TestStartNetworkConnectsAllNodes(t *testing.T) {
	d1, d2 := &fakeDriver{}, &fakeDriver{}
	n := New(
		[]NodeConfig{{Name: "a", Driver: d1}, {Name: "b", Driver: d2}},
		[]replication.DataMapping{},
		nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n.StartNetwork(ctx); err != nil {
		t.Fatalf("StartNetwork: %v", err)
	}
	defer n.StopNetwork()

	if !d1.connected || !d2.connected {
		t.Fatal("expected both nodes connected after StartNetwork")
	}

	statuses := n.NetworkStatus()
	if len(statuses) != 2 {
		t.Fatalf("NetworkStatus returned %d entries, want 2", len(statuses))
	}
}

func TestNetworkDriverLookup(t *testing.T) {
	d1 := &fakeDriver{}
	n := New([]NodeConfig{{Name: "a", Driver: d1}}, nil, nil)

	drv, ok := n.Driver("a")
	if !ok {
		t.Fatal("expected node a to resolve")
	}
	if _, ok := n.Driver("missing"); ok {
		t.Fatal("expected missing node to not resolve")
	}

	ctx := context.Background()
	if err := drv.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	vs, err := drv.Read(ctx, drivers.ReadRequest{Address: "x"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got, _ := vs[0].AsInt64(); got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
}

func TestNewPropagatesSupervisionConfigPerNode(t *testing.T) {
	d := &fakeDriver{}
	n := New([]NodeConfig{{
		Name:                "a",
		Driver:              d,
		TimeoutMS:           500,
		RetryCount:          3,
		RetryDelayMS:        10,
		HeartbeatIntervalMS: 100,
		AutoReconnect:       false,
	}}, nil, nil)

	if got := n.NodeTimeoutMS("a"); got != 500 {
		t.Fatalf("NodeTimeoutMS = %d, want 500", got)
	}
}

func TestReplaceDriverSwapsAndDisconnectsOld(t *testing.T) {
	old := &fakeDriver{}
	n := New([]NodeConfig{{Name: "a", Driver: old}}, nil, nil)

	ctx := context.Background()
	drv, _ := n.Driver("a")
	if err := drv.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !old.connected {
		t.Fatal("expected old driver connected before replacement")
	}

	replacement := &fakeDriver{}
	if err := n.ReplaceDriver("a", replacement); err != nil {
		t.Fatalf("ReplaceDriver: %v", err)
	}
	if old.connected {
		t.Fatal("expected old driver disconnected after replacement")
	}

	drv, ok := n.Driver("a")
	if !ok {
		t.Fatal("expected node a to still resolve after replacement")
	}
	if err := drv.Connect(ctx); err != nil {
		t.Fatalf("Connect after replace: %v", err)
	}
	if !replacement.connected {
		t.Fatal("expected replacement driver to be the one now connected")
	}
}
