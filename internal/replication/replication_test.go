package replication

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/plcgateway/gateway/internal/canon"
	"github.com/plcgateway/gateway/internal/drivers"
)

type memDriver struct {
	mu     sync.Mutex
	values map[string]canon.Value
}

func newMemDriver() *memDriver { return &memDriver{values: map[string]canon.Value{}} }

func (d *memDriver) Connect(ctx context.Context) error { return nil }
func (d *memDriver) Disconnect() error                 { return nil }
func (d *memDriver) Ping(ctx context.Context) error     { return nil }
func (d *memDriver) Kind() drivers.ProtocolKind         { return drivers.ModbusTCP }
func (d *memDriver) IsConnected() bool                  { return true }

func (d *memDriver) Read(ctx context.Context, req drivers.ReadRequest) ([]canon.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return []canon.Value{d.values[req.Address]}, nil
}

func (d *memDriver) Write(ctx context.Context, req drivers.WriteRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[req.Address] = req.Value
	return nil
}

func (d *memDriver) ReadMany(ctx context.Context, reqs []drivers.ReadRequest) ([]canon.Value, error) {
	return nil, nil
}
func (d *memDriver) WriteMany(ctx context.Context, reqs []drivers.WriteRequest) error { return nil }

func (d *memDriver) set(addr string, v canon.Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[addr] = v
}

func (d *memDriver) get(addr string) canon.Value {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[addr]
}

type fakeNodes struct {
	nodes map[string]drivers.Driver
}

func (n *fakeNodes) Driver(name string) (drivers.Driver, bool) {
	d, ok := n.nodes[name]
	return d, ok
}

func TestContinuousSyncWritesEveryTick(t *testing.T) {
	src, dst := newMemDriver(), newMemDriver()
	src.set("in", canon.Int(42))
	nodes := &fakeNodes{nodes: map[string]drivers.Driver{"src": src, "dst": dst}}

	synced := make(chan canon.Value, 4)
	e := New(nodes, []DataMapping{{
		Name: "m1", SourceNode: "src", SourceAddress: "in", SourceType: canon.Int32,
		DestNode: "dst", DestAddress: "out", DestType: canon.Int32,
		Mode: Continuous, PollInterval: 10 * time.Millisecond, Enabled: true,
		OnDataSync: func(mapping string, v canon.Value) { synced <- v },
	}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	select {
	case v := <-synced:
		got, _ := v.AsInt64()
		if got != 42 {
			t.Fatalf("synced value = %d, want 42", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for continuous sync")
	}
}

func TestOnChangeOnlyWritesOnDelta(t *testing.T) {
	src, dst := newMemDriver(), newMemDriver()
	src.set("in", canon.Int(1))
	nodes := &fakeNodes{nodes: map[string]drivers.Driver{"src": src, "dst": dst}}

	var writes int
	var mu sync.Mutex
	e := New(nodes, []DataMapping{{
		Name: "m2", SourceNode: "src", SourceAddress: "in", SourceType: canon.Int32,
		DestNode: "dst", DestAddress: "out", DestType: canon.Int32,
		Mode: OnChange, PollInterval: 5 * time.Millisecond, Enabled: true,
		OnDataSync: func(mapping string, v canon.Value) {
			mu.Lock()
			writes++
			mu.Unlock()
		},
	}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)

	time.Sleep(60 * time.Millisecond) // several ticks, value unchanged
	src.set("in", canon.Int(2))
	time.Sleep(60 * time.Millisecond) // one change should register

	cancel()
	e.Stop()

	mu.Lock()
	got := writes
	mu.Unlock()
	if got < 1 || got > 3 {
		t.Fatalf("expected a small number of writes bounded by the single value change, got %d", got)
	}
	if out := dst.get("out"); out.I != 2 {
		t.Fatalf("final destination value = %v, want 2", out)
	}
}

func TestPeriodicGatesOnElapsedSinceLastSync(t *testing.T) {
	src, dst := newMemDriver(), newMemDriver()
	src.set("in", canon.Int(7))
	nodes := &fakeNodes{nodes: map[string]drivers.Driver{"src": src, "dst": dst}}

	var writes int64
	e := New(nodes, []DataMapping{{
		Name: "m3", SourceNode: "src", SourceAddress: "in", SourceType: canon.Int32,
		DestNode: "dst", DestAddress: "out", DestType: canon.Int32,
		Mode: Periodic, PollInterval: 150 * time.Millisecond, Enabled: true,
		OnDataSync: func(mapping string, v canon.Value) {
			atomic.AddInt64(&writes, 1)
		},
	}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)

	time.Sleep(400 * time.Millisecond)
	cancel()
	e.Stop()

	got := atomic.LoadInt64(&writes)
	// the scheduler tick runs every <=1s (here every 150ms, same as interval
	// since it's under a second) but a sync should only fire roughly every
	// 150ms of elapsed time, not on every tick.
	if got < 1 || got > 4 {
		t.Fatalf("expected periodic writes gated by elapsed time, got %d", got)
	}
}

func TestAddMappingThenRemoveMappingRestoresPreInsertionState(t *testing.T) {
	src, dst := newMemDriver(), newMemDriver()
	src.set("in", canon.Int(1))
	nodes := &fakeNodes{nodes: map[string]drivers.Driver{"src": src, "dst": dst}}

	e := New(nodes, nil, nil)
	before := e.Mappings()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	m := DataMapping{
		Name: "dyn", SourceNode: "src", SourceAddress: "in", SourceType: canon.Int32,
		DestNode: "dst", DestAddress: "out", DestType: canon.Int32,
		Mode: Continuous, PollInterval: 5 * time.Millisecond, Enabled: true,
	}
	if err := e.AddMapping(m); err != nil {
		t.Fatalf("AddMapping: %v", err)
	}
	if len(e.Mappings()) != 1 {
		t.Fatalf("expected 1 mapping after AddMapping, got %d", len(e.Mappings()))
	}
	time.Sleep(30 * time.Millisecond)
	if dst.get("out").I != 1 {
		t.Fatal("expected dynamically added mapping to actually run")
	}

	if err := e.RemoveMapping("dyn"); err != nil {
		t.Fatalf("RemoveMapping: %v", err)
	}

	after := e.Mappings()
	if len(after) != len(before) {
		t.Fatalf("expected mapping set to return to pre-insertion state, got %+v", after)
	}
}
