package config

import (
	"testing"

	"github.com/plcgateway/gateway/internal/canon"
	"github.com/plcgateway/gateway/internal/replication"
)

func TestDataTypeFromString(t *testing.T) {
	if dataTypeFromString("float32") != canon.Float32 {
		t.Fatal("expected float32 mapping")
	}
	if dataTypeFromString("bogus") != canon.Uint16 {
		t.Fatal("expected fallback to uint16 for unknown type name")
	}
}

func TestSyncModeFromString(t *testing.T) {
	if syncModeFromString("on_change") != replication.OnChange {
		t.Fatal("expected OnChange")
	}
	if syncModeFromString("periodic") != replication.Periodic {
		t.Fatal("expected Periodic")
	}
	if syncModeFromString("") != replication.Continuous {
		t.Fatal("expected Continuous as default")
	}
}

func TestBuildDriverUnknownProtocol(t *testing.T) {
	_, err := BuildDriver(PLCConfig{Name: "n1", Protocol: "bogus"})
	if err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}

func TestBuildDriverModbusTCP(t *testing.T) {
	d, err := BuildDriver(PLCConfig{Name: "n1", Protocol: "modbus_tcp", Host: "127.0.0.1", Port: 502})
	if err != nil {
		t.Fatalf("BuildDriver: %v", err)
	}
	if d.Kind().String() != "modbus_tcp" {
		t.Fatalf("Kind() = %v, want modbus_tcp", d.Kind())
	}
}

func TestBuildNodesPropagatesDriverError(t *testing.T) {
	doc := Document{PLCs: []PLCConfig{{Name: "n1", Protocol: "bogus"}}}
	if _, err := BuildNodes(doc); err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}

func TestBuildNodesNamesEachNode(t *testing.T) {
	doc := Document{PLCs: []PLCConfig{
		{Name: "n1", Protocol: "modbus_tcp", Host: "127.0.0.1", Port: 502},
		{Name: "n2", Protocol: "s7", Host: "127.0.0.1", Rack: 0, Slot: 2},
	}}
	nodes, err := BuildNodes(doc)
	if err != nil {
		t.Fatalf("BuildNodes: %v", err)
	}
	if len(nodes) != 2 || nodes[0].Name != "n1" || nodes[1].Name != "n2" {
		t.Fatalf("unexpected nodes: %+v", nodes)
	}
}

func TestEffectiveAutoReconnectDefaultsTrue(t *testing.T) {
	if !(PLCConfig{}).EffectiveAutoReconnect() {
		t.Fatal("expected unset auto_reconnect to default true")
	}
	disabled := false
	if (PLCConfig{AutoReconnect: &disabled}).EffectiveAutoReconnect() {
		t.Fatal("expected explicit auto_reconnect=false to stay false")
	}
}

func TestBuildNodesPropagatesSupervisionFields(t *testing.T) {
	disabled := false
	doc := Document{PLCs: []PLCConfig{{
		Name: "n1", Protocol: "modbus_tcp", Host: "127.0.0.1", Port: 502,
		TimeoutMS: 500, RetryCount: 3, RetryDelayMS: 250, HeartbeatIntervalMS: 5000,
		AutoReconnect: &disabled,
	}}}
	nodes, err := BuildNodes(doc)
	if err != nil {
		t.Fatalf("BuildNodes: %v", err)
	}
	n := nodes[0]
	if n.TimeoutMS != 500 || n.RetryCount != 3 || n.RetryDelayMS != 250 || n.HeartbeatIntervalMS != 5000 {
		t.Fatalf("unexpected supervision fields: %+v", n)
	}
	if n.AutoReconnect {
		t.Fatal("expected AutoReconnect to propagate as false")
	}
}

func TestBuildMappingsConvertsTypesAndInterval(t *testing.T) {
	doc := Document{Mappings: []MappingConfig{
		{
			Name: "m1", SourceNode: "n1", SourceAddress: "holding:0", SourceType: "float32",
			DestNode: "n2", DestAddress: "holding:100", DestType: "float32",
			Mode: "on_change", PollIntervalMS: 250,
		},
	}}
	mappings := BuildMappings(doc)
	if len(mappings) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(mappings))
	}
	m := mappings[0]
	if m.SourceType != canon.Float32 || m.DestType != canon.Float32 {
		t.Fatalf("unexpected types: %+v", m)
	}
	if m.Mode != replication.OnChange {
		t.Fatalf("mode = %v, want OnChange", m.Mode)
	}
	if m.PollInterval != 250_000_000 {
		t.Fatalf("PollInterval = %v, want 250ms", m.PollInterval)
	}
	if !m.Enabled {
		t.Fatal("expected mapping to default to Enabled=true")
	}
}

func TestEffectiveEnabledDefaultsTrue(t *testing.T) {
	if !(MappingConfig{}).EffectiveEnabled() {
		t.Fatal("expected unset enabled to default true")
	}
	disabled := false
	if (MappingConfig{Enabled: &disabled}).EffectiveEnabled() {
		t.Fatal("expected explicit enabled=false to stay false")
	}
}
