// Package config loads the declarative {plcs, mappings} gateway document via
// spf13/viper, mirroring cmd/modbuscli/root.go's initConfig (YAML file +
// PLCGATEWAY-prefixed environment overrides) and building the concrete
// drivers.Driver/replication.DataMapping values internal/network needs.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/plcgateway/gateway/internal/canon"
	"github.com/plcgateway/gateway/internal/drivers"
	"github.com/plcgateway/gateway/internal/drivers/ethernetip"
	"github.com/plcgateway/gateway/internal/drivers/modbus"
	"github.com/plcgateway/gateway/internal/drivers/opcua"
	"github.com/plcgateway/gateway/internal/drivers/profibus"
	"github.com/plcgateway/gateway/internal/drivers/s7"
	"github.com/plcgateway/gateway/internal/network"
	"github.com/plcgateway/gateway/internal/replication"
)

// PLCConfig is one entry under the top-level "plcs" key.
type PLCConfig struct {
	Name     string `mapstructure:"name"`
	Protocol string `mapstructure:"protocol"`

	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// S7 / Profibus
	Rack         int `mapstructure:"rack"`
	Slot         int `mapstructure:"slot"`
	SlaveAddress int `mapstructure:"slave_address"`

	// Modbus
	UnitID  int    `mapstructure:"unit_id"`
	SerialPort string `mapstructure:"serial_port"`
	BaudRate   int    `mapstructure:"baud_rate"`

	// OPC UA
	EndpointURL string `mapstructure:"endpoint_url"`

	// Supervision, grounded in ConnectionConfig's timeout/retry_attempts/
	// retry_delay/heartbeat_interval/auto_reconnect fields (spec §3,
	// original_source connection.py:34-42). AutoReconnect is a pointer so an
	// unset value defaults to true (EffectiveAutoReconnect) rather than
	// silently disabling reconnection the way a bare bool zero value would.
	TimeoutMS           int   `mapstructure:"timeout_ms"`
	RetryCount          int   `mapstructure:"retry_count"`
	RetryDelayMS        int   `mapstructure:"retry_delay_ms"`
	HeartbeatIntervalMS int   `mapstructure:"heartbeat_interval_ms"`
	AutoReconnect       *bool `mapstructure:"auto_reconnect"`
}

// EffectiveAutoReconnect resolves AutoReconnect's default-true semantics:
// an operator must explicitly write "auto_reconnect: false" to disable
// reconnection (spec §8: auto_reconnect=false leaves a failed heartbeat in
// Error with no retry attempts).
func (c PLCConfig) EffectiveAutoReconnect() bool {
	if c.AutoReconnect == nil {
		return true
	}
	return *c.AutoReconnect
}

// MappingConfig is one entry under the top-level "mappings" key.
type MappingConfig struct {
	Name          string `mapstructure:"name"`
	SourceNode    string `mapstructure:"source_node"`
	SourceAddress string `mapstructure:"source_address"`
	SourceType    string `mapstructure:"source_type"`
	DestNode      string `mapstructure:"dest_node"`
	DestAddress   string `mapstructure:"dest_address"`
	DestType      string `mapstructure:"dest_type"`
	Mode          string `mapstructure:"mode"`
	PollIntervalMS int   `mapstructure:"poll_interval_ms"`
	// Enabled defaults to true when unset, mirroring PLCConfig.AutoReconnect.
	Enabled *bool `mapstructure:"enabled"`
}

// EffectiveEnabled resolves Enabled's default-true semantics.
func (m MappingConfig) EffectiveEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// Document is the root of the gateway's declarative configuration.
type Document struct {
	PLCs     []PLCConfig     `mapstructure:"plcs"`
	Mappings []MappingConfig `mapstructure:"mappings"`
}

// Load reads configFile (if non-empty) plus PLCGATEWAY_-prefixed environment
// overrides into a Document, the same viper wiring cmd/modbuscli/root.go
// uses for its single-protocol flag set, generalized to a full document.
func Load(configFile string) (Document, error) {
	v := viper.New()
	v.SetEnvPrefix("PLCGATEWAY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Document{}, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	var doc Document
	if err := v.Unmarshal(&doc); err != nil {
		return Document{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return doc, nil
}

func dataTypeFromString(s string) canon.DataType {
	switch strings.ToLower(s) {
	case "bool":
		return canon.Bool
	case "uint8":
		return canon.Uint8
	case "uint16":
		return canon.Uint16
	case "uint32":
		return canon.Uint32
	case "int8":
		return canon.Int8
	case "int16":
		return canon.Int16
	case "int32":
		return canon.Int32
	case "float32":
		return canon.Float32
	case "float64":
		return canon.Float64
	case "string":
		return canon.String
	default:
		return canon.Uint16
	}
}

func syncModeFromString(s string) replication.SyncMode {
	switch strings.ToLower(s) {
	case "on_change":
		return replication.OnChange
	case "periodic":
		return replication.Periodic
	default:
		return replication.Continuous
	}
}

// BuildDriver constructs the concrete Driver for one PLCConfig entry
// (spec §4.3: one driver package per protocol, dispatched here by name).
func BuildDriver(cfg PLCConfig) (drivers.Driver, error) {
	switch strings.ToLower(cfg.Protocol) {
	case "modbus_tcp":
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		client, err := modbus.NewClient(addr, modbus.WithUnitID(modbus.UnitID(cfg.UnitID)))
		if err != nil {
			return nil, err
		}
		return modbus.NewDriver(client, drivers.ModbusTCP), nil
	case "modbus_rtu":
		baud := cfg.BaudRate
		if baud == 0 {
			baud = 9600
		}
		client := modbus.NewRTUClient(cfg.SerialPort, modbus.UnitID(cfg.UnitID), baud, 5*time.Second)
		return modbus.NewRTUDriver(client), nil
	case "s7":
		return s7.New(s7.Config{Host: cfg.Host, Rack: cfg.Rack, Slot: cfg.Slot}), nil
	case "profibus_dp":
		return profibus.New(profibus.Config{Host: cfg.Host, SlaveAddress: cfg.SlaveAddress}), nil
	case "ethernet_ip":
		return ethernetip.New(ethernetip.Config{Host: cfg.Host, Port: cfg.Port}), nil
	case "opcua":
		return opcua.New(opcua.Config{EndpointURL: cfg.EndpointURL}), nil
	default:
		return nil, fmt.Errorf("config: unknown protocol %q for node %q", cfg.Protocol, cfg.Name)
	}
}

// BuildNodes constructs the NodeConfig list for doc's PLCs, without wiring
// replication. Exposed separately from BuildNetwork so callers that need to
// modify mappings (e.g. attaching diagnostics hooks) before the replication
// engine is built can do so.
func BuildNodes(doc Document) ([]network.NodeConfig, error) {
	nodes := make([]network.NodeConfig, 0, len(doc.PLCs))
	for _, p := range doc.PLCs {
		d, err := BuildDriver(p)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, network.NodeConfig{
			Name:                p.Name,
			Driver:              d,
			TimeoutMS:           p.TimeoutMS,
			RetryCount:          p.RetryCount,
			RetryDelayMS:        p.RetryDelayMS,
			HeartbeatIntervalMS: p.HeartbeatIntervalMS,
			AutoReconnect:       p.EffectiveAutoReconnect(),
		})
	}
	return nodes, nil
}

// BuildMappings converts doc's declarative mappings into
// replication.DataMapping values.
func BuildMappings(doc Document) []replication.DataMapping {
	mappings := make([]replication.DataMapping, 0, len(doc.Mappings))
	for _, m := range doc.Mappings {
		interval := time.Duration(m.PollIntervalMS) * time.Millisecond
		mappings = append(mappings, replication.DataMapping{
			Name:          m.Name,
			SourceNode:    m.SourceNode,
			SourceAddress: m.SourceAddress,
			SourceType:    dataTypeFromString(m.SourceType),
			DestNode:      m.DestNode,
			DestAddress:   m.DestAddress,
			DestType:      dataTypeFromString(m.DestType),
			Mode:          syncModeFromString(m.Mode),
			PollInterval:  interval,
			Enabled:       m.EffectiveEnabled(),
		})
	}
	return mappings
}

// BuildNetwork turns a Document into a ready-to-start *network.Network.
func BuildNetwork(doc Document) (*network.Network, error) {
	nodes, err := BuildNodes(doc)
	if err != nil {
		return nil, err
	}
	return network.New(nodes, BuildMappings(doc), nil), nil
}
