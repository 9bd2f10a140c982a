// Package profibus drives Profibus-DP slaves through the same S7 transport
// as internal/drivers/s7: a DP gateway is addressed like any S7 CPU except
// that rack and slot are meaningless on the DP side and are always 0 (Open
// Question resolution, see DESIGN.md).
package profibus

import (
	"context"

	"github.com/plcgateway/gateway/internal/canon"
	"github.com/plcgateway/gateway/internal/drivers"
	"github.com/plcgateway/gateway/internal/drivers/s7"
)

// Config names the connection parameters for a Profibus-DP slave (spec §3):
// only SlaveAddress is meaningful, rack/slot are forced to 0/0.
type Config struct {
	Host         string
	SlaveAddress int
}

// Driver implements drivers.Driver for a Profibus-DP slave by delegating to
// an s7.Driver configured with rack=0, slot=0.
type Driver struct {
	inner *s7.Driver
	cfg   Config
}

// New builds an unconnected Profibus-DP driver.
func New(cfg Config) *Driver {
	return &Driver{
		cfg:   cfg,
		inner: s7.New(s7.Config{Host: cfg.Host, Rack: 0, Slot: 0}),
	}
}

func (d *Driver) Kind() drivers.ProtocolKind { return drivers.ProfibusDP }

func (d *Driver) Connect(ctx context.Context) error { return d.inner.Connect(ctx) }
func (d *Driver) Disconnect() error                 { return d.inner.Disconnect() }
func (d *Driver) IsConnected() bool                 { return d.inner.IsConnected() }
func (d *Driver) Ping(ctx context.Context) error    { return d.inner.Ping(ctx) }

func (d *Driver) Read(ctx context.Context, req drivers.ReadRequest) ([]canon.Value, error) {
	return d.inner.Read(ctx, req)
}

func (d *Driver) Write(ctx context.Context, req drivers.WriteRequest) error {
	return d.inner.Write(ctx, req)
}

func (d *Driver) ReadMany(ctx context.Context, reqs []drivers.ReadRequest) ([]canon.Value, error) {
	return d.inner.ReadMany(ctx, reqs)
}

func (d *Driver) WriteMany(ctx context.Context, reqs []drivers.WriteRequest) error {
	return d.inner.WriteMany(ctx, reqs)
}

// SlaveAddress returns the configured Profibus slave address (diagnostic
// use only; the wire path always goes through rack=0, slot=0).
func (d *Driver) SlaveAddress() int { return d.cfg.SlaveAddress }
