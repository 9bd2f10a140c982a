package ethernetip

import (
	"bytes"
	"testing"

	"github.com/plcgateway/gateway/internal/canon"
)

func TestBuildSymbolicPathPadsOddLength(t *testing.T) {
	path := buildSymbolicPath("Tag1")
	want := []byte{0x91, 4, 'T', 'a', 'g', '1'}
	if !bytes.Equal(path, want) {
		t.Fatalf("got % x want % x", path, want)
	}

	path = buildSymbolicPath("Tag")
	if len(path)%2 != 0 {
		t.Fatalf("expected even-length padded path, got %d bytes", len(path))
	}
	if path[len(path)-1] != 0 {
		t.Fatalf("expected zero pad byte, got %#x", path[len(path)-1])
	}
}

func TestCipTypeForDataType(t *testing.T) {
	cases := map[canon.DataType]uint16{
		canon.Bool:    cipDataTypeBOOL,
		canon.Int16:   cipDataTypeINT,
		canon.Int32:   cipDataTypeDINT,
		canon.Float32: cipDataTypeREAL,
	}
	for dt, want := range cases {
		if got := cipTypeFor(dt); got != want {
			t.Fatalf("cipTypeFor(%v) = %#x, want %#x", dt, got, want)
		}
	}
}

func TestNewDefaultsPort(t *testing.T) {
	d := New(Config{Host: "10.0.0.5"})
	if d.cfg.Port != 44818 {
		t.Fatalf("default port = %d, want 44818", d.cfg.Port)
	}
}
