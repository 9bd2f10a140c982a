package s7

import "testing"

func TestConfigDefaultsDoNotPanic(t *testing.T) {
	d := New(Config{Host: "192.168.0.10", Rack: 0, Slot: 2})
	if d.IsConnected() {
		t.Fatal("new driver must start disconnected")
	}
	if d.Kind().String() != "s7" {
		t.Fatalf("Kind() = %v, want s7", d.Kind())
	}
}
