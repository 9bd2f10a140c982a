package main

import (
	"testing"

	"github.com/plcgateway/gateway/internal/canon"
)

func TestDataTypeFromFlag(t *testing.T) {
	if dataTypeFromFlag("float32") != canon.Float32 {
		t.Fatal("expected float32 mapping")
	}
	if dataTypeFromFlag("bogus") != canon.Uint16 {
		t.Fatal("expected fallback to uint16")
	}
}

func TestValueAsInterface(t *testing.T) {
	if valueAsInterface(canon.BoolValue(true)) != true {
		t.Fatal("expected bool true")
	}
	if valueAsInterface(canon.Float(1.5)) != 1.5 {
		t.Fatal("expected float 1.5")
	}
}

func TestParseValueBool(t *testing.T) {
	v, err := parseValue("true", canon.Bool)
	if err != nil {
		t.Fatalf("parseValue: %v", err)
	}
	if !v.B {
		t.Fatal("expected B=true")
	}
}

func TestParseValueRejectsInvalidFloat(t *testing.T) {
	if _, err := parseValue("not-a-number", canon.Float32); err == nil {
		t.Fatal("expected error for invalid float")
	}
}
