package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/plcgateway/gateway/internal/canon"
	"github.com/plcgateway/gateway/internal/drivers"
)

var (
	writeNode    string
	writeAddress string
	writeType    string
	writeValue   string
)

var writeCmd = &cobra.Command{
	Use:     "write",
	Aliases: []string{"w"},
	Short:   "Write a single address on a configured node",
	Example: `  plcgatewayctl write -c gateway.yaml -n plc1 -a coil:3 -f bool -V true
  plcgatewayctl write -c gateway.yaml -n vfd1 -a holding:1 -f float32 -V 42.5`,
	RunE: runWrite,
}

func init() {
	writeCmd.Flags().StringVarP(&writeNode, "node", "n", "", "configured node name")
	writeCmd.Flags().StringVarP(&writeAddress, "address", "a", "", "address expression (protocol-specific)")
	writeCmd.Flags().StringVarP(&writeType, "format", "f", "uint16", "data type: bool, uint16, int16, uint32, int32, float32, float64, string")
	writeCmd.Flags().StringVarP(&writeValue, "value", "V", "", "value to write")
	writeCmd.MarkFlagRequired("node")
	writeCmd.MarkFlagRequired("address")
	writeCmd.MarkFlagRequired("value")
}

func parseValue(raw string, dt canon.DataType) (canon.Value, error) {
	switch dt {
	case canon.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return canon.Value{}, fmt.Errorf("invalid bool %q: %w", raw, err)
		}
		return canon.BoolValue(b), nil
	case canon.Float32, canon.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return canon.Value{}, fmt.Errorf("invalid float %q: %w", raw, err)
		}
		return canon.Float(f), nil
	case canon.String:
		return canon.Str(raw), nil
	case canon.Int8, canon.Int16, canon.Int32:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return canon.Value{}, fmt.Errorf("invalid int %q: %w", raw, err)
		}
		return canon.Int(i), nil
	default:
		u, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return canon.Value{}, fmt.Errorf("invalid uint %q: %w", raw, err)
		}
		return canon.Uint(u), nil
	}
}

func runWrite(cmd *cobra.Command, args []string) error {
	net, err := buildNetwork()
	if err != nil {
		return err
	}
	driver, ok := net.Driver(writeNode)
	if !ok {
		return fmt.Errorf("unknown node %q", writeNode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := driver.Connect(ctx); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer driver.Disconnect()

	dt := dataTypeFromFlag(writeType)
	v, err := parseValue(writeValue, dt)
	if err != nil {
		return err
	}

	if err := driver.Write(ctx, drivers.WriteRequest{Address: writeAddress, DataType: dt, Value: v}); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	outputSuccess("wrote %v to %s", writeValue, writeAddress)
	return nil
}
