package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/plcgateway/gateway/internal/canon"
	"github.com/plcgateway/gateway/internal/drivers"
)

var (
	readNode    string
	readAddress string
	readType    string
	readCount   int
)

var readCmd = &cobra.Command{
	Use:     "read",
	Aliases: []string{"r"},
	Short:   "Read a single address from a configured node",
	Example: `  plcgatewayctl read -c gateway.yaml -n plc1 -a holding:100 -f uint16
  plcgatewayctl read -c gateway.yaml -n s7_1 -a DB1.DBD0 -f float32`,
	RunE: runRead,
}

func init() {
	readCmd.Flags().StringVarP(&readNode, "node", "n", "", "configured node name")
	readCmd.Flags().StringVarP(&readAddress, "address", "a", "", "address expression (protocol-specific)")
	readCmd.Flags().StringVarP(&readType, "format", "f", "uint16", "data type: bool, uint16, int16, uint32, int32, float32, float64, string")
	readCmd.Flags().IntVarP(&readCount, "count", "N", 1, "number of consecutive elements to read")
	readCmd.MarkFlagRequired("node")
	readCmd.MarkFlagRequired("address")
}

func dataTypeFromFlag(s string) canon.DataType {
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

func runRead(cmd *cobra.Command, args []string) error {
	net, err := buildNetwork()
	if err != nil {
		return err
	}
	driver, ok := net.Driver(readNode)
	if !ok {
		return fmt.Errorf("unknown node %q", readNode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := driver.Connect(ctx); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer driver.Disconnect()

	dt := dataTypeFromFlag(readType)
	vs, err := driver.Read(ctx, drivers.ReadRequest{Address: readAddress, DataType: dt, Count: readCount})
	if err != nil {
		return fmt.Errorf("read failed: %w", err)
	}
	if len(vs) == 0 {
		return fmt.Errorf("read returned no values")
	}

	if len(vs) == 1 {
		return printValue(readAddress, vs[0])
	}
	return printValues(readAddress, vs)
}

func printValue(address string, v canon.Value) error {
	if outputFmt == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"address": address,
			"kind":    v.Kind.String(),
			"value":   valueAsInterface(v),
		})
	}
	fmt.Printf("%s = %v\n", address, valueAsInterface(v))
	return nil
}

func printValues(address string, vs []canon.Value) error {
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		out[i] = valueAsInterface(v)
	}
	if outputFmt == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"address": address,
			"values":  out,
		})
	}
	fmt.Printf("%s = %v\n", address, out)
	return nil
}

func valueAsInterface(v canon.Value) interface{} {
	switch v.Kind {
	case canon.KindBool:
		return v.B
	case canon.KindInt:
		return v.I
	case canon.KindUint:
		return v.U
	case canon.KindFloat:
		return v.F
	case canon.KindString:
		return v.S
	case canon.KindBytes:
		return v.Y
	default:
		return nil
	}
}
