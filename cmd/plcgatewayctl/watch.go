package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plcgateway/gateway/internal/drivers"
)

var (
	watchNode     string
	watchAddress  string
	watchType     string
	watchInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously poll an address and print changes",
	Example: `  plcgatewayctl watch -c gateway.yaml -n plc1 -a holding:100 -i 1s`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchNode, "node", "n", "", "configured node name")
	watchCmd.Flags().StringVarP(&watchAddress, "address", "a", "", "address expression")
	watchCmd.Flags().StringVarP(&watchType, "format", "f", "uint16", "data type")
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 1*time.Second, "poll interval")
	watchCmd.MarkFlagRequired("node")
	watchCmd.MarkFlagRequired("address")
}

func runWatch(cmd *cobra.Command, args []string) error {
	net, err := buildNetwork()
	if err != nil {
		return err
	}
	driver, ok := net.Driver(watchNode)
	if !ok {
		return fmt.Errorf("unknown node %q", watchNode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	if err := driver.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("connect failed: %w", err)
	}
	cancel()
	defer driver.Disconnect()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	dt := dataTypeFromFlag(watchType)
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	outputInfo("watching %s on %s every %s (ctrl-c to stop)", watchAddress, watchNode, watchInterval)
	for {
		select {
		case <-sigCh:
			return nil
		case <-ticker.C:
			readCtx, readCancel := context.WithTimeout(context.Background(), timeout)
			vs, err := driver.Read(readCtx, drivers.ReadRequest{Address: watchAddress, DataType: dt})
			readCancel()
			if err != nil {
				outputError("read failed: %v", err)
				continue
			}
			if len(vs) == 0 {
				continue
			}
			fmt.Printf("[%s] %s = %v\n", time.Now().Format(time.RFC3339), watchAddress, valueAsInterface(vs[0]))
		}
	}
}

func outputInfo(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}
