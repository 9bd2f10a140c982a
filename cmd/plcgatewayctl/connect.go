package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var connectTargetNode string

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect a single configured node",
	RunE:  runConnect,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Disconnect a single configured node",
	RunE:  runDisconnect,
}

func init() {
	connectCmd.Flags().StringVarP(&connectTargetNode, "node", "n", "", "configured node name")
	connectCmd.MarkFlagRequired("node")

	disconnectCmd.Flags().StringVarP(&connectTargetNode, "node", "n", "", "configured node name")
	disconnectCmd.MarkFlagRequired("node")
}

func runConnect(cmd *cobra.Command, args []string) error {
	net, err := buildNetwork()
	if err != nil {
		return err
	}
	driver, ok := net.Driver(connectTargetNode)
	if !ok {
		return fmt.Errorf("unknown node %q", connectTargetNode)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := driver.Connect(ctx); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	outputSuccess("connected %s", connectTargetNode)
	return nil
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	net, err := buildNetwork()
	if err != nil {
		return err
	}
	driver, ok := net.Driver(connectTargetNode)
	if !ok {
		return fmt.Errorf("unknown node %q", connectTargetNode)
	}
	if err := driver.Disconnect(); err != nil {
		return fmt.Errorf("disconnect failed: %w", err)
	}
	outputSuccess("disconnected %s", connectTargetNode)
	return nil
}
