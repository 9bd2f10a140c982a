package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"st"},
	Short:   "Show connection status for every configured node",
	RunE:    runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	net, err := buildNetwork()
	if err != nil {
		return err
	}

	statuses := net.NetworkStatus()

	if outputFmt == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	fmt.Println()
	fmt.Println(color(colorBold, "Node Status"))
	fmt.Println(strings.Repeat("-", 60))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tPROTOCOL\tSTATE\tRECONNECTS\tLAST ERROR")
	for _, ns := range statuses {
		state := ns.Status.State.String()
		switch ns.Status.State.String() {
		case "connected":
			state = color(colorGreen, state)
		case "error", "disconnected":
			state = color(colorRed, state)
		default:
			state = color(colorYellow, state)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			ns.Name, ns.Status.Protocol, state, ns.Status.Reconnects, ns.Status.LastError)
	}
	w.Flush()
	fmt.Println()
	return nil
}
