package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/plcgateway/gateway/internal/config"
	"github.com/plcgateway/gateway/internal/diag"
	"github.com/plcgateway/gateway/internal/httpapi"
	"github.com/plcgateway/gateway/internal/network"
)

var (
	serveAddr    string
	serveDiagDB  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway network and its HTTP surface",
	Example: `  plcgatewayctl serve -c gateway.yaml -l :8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "listen", "l", ":8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&serveDiagDB, "diag-db", "", "optional SQLite path for replication error persistence")
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return errConfigRequired
	}
	doc, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ring := diag.NewRing(256)
	if serveDiagDB != "" {
		if err := ring.OpenSQLite(serveDiagDB); err != nil {
			return err
		}
		defer ring.Close()
	}

	nodes, err := config.BuildNodes(doc)
	if err != nil {
		return err
	}
	mappings := diag.AttachToEngine(config.BuildMappings(doc), ring)
	net := network.New(nodes, mappings, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := net.StartNetwork(ctx); err != nil {
		return err
	}
	defer net.StopNetwork()

	server := httpapi.New(net, logger).WithDiagRing(ring)
	httpServer := &http.Server{Addr: serveAddr, Handler: server.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	outputSuccess("listening on %s", serveAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

var errConfigRequired = &cliError{"serve: --config is required"}

type cliError struct{ msg string }

func (e *cliError) Error() string { return e.msg }
