package main

import (
	"github.com/spf13/cobra"

	"github.com/jfoltran/pgreplicate/internal/metrics"
	"github.com/jfoltran/pgreplicate/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a standalone status server",
	Long: `Serve starts the pgreplicate HTTP/WS status server on its own,
without running a stream. At startup it copies the phase from the state
file; every other field it reports (LSNs, lag, event counts, recent
events) comes from its own collector, which no stream feeds, and later
state file writes are not read.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		collector := metrics.NewCollector(logger)
		defer collector.Close()

		if snap, err := metrics.ReadStateFile(); err == nil {
			collector.SetPhase(snap.Phase)
		}

		srv := server.New(collector, &cfg, logger)
		return srv.Start(cmd.Context(), cfg.Dashboard.ListenAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&cfg.Dashboard.ListenAddr, "listen", "", `HTTP server listen address (default: server.listen and server.port from the config file or PGREPLICATE_LISTEN/PGREPLICATE_PORT, else "127.0.0.1:8090")`)
	rootCmd.AddCommand(serveCmd)
}
