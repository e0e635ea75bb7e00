package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket API",
	Long: `Starts the simulation API server.

Endpoints:
  GET  /api/v1/health                    - Health check
  GET  /api/v1/symbols                   - Stored symbols
  GET  /api/v1/symbols/{symbol}/quality  - Data quality report
  GET  /api/v1/simulations               - Known runs
  POST /api/v1/simulations/montecarlo    - Start a Monte Carlo run
  POST /api/v1/simulations/bootstrap     - Start a bootstrap run
  GET  /api/v1/simulations/{id}          - Run state and result
  POST /api/v1/simulations/{id}/cancel   - Cancel a run
  GET  /metrics                          - Prometheus metrics
  WS   /ws                               - Progress stream

Example:
  simctl serve --host 0.0.0.0 --port 8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := application.Config
		logger.Info("Starting simulation API",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("dataDir", cfg.Data.DataDir),
		)
		return application.Serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "localhost", "server host")
	serveCmd.Flags().Int("port", 8080, "server port")
	serveCmd.Flags().Bool("metrics", true, "expose /metrics")
	bindFlags(serveCmd, map[string]string{
		"host":    "server.host",
		"port":    "server.port",
		"metrics": "server.enable_metrics",
	})
}
