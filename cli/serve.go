package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caseflow/caseflow/engine/infra/monitoring"
	"github.com/caseflow/caseflow/engine/infra/server"
	"github.com/caseflow/caseflow/engine/runtime"
	"github.com/caseflow/caseflow/pkg/config"
	"github.com/caseflow/caseflow/pkg/logger"
)

func ServeCmd() *cobra.Command {
	var dbPath string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.Database.Path = dbPath
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "database path (overrides CASEFLOW_DATABASE_PATH)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides CASEFLOW_SERVER_PORT)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger.Init(&logger.Config{Level: logger.LogLevel(cfg.Log.Level), JSON: cfg.Log.JSON})
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("shutting down engine", "error", err)
		}
	}()
	metrics := monitoring.NewService()
	return server.NewServer(cfg, engine, metrics).Start(ctx)
}
