package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/straja-ai/asclepius/internal/gateway"
	"github.com/straja-ai/asclepius/internal/httpapi"
	"github.com/straja-ai/asclepius/internal/logging"
	"github.com/straja-ai/asclepius/internal/telemetry"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	Long: `Start the HTTP server, then build the scrubber and judge client. Requests
answer 503 until the gateway is ready. If it cannot be built the server is
shut down and the process exits non-zero.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logging.Sync(logger) }()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Protocol: cfg.Telemetry.Protocol,
		Service:  cfg.Telemetry.Service,
		Version:  version,
	}, logger)
	if err != nil {
		logger.Error("telemetry setup failed", logging.Err(err))
		return err
	}

	srv, err := httpapi.NewServer(logger, httpapi.Config{
		Addr:      cfg.Server.Addr,
		BodyLimit: cfg.Server.BodyLimit,
		Version:   version,
	})
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	shutdown := func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("http shutdown failed", logging.Err(err))
		}
		tel.Shutdown(sctx)
	}

	g, err := gateway.Build(ctx, cfg, gateway.Options{Logger: logger, Telemetry: tel})
	if err != nil {
		logger.Error("gateway startup failed; refusing to serve", logging.Err(err))
		shutdown()
		return err
	}
	srv.SetGateway(g)
	logger.Info("asclepius ready", zap.String("addr", cfg.Server.Addr))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err, ok := <-serveErr:
		if ok && err != nil {
			logger.Error("http server failed", logging.Err(err))
			g.Close(context.Background())
			shutdown()
			return err
		}
	}

	srv.SetGateway(nil)
	shutdown()
	g.Close(context.Background())
	return nil
}
