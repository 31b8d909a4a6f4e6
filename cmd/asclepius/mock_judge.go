package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/straja-ai/asclepius/internal/config"
	"github.com/straja-ai/asclepius/internal/logging"
	"github.com/straja-ai/asclepius/internal/mockjudge"
)

var mockJudgeAddr string

var mockJudgeCmd = &cobra.Command{
	Use:   "mock-judge",
	Short: "Run an OpenAI-compatible mock judge for local development",
	Long: `Serve a deterministic judge on --addr. Point the gateway at it with

  judge:
    type: mock
    base_url: http://127.0.0.1:18090/v1
    allow_private_networks: true`,
	Args: cobra.NoArgs,
	RunE: runMockJudge,
}

func init() {
	mockJudgeCmd.Flags().StringVar(&mockJudgeAddr, "addr", "", "listen address (default 127.0.0.1:$MOCK_JUDGE_PORT or 127.0.0.1:18090)")
}

func runMockJudge(cmd *cobra.Command, _ []string) error {
	level := logLevel
	if level == "" {
		level = "info"
	}
	logger, err := newLogger(config.LoggingConfig{Level: level, Format: "console"})
	if err != nil {
		return err
	}
	defer func() { _ = logging.Sync(logger) }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, baseURL, err := mockjudge.StartMockJudge(mockJudgeAddr, logger.Named("mockjudge"))
	if err != nil {
		return err
	}
	logger.Info("mock judge ready", zap.String("base_url", baseURL))

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return shutdown(sctx)
}
