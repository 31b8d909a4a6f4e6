// Command asclepius runs the clinical evaluation gateway and its local tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/straja-ai/asclepius/internal/config"
	"github.com/straja-ai/asclepius/internal/logging"
)

var (
	configPath string
	logLevel   string
	version    = "1.0.0"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "asclepius",
	Short: "Clinical response evaluation gateway",
	Long: `asclepius scrubs patient identifiers from a clinical exchange locally and
asks a remote LLM judge to score only the sanitized text.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "asclepius.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
	rootCmd.AddCommand(serveCmd, scrubCmd, benchCmd, mockJudgeCmd, auditReceiverCmd)
}

// loadConfig reads the config file and builds the process logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newLogger(lc config.LoggingConfig) (*zap.Logger, error) {
	return logging.New(logging.Config{
		Level:   lc.Level,
		Format:  lc.Format,
		Service: "asclepius",
		Version: version,
	})
}
