package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/straja-ai/asclepius/internal/gateway"
	"github.com/straja-ai/asclepius/internal/logging"
)

var scrubCmd = &cobra.Command{
	Use:   "scrub [file]",
	Short: "Redact identifiers from a file or stdin",
	Long: `Scrub text locally with the configured recognizers and print the
sanitized text and detected entity types as JSON. Nothing is sent over the
network.

Examples:
  # Scrub a file
  asclepius scrub note.txt

  # Scrub from stdin
  cat note.txt | asclepius scrub -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScrub,
}

func runScrub(cmd *cobra.Command, args []string) error {
	var (
		content []byte
		err     error
	)
	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logging.Sync(logger) }()

	s, release, err := gateway.BuildScrubber(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	if release != nil {
		defer release()
	}

	res, err := s.Scrub(cmd.Context(), string(content))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
