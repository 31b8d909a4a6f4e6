package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/straja-ai/asclepius/internal/gateway"
	"github.com/straja-ai/asclepius/internal/logging"
)

var (
	benchN    int
	benchText string
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure local scrub latency",
	Args:  cobra.NoArgs,
	RunE:  runBench,
}

func init() {
	benchCmd.Flags().IntVar(&benchN, "n", 200, "number of iterations")
	benchCmd.Flags().StringVar(&benchText, "text",
		"Is ibuprofen safe for John Smith, phone 555-123-4567? Seen by Dr. Adams on March 3, 2024.",
		"text to scrub")
}

func runBench(cmd *cobra.Command, _ []string) error {
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

	ctx := cmd.Context()
	for i := 0; i < 5; i++ {
		if _, err := s.Scrub(ctx, benchText); err != nil {
			return fmt.Errorf("warmup scrub failed: %w", err)
		}
	}

	n := benchN
	if n <= 0 {
		n = 1
	}
	durations := make([]time.Duration, 0, n)
	redactions := 0
	for i := 0; i < n; i++ {
		start := time.Now()
		res, err := s.Scrub(ctx, benchText)
		if err != nil {
			return fmt.Errorf("scrub failed: %w", err)
		}
		durations = append(durations, time.Since(start))
		redactions = len(res.Types)
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000.0 }

	fmt.Fprintf(cmd.OutOrStdout(), "bench: n=%d avg_ms=%.3f p50_ms=%.3f p95_ms=%.3f redactions=%d ner=%t\n",
		len(durations),
		ms(total)/float64(len(durations)),
		ms(durations[len(durations)/2]),
		ms(durations[int(float64(len(durations))*0.95)]),
		redactions,
		cfg.Recognizer.NER.Enabled,
	)
	return nil
}
