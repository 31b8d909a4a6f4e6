package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/straja-ai/asclepius/internal/audit"
	"github.com/straja-ai/asclepius/internal/config"
	"github.com/straja-ai/asclepius/internal/logging"
)

var auditReceiverAddr string

var auditReceiverCmd = &cobra.Command{
	Use:   "audit-receiver",
	Short: "Log audit events posted by a webhook sink",
	Long: `Accept audit events on POST /audit (or /) and log them. Useful for
checking a webhook sink configuration locally.`,
	Args: cobra.NoArgs,
	RunE: runAuditReceiver,
}

func init() {
	auditReceiverCmd.Flags().StringVar(&auditReceiverAddr, "addr", ":8099", "listen address")
}

func runAuditReceiver(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(config.LoggingConfig{Level: "info", Format: "console"})
	if err != nil {
		return err
	}
	defer func() { _ = logging.Sync(logger) }()

	srv := &http.Server{
		Addr:              auditReceiverAddr,
		Handler:           auditReceiverHandler(logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	logger.Info("audit receiver listening", zap.String("addr", auditReceiverAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func auditReceiverHandler(logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	handle := func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		_ = r.Body.Close()
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var ev audit.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			logger.Warn("undecodable audit event", zap.Int("len", len(body)), zap.Error(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		logger.Info("received audit event",
			zap.String("id", ev.ID),
			zap.String("request_id", ev.RequestID),
			zap.String("status", ev.Status),
			zap.Bool("pii_detected", ev.PIIDetected),
			zap.Strings("redacted_entity_types", ev.RedactedEntityTypes),
			zap.Int("redaction_count", ev.RedactionCount),
			zap.String("failure_kind", ev.FailureKind),
			zap.Float64("latency_ms", ev.LatencyMs),
		)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"ok"}`+"\n")
	}
	mux.HandleFunc("/audit", handle)
	mux.HandleFunc("/", handle)
	return mux
}
