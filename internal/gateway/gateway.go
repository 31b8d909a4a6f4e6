// Package gateway scrubs a clinical transaction locally, sends only the
// sanitized fields to the remote evaluator and assembles the report.
package gateway

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/straja-ai/asclepius/internal/audit"
	"github.com/straja-ai/asclepius/internal/entity"
	"github.com/straja-ai/asclepius/internal/evaluator"
	"github.com/straja-ai/asclepius/internal/logging"
	"github.com/straja-ai/asclepius/internal/scrubber"
	"github.com/straja-ai/asclepius/internal/telemetry"
)

// Status tags a Report.
type Status string

const (
	StatusSuccess            Status = "success"
	StatusServiceUnavailable Status = "service_unavailable"
)

// ServiceUnavailableMessage is the error text of a service_unavailable report.
const ServiceUnavailableMessage = "Evaluation Service Unavailable"

// Transaction is one clinical exchange to audit. RequestID only correlates
// logs and audit events and is never sent to the judge.
type Transaction struct {
	Query     string `json:"query"`
	Context   string `json:"context"`
	Response  string `json:"response"`
	RequestID string `json:"-"`
}

// SecurityAudit summarizes what the scrubber removed.
type SecurityAudit struct {
	PIIDetected         bool          `json:"pii_detected"`
	RedactedEntityTypes []entity.Type `json:"redacted_entity_types"`
	RedactionCount      int           `json:"redaction_count"`
}

// Report is returned for every processed transaction.
type Report struct {
	Status          Status             `json:"status"`
	SecurityAudit   SecurityAudit      `json:"security_audit"`
	ClinicalQuality *evaluator.Verdict `json:"clinical_quality,omitempty"`
	Error           string             `json:"error,omitempty"`
}

// Scrubber is the local redaction step.
type Scrubber interface {
	Scrub(ctx context.Context, text string) (scrubber.Result, error)
}

// Evaluator is the remote judging step.
type Evaluator interface {
	Evaluate(ctx context.Context, query, sourceContext, response string) (evaluator.Verdict, error)
}

// Options carries the gateway's optional collaborators.
type Options struct {
	Logger    *zap.Logger
	Audit     *audit.Emitter
	Telemetry *telemetry.Provider
}

// Gateway is immutable after New and safe for concurrent use.
type Gateway struct {
	scrubber  Scrubber
	evaluator Evaluator
	logger    *zap.Logger
	audit     *audit.Emitter
	telemetry *telemetry.Provider
	closers   []func(context.Context)
}

var (
	ErrNoScrubber  = errors.New("gateway: scrubber is required")
	ErrNoEvaluator = errors.New("gateway: evaluator is required")
)

// New wires a gateway. The scrubber is checked first: without it nothing
// may be built.
func New(s Scrubber, e Evaluator, opts Options) (*Gateway, error) {
	if isNil(s) {
		return nil, ErrNoScrubber
	}
	if isNil(e) {
		return nil, ErrNoEvaluator
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}
	return &Gateway{
		scrubber:  s,
		evaluator: e,
		logger:    logger,
		audit:     opts.Audit,
		telemetry: tel,
	}, nil
}

type scrubbed struct {
	query, context, response scrubber.Result
}

// Process scrubs the three fields, evaluates the sanitized text and builds
// the report. Evaluation failures become service_unavailable reports; the
// only error returned is a scrub failure, in which case nothing was sent.
func (g *Gateway) Process(ctx context.Context, tx Transaction) (*Report, error) {
	start := time.Now()
	ctx, span := g.startSpan(ctx, "asclepius.process", trace.SpanKindInternal, map[string]any{
		"asclepius.request_id": tx.RequestID,
	})
	defer span.End()

	out, err := g.scrubAll(ctx, tx)
	scrubMs := sinceMs(start)
	if err != nil {
		span.SetStatus(codes.Error, "scrub failed")
		g.logger.Error("scrub failed; transaction not forwarded",
			zap.String("request_id", tx.RequestID), logging.Err(err))
		g.telemetry.RecordTransaction(ctx, telemetry.Transaction{
			Status:      "scrub_failed",
			FailureKind: "scrub",
			TotalMs:     sinceMs(start),
			ScrubMs:     scrubMs,
		})
		return nil, err
	}

	sec, perType, perField := summarize(out)

	judgeStart := time.Now()
	jctx, jspan := g.startSpan(ctx, "asclepius.evaluate", trace.SpanKindClient, nil)
	verdict, evalErr := g.evaluator.Evaluate(jctx, out.query.Text, out.context.Text, out.response.Text)
	failureKind := ""
	if evalErr != nil {
		failureKind = string(evaluator.KindOf(evalErr))
		if failureKind == "" {
			failureKind = string(evaluator.KindTransport)
		}
		jspan.SetStatus(codes.Error, failureKind)
	}
	jspan.End()
	judgeMs := sinceMs(judgeStart)

	report := &Report{Status: StatusSuccess, SecurityAudit: sec}
	if evalErr != nil {
		report.Status = StatusServiceUnavailable
		report.Error = ServiceUnavailableMessage
		span.SetStatus(codes.Error, "evaluation failed")
		span.SetAttributes(attribute.String("asclepius.failure_kind", failureKind))
		g.logger.Warn("evaluation failed",
			zap.String("request_id", tx.RequestID),
			zap.String("failure_kind", failureKind),
			logging.Err(evalErr))
	} else {
		v := verdict
		report.ClinicalQuality = &v
	}

	total := sinceMs(start)
	span.SetAttributes(
		attribute.Bool("asclepius.pii_detected", sec.PIIDetected),
		attribute.Int("asclepius.redaction_count", sec.RedactionCount),
		attribute.String("asclepius.status", string(report.Status)),
	)
	g.telemetry.RecordTransaction(ctx, telemetry.Transaction{
		Status:      string(report.Status),
		FailureKind: failureKind,
		PIIDetected: sec.PIIDetected,
		Redactions:  perType,
		TotalMs:     total,
		ScrubMs:     scrubMs,
		JudgeMs:     judgeMs,
	})
	g.emitAudit(tx.RequestID, report, perField, failureKind, total, scrubMs, judgeMs)
	g.logger.Debug("transaction processed",
		zap.String("request_id", tx.RequestID),
		zap.String("status", string(report.Status)),
		zap.Int("redactions", sec.RedactionCount),
		zap.Float64("latency_ms", total))
	return report, nil
}

// scrubAll runs the three scrubs concurrently and waits for all of them.
func (g *Gateway) scrubAll(ctx context.Context, tx Transaction) (scrubbed, error) {
	var out scrubbed
	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		out.query, err = g.scrubber.Scrub(ectx, tx.Query)
		return err
	})
	eg.Go(func() (err error) {
		out.context, err = g.scrubber.Scrub(ectx, tx.Context)
		return err
	})
	eg.Go(func() (err error) {
		out.response, err = g.scrubber.Scrub(ectx, tx.Response)
		return err
	})
	if err := eg.Wait(); err != nil {
		return scrubbed{}, err
	}
	return out, nil
}

// summarize builds the audit plus per-type and per-field counts.
func summarize(out scrubbed) (SecurityAudit, map[string]int, map[string]int) {
	perType := map[string]int{}
	perField := map[string]int{
		"query":    len(out.query.Types),
		"context":  len(out.context.Types),
		"response": len(out.response.Types),
	}
	total := 0
	for _, r := range []scrubber.Result{out.query, out.context, out.response} {
		for _, t := range r.Types {
			perType[t.String()]++
			total++
		}
	}
	types := make([]entity.Type, 0, len(perType))
	for t := range perType {
		types = append(types, entity.Type(t))
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return SecurityAudit{
		PIIDetected:         total > 0,
		RedactedEntityTypes: types,
		RedactionCount:      total,
	}, perType, perField
}

func (g *Gateway) emitAudit(requestID string, r *Report, perField map[string]int, failureKind string, total, scrubMs, judgeMs float64) {
	if g.audit == nil {
		return
	}
	ev := audit.NewEvent(requestID)
	ev.Status = string(r.Status)
	ev.PIIDetected = r.SecurityAudit.PIIDetected
	ev.RedactionCount = r.SecurityAudit.RedactionCount
	ev.RedactedEntityTypes = make([]string, 0, len(r.SecurityAudit.RedactedEntityTypes))
	for _, t := range r.SecurityAudit.RedactedEntityTypes {
		ev.RedactedEntityTypes = append(ev.RedactedEntityTypes, t.String())
	}
	ev.FieldRedactions = perField
	ev.FailureKind = failureKind
	if v := r.ClinicalQuality; v != nil {
		ev.Verdict = &audit.Verdict{
			Score:                 v.Score,
			HallucinationDetected: v.HallucinationDetected,
			MissingWarnings:       v.MissingWarnings,
		}
	}
	ev.LatencyMs = total
	ev.ScrubMs = scrubMs
	ev.JudgeMs = judgeMs
	g.audit.Emit(ev)
}

func (g *Gateway) startSpan(ctx context.Context, name string, kind trace.SpanKind, attrs map[string]any) (context.Context, trace.Span) {
	return g.telemetry.Tracer().Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(telemetry.SafeAttributes(attrs)...))
}

func sinceMs(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}

// isNil catches typed nil pointers stored in an interface.
func isNil(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case *scrubber.Scrubber:
		return x == nil
	case *evaluator.Evaluator:
		return x == nil
	}
	return false
}
