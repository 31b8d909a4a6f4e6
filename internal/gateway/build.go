package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/straja-ai/asclepius/internal/audit"
	"github.com/straja-ai/asclepius/internal/config"
	"github.com/straja-ai/asclepius/internal/evaluator"
	"github.com/straja-ai/asclepius/internal/judge"
	"github.com/straja-ai/asclepius/internal/ner"
	"github.com/straja-ai/asclepius/internal/recognizer"
	"github.com/straja-ai/asclepius/internal/scrubber"
)

// Startup stages, in construction order.
const (
	StageConfig     = "config"
	StageRecognizer = "recognizer"
	StageScrubber   = "scrubber"
	StageJudge      = "judge"
	StageEvaluator  = "evaluator"
	StageAudit      = "audit"
)

// StartupError reports which construction stage failed. A gateway that
// fails to build must not serve traffic.
type StartupError struct {
	Stage string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("gateway startup failed at %s: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// Build constructs the full pipeline from cfg. The local scrubber is built
// and self-checked before any network-capable component exists. Resources
// it creates are released by Close.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Gateway, error) {
	if cfg == nil {
		return nil, &StartupError{Stage: StageConfig, Err: errors.New("config is nil")}
	}
	if err := config.Validate(cfg); err != nil {
		return nil, &StartupError{Stage: StageConfig, Err: err}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var closers []func(context.Context)
	fail := func(stage string, err error) (*Gateway, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i](ctx)
		}
		return nil, &StartupError{Stage: stage, Err: err}
	}

	scrub, closeScrubber, err := BuildScrubber(ctx, cfg, logger)
	if err != nil {
		var se *StartupError
		if errors.As(err, &se) {
			return fail(se.Stage, se.Err)
		}
		return fail(StageScrubber, err)
	}
	if closeScrubber != nil {
		closers = append(closers, func(context.Context) { closeScrubber() })
	}

	client, err := judge.New(judge.Config{
		Type:             cfg.Judge.Type,
		BaseURL:          cfg.Judge.BaseURL,
		APIKey:           cfg.Judge.ResolveAPIKey(),
		Model:            cfg.Judge.Model,
		Timeout:          cfg.Judge.Timeout,
		MaxResponseBytes: cfg.Judge.MaxResponseBytes,
	})
	if err != nil {
		return fail(StageJudge, err)
	}
	eval, err := evaluator.New(client, evaluator.Options{Timeout: cfg.Judge.Timeout})
	if err != nil {
		return fail(StageEvaluator, err)
	}

	if opts.Audit == nil {
		em, err := buildAudit(cfg.Audit, logger)
		if err != nil {
			return fail(StageAudit, err)
		}
		opts.Audit = em
		closers = append(closers, em.Close)
	}

	g, err := New(scrub, eval, opts)
	if err != nil {
		return fail(StageScrubber, err)
	}
	g.closers = closers
	logger.Info("gateway ready",
		zap.Strings("entities", cfg.Scrubber.Entities),
		zap.String("judge", cfg.Judge.Type),
		zap.Bool("ner", cfg.Recognizer.NER.Enabled))
	return g, nil
}

// BuildScrubber constructs the recognition engine and the scrubber only. It
// never touches the network, so local tools can share the serving config.
// The returned func releases the engine and may be nil.
func BuildScrubber(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*scrubber.Scrubber, func(), error) {
	if cfg == nil {
		return nil, nil, &StartupError{Stage: StageConfig, Err: errors.New("config is nil")}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	engine, closeEngine, err := buildEngine(cfg.Recognizer, logger)
	if err != nil {
		return nil, nil, &StartupError{Stage: StageRecognizer, Err: err}
	}
	release := func() {
		if closeEngine != nil {
			closeEngine()
		}
	}

	targets, err := cfg.Scrubber.EntityTypes()
	if err != nil {
		release()
		return nil, nil, &StartupError{Stage: StageScrubber, Err: err}
	}
	policy, err := cfg.Scrubber.Policy()
	if err != nil {
		release()
		return nil, nil, &StartupError{Stage: StageScrubber, Err: err}
	}
	s, err := scrubber.New(ctx, engine, scrubber.Options{
		Entities:     targets,
		Language:     cfg.Scrubber.Language,
		Policy:       policy,
		MinScore:     cfg.Scrubber.MinScore,
		SweepRepeats: cfg.Scrubber.SweepRepeats != nil && *cfg.Scrubber.SweepRepeats,
	})
	if err != nil {
		release()
		return nil, nil, &StartupError{Stage: StageScrubber, Err: err}
	}
	return s, closeEngine, nil
}

// Close releases what Build created, last built first.
func (g *Gateway) Close(ctx context.Context) {
	if g == nil {
		return
	}
	for i := len(g.closers) - 1; i >= 0; i-- {
		g.closers[i](ctx)
	}
	g.closers = nil
}

func buildEngine(cfg config.RecognizerConfig, logger *zap.Logger) (recognizer.Engine, func(), error) {
	var (
		engines []recognizer.Engine
		closer  func()
	)
	if cfg.Regex.Enabled == nil || *cfg.Regex.Enabled {
		engines = append(engines, recognizer.NewRegex())
	}
	if cfg.NER.Enabled {
		labels, err := ner.ParseLabelMap(cfg.NER.LabelMap)
		if err != nil {
			return nil, nil, err
		}
		m, err := ner.Load(ner.Config{
			ModelDir:          cfg.NER.ModelDir,
			SharedLibraryPath: cfg.NER.SharedLibraryPath,
			MaxTokens:         cfg.NER.MaxTokens,
			PoolSize:          cfg.NER.PoolSize,
			IntraThreads:      cfg.NER.IntraThreads,
			InterThreads:      cfg.NER.InterThreads,
			LowerCase:         cfg.NER.LowerCase == nil || *cfg.NER.LowerCase,
			LabelMap:          labels,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		engines = append(engines, m)
		closer = m.Close
	}
	if len(engines) == 1 {
		return engines[0], closer, nil
	}
	c, err := recognizer.NewComposite(engines...)
	if err != nil {
		if closer != nil {
			closer()
		}
		return nil, nil, err
	}
	return c, closer, nil
}

func buildAudit(cfg config.AuditConfig, logger *zap.Logger) (*audit.Emitter, error) {
	sinks := make([]audit.Sink, 0, len(cfg.Sinks))
	for i, sc := range cfg.Sinks {
		switch strings.ToLower(strings.TrimSpace(sc.Type)) {
		case "log":
			sinks = append(sinks, audit.NewLogSink(logger))
		case "webhook":
			s, err := audit.NewWebhookSink(sc.URL, sc.Headers, sc.Timeout)
			if err != nil {
				return nil, fmt.Errorf("sink %d: %w", i, err)
			}
			sinks = append(sinks, s)
		default:
			return nil, fmt.Errorf("sink %d: unknown type %q", i, sc.Type)
		}
	}
	return audit.NewEmitter(audit.EmitterConfig{
		QueueSize:       cfg.QueueSize,
		Workers:         cfg.Workers,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, sinks, logger), nil
}
