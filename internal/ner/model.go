// Package ner runs an ONNX token-classification model as a recognition engine.
package ner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/straja-ai/asclepius/internal/entity"
	"github.com/straja-ai/asclepius/internal/recognizer"
)

const (
	defaultMaxTokens    = 256
	defaultPoolSize     = 1
	defaultIntraThreads = 1
	defaultInterThreads = 1
)

// Config describes where the model lives and how to run it.
type Config struct {
	ModelDir          string
	SharedLibraryPath string
	MaxTokens         int
	PoolSize          int
	IntraThreads      int
	InterThreads      int
	LowerCase         bool
	LabelMap          map[string]entity.Type
}

// inferer runs one forward pass and returns logits of shape [seqLen, numLabels].
type inferer interface {
	infer(ids, attn []int64) ([]float32, error)
	destroy()
}

// Model is a recognizer.Engine backed by a token-classification network.
type Model struct {
	id        string
	tokenizer *WordPieceTokenizer
	labels    []string
	mapping   map[string]entity.Type
	seqLen    int
	sessions  chan inferer
	closeOnce sync.Once
}

var _ recognizer.Engine = (*Model)(nil)

// Load opens the model directory (model.onnx or model.int8.onnx, vocab.txt,
// config.json) and prepares a pool of ONNX sessions.
func Load(cfg Config, logger *zap.Logger) (*Model, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := strings.TrimSpace(cfg.ModelDir)
	if dir == "" {
		return nil, errors.New("ner: model dir is empty")
	}
	cfg = withDefaults(cfg)

	modelPath := resolveModelPath(dir)
	if modelPath == "" {
		return nil, fmt.Errorf("ner: no model.onnx under %s", dir)
	}
	vocabPath, err := findVocab(dir)
	if err != nil {
		return nil, fmt.Errorf("ner: %w", err)
	}
	tok, err := LoadWordPieceTokenizer(vocabPath, cfg.LowerCase)
	if err != nil {
		return nil, fmt.Errorf("ner: load tokenizer: %w", err)
	}
	meta, err := loadModelMeta(dir)
	if err != nil {
		return nil, fmt.Errorf("ner: %w", err)
	}

	if err := initRuntime(cfg.SharedLibraryPath, dir); err != nil {
		return nil, err
	}
	outputName, err := selectOutputName(modelPath)
	if err != nil {
		return nil, fmt.Errorf("ner: output selection: %w", err)
	}

	sessions := make(chan inferer, cfg.PoolSize)
	for i := 0; i < cfg.PoolSize; i++ {
		s, err := newSession(modelPath, outputName, cfg, len(meta.Labels), meta.RequiresTokenType)
		if err != nil {
			close(sessions)
			for s := range sessions {
				s.destroy()
			}
			return nil, fmt.Errorf("ner: create onnx session %d/%d: %w", i+1, cfg.PoolSize, err)
		}
		sessions <- s
	}

	m := newModel(filepath.Base(dir), tok, meta.Labels, cfg.LabelMap, cfg.MaxTokens, sessions)
	logger.Info("ner model loaded",
		zap.String("model", filepath.Base(modelPath)),
		zap.Int("labels", len(meta.Labels)),
		zap.Int("max_tokens", cfg.MaxTokens),
		zap.Int("pool_size", cfg.PoolSize),
	)
	return m, nil
}

func newModel(id string, tok *WordPieceTokenizer, labels []string, mapping map[string]entity.Type, seqLen int, sessions chan inferer) *Model {
	if len(mapping) == 0 {
		mapping = DefaultLabelMap()
	}
	return &Model{
		id:        id,
		tokenizer: tok,
		labels:    labels,
		mapping:   mapping,
		seqLen:    seqLen,
		sessions:  sessions,
	}
}

func withDefaults(cfg Config) Config {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if cfg.IntraThreads <= 0 {
		cfg.IntraThreads = defaultIntraThreads
	}
	if cfg.InterThreads <= 0 {
		cfg.InterThreads = defaultInterThreads
	}
	return cfg
}

// Analyze tokenizes text into windows, runs each through a pooled session and
// decodes BIO labels into spans of the requested types.
func (m *Model) Analyze(ctx context.Context, text string, types []entity.Type, language string) ([]entity.Detected, error) {
	if !strings.EqualFold(strings.TrimSpace(language), recognizer.LanguageEnglish) {
		return nil, recognizer.ErrUnsupportedLanguage
	}
	if strings.TrimSpace(text) == "" || len(types) == 0 {
		return nil, nil
	}
	wanted := entity.NewSet(types)
	source := "ner:" + m.id

	var found []entity.Detected
	for _, w := range m.tokenizer.windows(text, m.seqLen) {
		tokens, err := m.run(ctx, w)
		if err != nil {
			return nil, err
		}
		for _, d := range decodeBIO(tokens, m.mapping, source) {
			if wanted.Has(d.Type) {
				found = append(found, d)
			}
		}
	}
	return recognizer.ResolveOverlaps(found), nil
}

func (m *Model) run(ctx context.Context, w window) ([]tokenLabel, error) {
	var s inferer
	select {
	case s = <-m.sessions:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	logits, err := s.infer(w.ids, w.attn)
	m.sessions <- s
	if err != nil {
		return nil, fmt.Errorf("ner: onnx run: %w", err)
	}

	numLabels := len(m.labels)
	out := make([]tokenLabel, 0, len(w.offsets))
	for i, off := range w.offsets {
		base := i * numLabels
		if base+numLabels > len(logits) {
			break
		}
		best, prob := argmaxSoftmax(logits[base : base+numLabels])
		out = append(out, tokenLabel{label: m.labels[best], score: prob, offset: off})
	}
	return out, nil
}

// Close releases every pooled session. It waits for in-flight calls.
func (m *Model) Close() {
	m.closeOnce.Do(func() {
		for i := 0; i < cap(m.sessions); i++ {
			s := <-m.sessions
			s.destroy()
		}
	})
}

func argmaxSoftmax(logits []float32) (int, float32) {
	best := 0
	for j := range logits {
		if logits[j] > logits[best] {
			best = j
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v - logits[best]))
	}
	if sum == 0 {
		return best, 0
	}
	return best, float32(1 / sum)
}

var runtimeInit struct {
	sync.Mutex
	done bool
}

func initRuntime(libPath, modelDir string) error {
	runtimeInit.Lock()
	defer runtimeInit.Unlock()
	if runtimeInit.done || ort.IsInitialized() {
		runtimeInit.done = true
		return nil
	}
	if strings.TrimSpace(libPath) == "" {
		libPath = resolveSharedLibraryPath(modelDir)
	}
	if libPath == "" {
		return errors.New("ner: onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("ner: initialize onnxruntime: %w", err)
	}
	runtimeInit.done = true
	return nil
}

// resolveSharedLibraryPath locates the onnxruntime shared library.
// ONNXRUNTIME_SHARED_LIBRARY_PATH wins over the probed locations.
func resolveSharedLibraryPath(modelDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}
	names := []string{"libonnxruntime.so", "libonnxruntime.dylib", "onnxruntime.dll"}
	dirs := []string{modelDir, filepath.Join(modelDir, "lib"), "/opt/homebrew/lib", "/usr/local/lib", "/usr/lib"}
	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

func resolveModelPath(dir string) string {
	for _, name := range []string{"model.int8.onnx", "model.onnx"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
