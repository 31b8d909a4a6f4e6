// Package scrubber replaces sensitive entity spans with placeholders before
// any text leaves the process.
package scrubber

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/straja-ai/asclepius/internal/entity"
	"github.com/straja-ai/asclepius/internal/recognizer"
)

var (
	// ErrInvalidSpans means the engine returned spans that cannot be replaced
	// safely (out of bounds or overlapping). The text must not be forwarded.
	ErrInvalidSpans = errors.New("scrubber: invalid entity spans")

	// ErrPlaceholderDetectable means a placeholder would itself be redacted.
	ErrPlaceholderDetectable = errors.New("scrubber: placeholder is detectable as an entity")
)

// Error wraps a per-call engine failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "scrub " + e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Options configures a Scrubber.
type Options struct {
	Entities []entity.Type
	Language string
	Policy   entity.Policy
	MinScore float32
	// SweepRepeats also redacts later whole-word occurrences of an already
	// detected value that the engine did not report on its own.
	SweepRepeats bool
}

// Result is the sanitized text and one entity type per redacted span, in
// detection order.
type Result struct {
	Text  string        `json:"text"`
	Types []entity.Type `json:"detected_types"`
}

// Scrubber is immutable after construction and safe for concurrent use.
type Scrubber struct {
	engine   recognizer.Engine
	entities []entity.Type
	targets  entity.Set
	language string
	policy   entity.Policy
	minScore float32
	sweep    bool
}

// New validates options and checks that no placeholder is itself detectable.
func New(ctx context.Context, engine recognizer.Engine, opts Options) (*Scrubber, error) {
	if engine == nil {
		return nil, errors.New("scrubber: recognition engine is required")
	}
	if len(opts.Entities) == 0 {
		return nil, errors.New("scrubber: at least one target entity type is required")
	}
	for _, t := range opts.Entities {
		if !t.Valid() {
			return nil, fmt.Errorf("scrubber: unknown entity type %q", t)
		}
	}
	if strings.TrimSpace(opts.Language) == "" {
		opts.Language = recognizer.LanguageEnglish
	}
	if opts.Policy.IsZero() {
		opts.Policy = entity.DefaultPolicy()
	}
	if opts.MinScore < 0 || opts.MinScore > 1 {
		return nil, fmt.Errorf("scrubber: min score %v outside [0,1]", opts.MinScore)
	}

	s := &Scrubber{
		engine:   engine,
		entities: append([]entity.Type(nil), opts.Entities...),
		targets:  entity.NewSet(opts.Entities),
		language: opts.Language,
		policy:   opts.Policy,
		minScore: opts.MinScore,
		sweep:    opts.SweepRepeats,
	}

	for _, p := range opts.Policy.Placeholders() {
		spans, err := s.detect(ctx, p)
		if err != nil {
			return nil, &Error{Op: "placeholder check", Err: err}
		}
		if len(spans) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrPlaceholderDetectable, p)
		}
	}
	return s, nil
}

// Entities returns the configured target types.
func (s *Scrubber) Entities() []entity.Type {
	return append([]entity.Type(nil), s.entities...)
}

// Scrub redacts every detected target span. Empty input returns immediately
// without consulting the engine.
func (s *Scrubber) Scrub(ctx context.Context, text string) (Result, error) {
	if text == "" {
		return Result{Text: "", Types: []entity.Type{}}, nil
	}
	spans, err := s.detect(ctx, text)
	if err != nil {
		return Result{}, &Error{Op: "analyze", Err: err}
	}
	if err := validateSpans(spans, len(text)); err != nil {
		return Result{}, err
	}
	if s.sweep {
		spans = sweepRepeats(text, spans)
	}

	types := make([]entity.Type, 0, len(spans))
	for _, d := range spans {
		types = append(types, d.Type)
	}
	return Result{Text: s.replace(text, spans), Types: types}, nil
}

// detect runs the engine restricted to the target set and drops anything
// outside it or under the score threshold.
func (s *Scrubber) detect(ctx context.Context, text string) ([]entity.Detected, error) {
	raw, err := s.engine.Analyze(ctx, text, s.entities, s.language)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Detected, 0, len(raw))
	for _, d := range raw {
		if !s.targets.Has(d.Type) || d.Score < s.minScore {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func validateSpans(spans []entity.Detected, n int) error {
	sorted := append([]entity.Detected(nil), spans...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for i, d := range sorted {
		if d.Start < 0 || d.End > n || d.End <= d.Start {
			return fmt.Errorf("%w: span %d out of bounds", ErrInvalidSpans, i)
		}
		if i > 0 && sorted[i-1].End > d.Start {
			return fmt.Errorf("%w: spans %d and %d overlap", ErrInvalidSpans, i-1, i)
		}
	}
	return nil
}

// replace substitutes spans right to left so earlier offsets stay valid.
func (s *Scrubber) replace(text string, spans []entity.Detected) string {
	if len(spans) == 0 {
		return text
	}
	ordered := append([]entity.Detected(nil), spans...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start > ordered[j].Start })

	out := text
	for _, d := range ordered {
		out = out[:d.Start] + s.policy.Placeholder(d.Type) + out[d.End:]
	}
	return out
}

// sweepRepeats appends spans for whole-word repeats of detected values that
// do not overlap an existing span. Full values are swept before the single
// words of multi-word names, so "John Smith" later in the text wins over a
// separate "John".
func sweepRepeats(text string, spans []entity.Detected) []entity.Detected {
	if len(spans) == 0 {
		return spans
	}
	type needle struct {
		value string
		from  entity.Detected
	}
	var needles, parts []needle
	for _, d := range spans {
		value := text[d.Start:d.End]
		needles = append(needles, needle{value: value, from: d})
		if d.Type == entity.Person {
			for _, w := range nameParts(value) {
				parts = append(parts, needle{value: w, from: d})
			}
		}
	}

	out := append([]entity.Detected(nil), spans...)
	seen := make(map[string]bool, len(needles)+len(parts))
	for _, n := range append(needles, parts...) {
		if seen[n.value] || utf8.RuneCountInString(n.value) < 2 {
			continue
		}
		seen[n.value] = true

		from := 0
		for {
			idx := strings.Index(text[from:], n.value)
			if idx < 0 {
				break
			}
			cand := entity.Detected{
				Start:  from + idx,
				End:    from + idx + len(n.value),
				Type:   n.from.Type,
				Score:  n.from.Score,
				Source: "sweep",
			}
			from = cand.End
			if !wordBounded(text, cand.Start, cand.End) || overlapsAny(cand, out) {
				continue
			}
			out = append(out, cand)
		}
	}
	return out
}

var honorifics = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "miss": true, "dr": true, "prof": true,
}

// nameParts splits a multi-word name into the words worth sweeping on their
// own. Honorifics and initials are dropped.
func nameParts(value string) []string {
	words := strings.Fields(value)
	if len(words) < 2 {
		return nil
	}
	var out []string
	for _, w := range words {
		w = strings.TrimSuffix(w, ".")
		if utf8.RuneCountInString(w) < 2 || honorifics[strings.ToLower(w)] {
			continue
		}
		out = append(out, w)
	}
	return out
}

func overlapsAny(d entity.Detected, spans []entity.Detected) bool {
	for _, s := range spans {
		if d.Overlaps(s) {
			return true
		}
	}
	return false
}

func wordBounded(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
