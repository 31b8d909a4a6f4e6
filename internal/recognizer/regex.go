package recognizer

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/straja-ai/asclepius/internal/entity"
)

// RegexSource labels spans produced by the rule engine.
const RegexSource = "regex"

// Regex is a deterministic rule-based engine for English text.
type Regex struct {
	id      string
	version string
	rules   []rule
}

// NewRegex builds the engine with the bundled rule set.
func NewRegex() *Regex {
	return &Regex{
		id:      "asclepius-regex",
		version: "0.1.0",
		rules:   builtinRules(),
	}
}

// ID identifies the rule bundle.
func (e *Regex) ID() string { return e.id + "@" + e.version }

// Analyze runs every rule for the requested types and resolves overlaps.
func (e *Regex) Analyze(ctx context.Context, text string, types []entity.Type, language string) ([]entity.Detected, error) {
	if !strings.EqualFold(strings.TrimSpace(language), LanguageEnglish) {
		return nil, ErrUnsupportedLanguage
	}
	if text == "" || len(types) == 0 {
		return nil, nil
	}
	wanted := entity.NewSet(types)

	var found []entity.Detected
	for _, r := range e.rules {
		if !wanted.Has(r.typ) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found = append(found, r.scan(text)...)
	}
	return ResolveOverlaps(found), nil
}

// scan walks the text match by match. A rejected match only skips its first
// word, so a later word of the same match can still start an accepted one.
func (r rule) scan(text string) []entity.Detected {
	var out []entity.Detected
	pos := 0
	for pos < len(text) {
		loc := r.pattern.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if end == start {
			pos = start + 1
			continue
		}
		if r.bounded(text, start, end) && (r.validate == nil || r.validate(text[start:end])) && r.contextSatisfied(text, start) {
			out = append(out, entity.Detected{
				Start:  start,
				End:    end,
				Type:   r.typ,
				Score:  r.score,
				Source: RegexSource + ":" + r.id,
			})
			pos = end
			continue
		}
		pos = skipWord(text, start)
	}
	return out
}

// skipWord returns the offset just past the word that begins at i.
func skipWord(text string, i int) int {
	_, size := utf8.DecodeRuneInString(text[i:])
	i += size
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		i += size
	}
	return i
}
