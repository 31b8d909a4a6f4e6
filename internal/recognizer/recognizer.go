// Package recognizer detects sensitive entity spans in free text.
package recognizer

import (
	"context"
	"errors"
	"sort"

	"github.com/straja-ai/asclepius/internal/entity"
)

// LanguageEnglish is the only language the bundled rules understand.
const LanguageEnglish = "en"

// ErrUnsupportedLanguage is returned when an engine has no rules for the requested language.
var ErrUnsupportedLanguage = errors.New("recognizer: unsupported language")

// Engine finds entity spans in text. Implementations must be safe for
// concurrent use. Returned spans are sorted by start offset and do not overlap.
type Engine interface {
	Analyze(ctx context.Context, text string, types []entity.Type, language string) ([]entity.Detected, error)
}

// ResolveOverlaps keeps one span per overlapping group: the higher score wins,
// then the longer span, then the earlier one. The result is sorted by start.
func ResolveOverlaps(in []entity.Detected) []entity.Detected {
	if len(in) == 0 {
		return nil
	}
	cands := append([]entity.Detected(nil), in...)
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		if cands[i].Len() != cands[j].Len() {
			return cands[i].Len() > cands[j].Len()
		}
		return cands[i].Start < cands[j].Start
	})

	kept := make([]entity.Detected, 0, len(cands))
	for _, c := range cands {
		if c.End <= c.Start {
			continue
		}
		clash := false
		for _, k := range kept {
			if c.Overlaps(k) {
				clash = true
				break
			}
		}
		if !clash {
			kept = append(kept, c)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}
