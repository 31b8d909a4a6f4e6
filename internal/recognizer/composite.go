package recognizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/straja-ai/asclepius/internal/entity"
)

// Composite fans a request out to several engines and merges their spans.
// Any engine error fails the whole analysis.
type Composite struct {
	engines []Engine
}

// NewComposite combines engines; at least one is required.
func NewComposite(engines ...Engine) (*Composite, error) {
	var live []Engine
	for _, e := range engines {
		if e != nil {
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		return nil, errors.New("recognizer: no engines configured")
	}
	return &Composite{engines: live}, nil
}

func (c *Composite) Analyze(ctx context.Context, text string, types []entity.Type, language string) ([]entity.Detected, error) {
	var all []entity.Detected
	for i, e := range c.engines {
		spans, err := e.Analyze(ctx, text, types, language)
		if err != nil {
			return nil, fmt.Errorf("engine %d: %w", i, err)
		}
		all = append(all, spans...)
	}
	return ResolveOverlaps(all), nil
}
