package judge

import (
	"context"
	"sync"
)

// Fake records prompts and returns a canned reply. Safe for concurrent use.
type Fake struct {
	Reply string
	Err   error
	// Hook, when set, replaces Reply/Err.
	Hook func(ctx context.Context, prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

func NewFake(reply string) *Fake {
	return &Fake{Reply: reply}
}

func (f *Fake) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if f.Hook != nil {
		return f.Hook(ctx, prompt)
	}
	if f.Err != nil {
		return "", f.Err
	}
	return f.Reply, nil
}

// Prompts returns every prompt received so far.
func (f *Fake) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}
