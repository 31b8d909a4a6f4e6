// Package evaluator scores sanitized clinical responses with a remote judge.
package evaluator

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/straja-ai/asclepius/internal/judge"
)

// Kind classifies an evaluation failure.
type Kind string

const (
	KindTransport Kind = "transport"
	KindTimeout   Kind = "timeout"
	KindCanceled  Kind = "canceled"
	KindMalformed Kind = "malformed"
	KindInvalid   Kind = "invalid"
)

// Error is a typed evaluation failure. The message names only the kind; the
// underlying cause is reachable through Unwrap for logging.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return "evaluation failed: " + string(e.Kind) }

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err, or "" if it is not an *Error.
func KindOf(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// Options tunes an Evaluator.
type Options struct {
	// Timeout bounds the judge call only. Zero means no extra deadline.
	Timeout time.Duration
}

// Evaluator holds no per-call state and is safe for concurrent use.
type Evaluator struct {
	client  judge.Client
	timeout time.Duration
}

func New(client judge.Client, opts Options) (*Evaluator, error) {
	if client == nil {
		return nil, errors.New("evaluator: judge client is required")
	}
	if opts.Timeout < 0 {
		return nil, errors.New("evaluator: timeout must not be negative")
	}
	return &Evaluator{client: client, timeout: opts.Timeout}, nil
}

// Evaluate sends the rubric and the three sanitized fields to the judge.
// On any failure it returns Degraded() together with an *Error.
func (e *Evaluator) Evaluate(ctx context.Context, query, sourceContext, response string) (Verdict, error) {
	prompt := BuildPrompt(query, sourceContext, response)

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	reply, err := e.client.Generate(callCtx, prompt)
	if err != nil {
		return Degraded(), &Error{Kind: classify(err), Err: err}
	}
	v, err := ParseVerdict(reply)
	if err != nil {
		return Degraded(), err
	}
	return v, nil
}

func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindTransport
}
