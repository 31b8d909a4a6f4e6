// Package judge sends a single prompt to a remote LLM and returns its raw reply.
package judge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is the remote judge transport. Generate is the only call in the
// system that moves text across the network.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const (
	TypeOpenAI = "openai"
	TypeGemini = "gemini"
	TypeMock   = "mock"
)

const (
	defaultTimeout          = 60 * time.Second
	defaultMaxResponseBytes = 4 * 1024 * 1024
)

// Config selects and configures a judge client.
type Config struct {
	Type             string
	BaseURL          string
	APIKey           string
	Model            string
	Timeout          time.Duration
	MaxResponseBytes int64
}

// StatusError is a non-2xx reply from the judge API.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s error status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s error status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// New builds the client for cfg.Type. Credentials are required for real providers.
func New(cfg Config) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case TypeOpenAI:
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("judge %s: api key is required", TypeOpenAI)
		}
		return NewOpenAI(cfg), nil
	case TypeGemini:
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("judge %s: api key is required", TypeGemini)
		}
		return NewGemini(cfg), nil
	case TypeMock:
		// the mock judge speaks the OpenAI protocol and ignores the key
		if cfg.APIKey == "" {
			cfg.APIKey = "mock"
		}
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("judge %s: base_url is required", TypeMock)
		}
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("judge: unknown type %q", cfg.Type)
	}
}

func httpClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func responseLimit(n int64) int64 {
	if n <= 0 {
		return defaultMaxResponseBytes
	}
	return n
}

// readLimited reads at most limit bytes and fails if the body is larger.
func readLimited(provider string, r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", provider, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%s response exceeded limit (%d bytes)", provider, limit)
	}
	return body, nil
}
