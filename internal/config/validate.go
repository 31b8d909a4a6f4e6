package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/straja-ai/asclepius/internal/logging"
	"github.com/straja-ai/asclepius/internal/recognizer"
)

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", cfg.Logging.Format)
	}

	if err := validateScrubberConfig(cfg.Scrubber); err != nil {
		return err
	}
	if err := validateRecognizerConfig(cfg.Recognizer); err != nil {
		return err
	}
	if err := validateJudgeConfig(cfg.Judge); err != nil {
		return err
	}
	if err := validateAuditConfig(cfg.Audit); err != nil {
		return err
	}
	if err := validateTelemetryConfig(cfg.Telemetry); err != nil {
		return err
	}
	return nil
}

func validateScrubberConfig(s ScrubberConfig) error {
	if lang := strings.TrimSpace(s.Language); lang != "" && lang != recognizer.LanguageEnglish {
		return fmt.Errorf("scrubber.language %q: %w", lang, recognizer.ErrUnsupportedLanguage)
	}
	if len(s.Entities) == 0 {
		return errors.New("scrubber.entities must list at least one entity type")
	}
	if _, err := s.EntityTypes(); err != nil {
		return fmt.Errorf("scrubber.entities: %w", err)
	}
	if _, err := s.Policy(); err != nil {
		return fmt.Errorf("scrubber.placeholders: %w", err)
	}
	if s.MinScore < 0 || s.MinScore > 1 {
		return fmt.Errorf("scrubber.min_score must be within [0,1], got %v", s.MinScore)
	}
	return nil
}

func validateRecognizerConfig(r RecognizerConfig) error {
	regexOn := r.Regex.Enabled == nil || *r.Regex.Enabled
	if !regexOn && !r.NER.Enabled {
		return errors.New("recognizer: at least one of regex or ner must be enabled")
	}
	if !r.NER.Enabled {
		return nil
	}
	if strings.TrimSpace(r.NER.ModelDir) == "" {
		return errors.New("recognizer.ner.model_dir must be set when ner is enabled")
	}
	if r.NER.MaxTokens < 0 || r.NER.PoolSize < 0 || r.NER.IntraThreads < 0 || r.NER.InterThreads < 0 {
		return errors.New("recognizer.ner: numeric settings must not be negative")
	}
	if r.NER.MaxTokens != 0 && r.NER.MaxTokens < 8 {
		return fmt.Errorf("recognizer.ner.max_tokens too small: %d", r.NER.MaxTokens)
	}
	return nil
}

func validateJudgeConfig(j JudgeConfig) error {
	typ := strings.ToLower(strings.TrimSpace(j.Type))
	switch typ {
	case "gemini", "openai":
		if strings.TrimSpace(j.APIKeyEnv) == "" && strings.TrimSpace(j.APIKey) == "" {
			return fmt.Errorf("judge %q missing api key (api_key_env or api_key)", typ)
		}
	case "mock":
		if strings.TrimSpace(j.BaseURL) == "" {
			return errors.New("judge type mock requires base_url")
		}
	case "":
		return errors.New("judge.type must be set")
	default:
		return fmt.Errorf("judge.type must be gemini, openai or mock, got %q", j.Type)
	}
	if j.Timeout < 0 {
		return errors.New("judge.timeout must not be negative")
	}
	if j.MaxResponseBytes < 0 {
		return errors.New("judge.max_response_bytes must not be negative")
	}
	if j.BaseURL != "" {
		u, err := url.Parse(j.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("judge has invalid base_url")
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.New("judge base_url must be http or https")
		}
		if err := blockPrivateHost(u.Host, j.AllowPrivateNetworks); err != nil {
			return fmt.Errorf("judge base_url blocked: %w", err)
		}
	}
	return nil
}

func validateAuditConfig(a AuditConfig) error {
	if a.QueueSize < 0 || a.Workers < 0 {
		return errors.New("audit.queue_size and audit.workers must not be negative")
	}
	for i, s := range a.Sinks {
		switch strings.ToLower(strings.TrimSpace(s.Type)) {
		case "log":
		case "webhook":
			if strings.TrimSpace(s.URL) == "" {
				return fmt.Errorf("audit sink %d (webhook) missing url", i)
			}
			u, err := url.Parse(s.URL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("audit sink %d (webhook) has invalid url", i)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("audit sink %d (webhook) url must be http or https", i)
			}
		default:
			return fmt.Errorf("audit sink %d has unknown type %q", i, s.Type)
		}
	}
	return nil
}

func validateTelemetryConfig(t TelemetryConfig) error {
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.Endpoint) == "" {
		return errors.New("telemetry enabled but endpoint is empty")
	}
	switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", t.Protocol)
	}
	return nil
}

func blockPrivateHost(hostport string, allowPrivate bool) error {
	if allowPrivate {
		return nil
	}
	host := hostport
	if strings.Contains(hostport, "]") || strings.Contains(hostport, ":") {
		h, _, err := net.SplitHostPort(hostport)
		if err == nil {
			host = h
		}
	}
	lc := strings.ToLower(strings.TrimSpace(host))
	if lc == "localhost" {
		return errors.New("private network host localhost blocked for SSRF safety")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return fmt.Errorf("private network IP %s blocked for SSRF safety", ip.String())
		}
		return nil
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	privateBlocks := []*net.IPNet{
		{IP: net.ParseIP("127.0.0.0"), Mask: net.CIDRMask(8, 32)},
		{IP: net.ParseIP("10.0.0.0"), Mask: net.CIDRMask(8, 32)},
		{IP: net.ParseIP("172.16.0.0"), Mask: net.CIDRMask(12, 32)},
		{IP: net.ParseIP("192.168.0.0"), Mask: net.CIDRMask(16, 32)},
		{IP: net.ParseIP("169.254.0.0"), Mask: net.CIDRMask(16, 32)},
		{IP: net.ParseIP("::1"), Mask: net.CIDRMask(128, 128)},
		{IP: net.ParseIP("fc00::"), Mask: net.CIDRMask(7, 128)},
		{IP: net.ParseIP("fe80::"), Mask: net.CIDRMask(10, 128)},
	}
	for _, block := range privateBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}
