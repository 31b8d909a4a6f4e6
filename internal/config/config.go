// Package config loads the gateway's YAML configuration.
package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/straja-ai/asclepius/internal/entity"
)

// Config holds Asclepius configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Scrubber   ScrubberConfig   `yaml:"scrubber"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Judge      JudgeConfig      `yaml:"judge"`
	Audit      AuditConfig      `yaml:"audit"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	BodyLimit       string        `yaml:"body_limit"` // echo size string, e.g. "256K"
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

type ScrubberConfig struct {
	Language           string            `yaml:"language"`
	Entities           []string          `yaml:"entities"`
	Placeholders       map[string]string `yaml:"placeholders"`
	DefaultPlaceholder string            `yaml:"default_placeholder"`
	MinScore           float32           `yaml:"min_score"`
	SweepRepeats       *bool             `yaml:"sweep_repeats"`
}

type RecognizerConfig struct {
	Regex RegexConfig `yaml:"regex"`
	NER   NERConfig   `yaml:"ner"`
}

type RegexConfig struct {
	Enabled *bool `yaml:"enabled"`
}

type NERConfig struct {
	Enabled           bool              `yaml:"enabled"`
	ModelDir          string            `yaml:"model_dir"`
	SharedLibraryPath string            `yaml:"shared_library_path"`
	MaxTokens         int               `yaml:"max_tokens"`
	PoolSize          int               `yaml:"pool_size"`
	IntraThreads      int               `yaml:"intra_threads"`
	InterThreads      int               `yaml:"inter_threads"`
	LowerCase         *bool             `yaml:"lower_case"`
	LabelMap          map[string]string `yaml:"label_map"`
}

type JudgeConfig struct {
	Type                 string        `yaml:"type"` // gemini | openai | mock
	BaseURL              string        `yaml:"base_url"`
	Model                string        `yaml:"model"`
	APIKeyEnv            string        `yaml:"api_key_env"`
	APIKey               string        `yaml:"api_key"`
	Timeout              time.Duration `yaml:"timeout"`
	MaxResponseBytes     int64         `yaml:"max_response_bytes"`
	AllowPrivateNetworks bool          `yaml:"allow_private_networks"`
}

type AuditConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	Workers         int           `yaml:"workers"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Sinks           []SinkConfig  `yaml:"sinks"`
}

type SinkConfig struct {
	Type    string            `yaml:"type"` // log | webhook
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // grpc | http
	Service  string `yaml:"service"`
}

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.BodyLimit == "" {
		// fits all three fields at their character bounds, fully \u-escaped
		cfg.Server.BodyLimit = "256K"
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Scrubber.Language == "" {
		cfg.Scrubber.Language = "en"
	}
	if len(cfg.Scrubber.Entities) == 0 {
		for _, t := range entity.All() {
			cfg.Scrubber.Entities = append(cfg.Scrubber.Entities, t.String())
		}
	}
	if cfg.Scrubber.Placeholders == nil {
		cfg.Scrubber.Placeholders = map[string]string{
			entity.Person.String():      "<PATIENT_NAME>",
			entity.PhoneNumber.String(): "<PHONE>",
		}
	}
	if cfg.Scrubber.DefaultPlaceholder == "" {
		cfg.Scrubber.DefaultPlaceholder = entity.DefaultPlaceholder
	}
	if cfg.Scrubber.SweepRepeats == nil {
		on := true
		cfg.Scrubber.SweepRepeats = &on
	}

	if cfg.Recognizer.Regex.Enabled == nil {
		on := true
		cfg.Recognizer.Regex.Enabled = &on
	}
	if cfg.Recognizer.NER.LowerCase == nil {
		on := true
		cfg.Recognizer.NER.LowerCase = &on
	}

	if cfg.Judge.Type == "" {
		cfg.Judge.Type = "gemini"
	}
	if cfg.Judge.APIKeyEnv == "" && cfg.Judge.APIKey == "" {
		switch strings.ToLower(cfg.Judge.Type) {
		case "gemini":
			cfg.Judge.APIKeyEnv = "GOOGLE_API_KEY"
		case "openai":
			cfg.Judge.APIKeyEnv = "OPENAI_API_KEY"
		}
	}
	if cfg.Judge.Timeout <= 0 {
		cfg.Judge.Timeout = 30 * time.Second
	}

	if cfg.Audit.QueueSize <= 0 {
		cfg.Audit.QueueSize = 1000
	}
	if cfg.Audit.Workers <= 0 {
		cfg.Audit.Workers = 1
	}
	if cfg.Audit.ShutdownTimeout <= 0 {
		cfg.Audit.ShutdownTimeout = 2 * time.Second
	}
	if cfg.Audit.Sinks == nil {
		cfg.Audit.Sinks = []SinkConfig{{Type: "log"}}
	}

	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.Service == "" {
		cfg.Telemetry.Service = "asclepius"
	}
}

// ResolveAPIKey returns the inline key, else the value of the configured env var.
func (j JudgeConfig) ResolveAPIKey() string {
	if k := strings.TrimSpace(j.APIKey); k != "" {
		return k
	}
	if j.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(j.APIKeyEnv))
}

// EntityTypes parses the configured target entity list.
func (s ScrubberConfig) EntityTypes() ([]entity.Type, error) {
	return entity.ParseTypes(s.Entities)
}

// Policy builds the placeholder policy.
func (s ScrubberConfig) Policy() (entity.Policy, error) {
	return entity.NewPolicy(s.Placeholders, s.DefaultPlaceholder)
}
