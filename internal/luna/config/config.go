// Package config loads the engine configuration from a YAML file, validates
// it against an embedded JSON Schema, and applies environment overrides.
// Secrets (API keys) are usually supplied via environment rather than the
// file so the file can be committed.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/luna/common/environment"
)

//go:embed schema.json
var schemaJSON []byte

// Config is the engine's full configuration. Zero values mean "use the
// default"; Normalize fills them in.
type Config struct {
	// Listen is the control server bind address.
	Listen string `yaml:"listen" json:"listen"`

	// Token, when non-empty, is required as a bearer token on every control
	// request.
	Token string `yaml:"token" json:"token"`

	// DataDir holds the per-user database files.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	Log        LogConfig        `yaml:"log" json:"log"`
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`
	Chat       ChatConfig       `yaml:"chat" json:"chat"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// ClassifierConfig configures the hosted-inference classifier.
type ClassifierConfig struct {
	APIKey         string   `yaml:"api_key" json:"api_key"`
	BaseURL        string   `yaml:"base_url" json:"base_url"`
	SentimentModel string   `yaml:"sentiment_model" json:"sentiment_model"`
	ThemeModel     string   `yaml:"theme_model" json:"theme_model"`
	ThemeLabels    []string `yaml:"theme_labels" json:"theme_labels"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// ChatConfig configures the chat-completions adapter.
type ChatConfig struct {
	APIKey       string `yaml:"api_key" json:"api_key"`
	BaseURL      string `yaml:"base_url" json:"base_url"`
	Model        string `yaml:"model" json:"model"`
	WhisperModel string `yaml:"whisper_model" json:"whisper_model"`
}

// RetryConfig controls the backoff for external adapter calls.
type RetryConfig struct {
	MaxAttempts    int `yaml:"max_attempts" json:"max_attempts"`
	InitialDelayMS int `yaml:"initial_delay_ms" json:"initial_delay_ms"`
	MaxDelayMS     int `yaml:"max_delay_ms" json:"max_delay_ms"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8780"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialDelayMS == 0 {
		c.Retry.InitialDelayMS = 500
	}
	if c.Retry.MaxDelayMS == 0 {
		c.Retry.MaxDelayMS = 10_000
	}
}

// ClassifierTimeout returns the configured classifier timeout as a duration.
func (c *Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutSeconds) * time.Second
}

// Load reads the YAML file at path, validates it against the schema, applies
// environment overrides, and fills defaults. An empty path yields the
// default configuration (environment overrides still apply).
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := validate(data); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.Normalize()
	return &cfg, nil
}

// Parse validates and decodes a YAML document. Unlike Load it applies no
// environment overrides; defaults are still filled.
func Parse(data []byte) (*Config, error) {
	if err := validate(data); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// validate checks the YAML document against the embedded JSON Schema. The
// document is round-tripped through JSON so the validator sees canonical
// types.
func validate(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("canonicalize: %w", err)
	}
	var canonical any
	if err := json.Unmarshal(raw, &canonical); err != nil {
		return fmt.Errorf("canonicalize: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	schema, err := compiler.Compile("config.schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	if err := schema.Validate(canonical); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}

// applyEnv overrides file values from the environment. API keys are expected
// here rather than in the file.
func (c *Config) applyEnv() {
	c.Listen = environment.StringOr("LUNA_LISTEN", c.Listen)
	c.Token = environment.StringOr("LUNA_TOKEN", c.Token)
	c.DataDir = environment.StringOr("LUNA_DATA_DIR", c.DataDir)
	c.Log.Level = environment.StringOr("LUNA_LOG_LEVEL", c.Log.Level)
	c.Log.Format = environment.StringOr("LUNA_LOG_FORMAT", c.Log.Format)
	c.Classifier.APIKey = environment.StringOr("HUGGINGFACE_API_KEY", c.Classifier.APIKey)
	c.Chat.APIKey = environment.StringOr("GROQ_API_KEY", c.Chat.APIKey)
	if n := environment.IntOr("LUNA_RETRY_MAX_ATTEMPTS", 0); n > 0 {
		c.Retry.MaxAttempts = n
	}
}
