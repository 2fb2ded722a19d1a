// Package config loads consultx settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tetraminz/consultation_x/internal/consult"
	"github.com/tetraminz/consultation_x/internal/evaluate"
	"github.com/tetraminz/consultation_x/internal/persona"
	"github.com/tetraminz/consultation_x/internal/scenario"
)

const (
	EnvConfigFile     = "CONSULTX_CONFIG"
	EnvDBDriver       = "CONSULTX_DB_DRIVER"
	EnvDBDSN          = "CONSULTX_DB_DSN"
	DefaultConfigFile = "consultx.yaml"
)

// Config holds all consultx settings.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Persona   PersonaConfig   `yaml:"persona"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
	Voice     VoiceConfig     `yaml:"voice"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
	APIKeys   APIKeys         `yaml:"api_keys"`
}

type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, gorm-sqlite, postgres, memory
	DSN    string `yaml:"dsn"`
}

// PersonaConfig configures the simulated client.
type PersonaConfig struct {
	Provider           string  `yaml:"provider"`
	Model              string  `yaml:"model"`
	Temperature        float64 `yaml:"temperature"`
	MaxTokens          int     `yaml:"max_tokens"`
	OpeningTemperature float64 `yaml:"opening_temperature"`
	OpeningMaxTokens   int     `yaml:"opening_max_tokens"`
	Timeout            string  `yaml:"timeout"`
	MaxAttempts        int     `yaml:"max_attempts"`
}

// EvaluatorConfig configures the grader.
type EvaluatorConfig struct {
	Provider       string  `yaml:"provider"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	Timeout        string  `yaml:"timeout"`
	MaxAttempts    int     `yaml:"max_attempts"`
	TierTolerance  int     `yaml:"tier_tolerance"`
	ScoreTolerance int     `yaml:"score_tolerance"`
}

// VoiceConfig configures speech for phone sessions.
type VoiceConfig struct {
	Enabled              bool   `yaml:"enabled"`
	TTSModel             string `yaml:"tts_model"`
	STTModel             string `yaml:"stt_model"`
	VoiceName            string `yaml:"voice_name"`
	SynthesisTimeout     string `yaml:"synthesis_timeout"`
	TranscriptionTimeout string `yaml:"transcription_timeout"`
	AudioDir             string `yaml:"audio_dir"`
}

type SessionConfig struct {
	MaxUserTurns       int `yaml:"max_user_turns"`
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// APIKeys are usually supplied through the environment.
type APIKeys struct {
	Groq      string `yaml:"groq"`
	OpenAI    string `yaml:"openai"`
	Anthropic string `yaml:"anthropic"`
	Gemini    string `yaml:"gemini"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	pd := persona.DefaultConfig()
	ed := evaluate.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ShutdownTimeout: "10s",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    filepath.Join("data", "consultx.db"),
		},
		Persona: PersonaConfig{
			Provider:           "groq",
			Model:              pd.Model,
			Temperature:        pd.Temperature,
			MaxTokens:          pd.MaxTokens,
			OpeningTemperature: pd.OpeningTemperature,
			OpeningMaxTokens:   pd.OpeningMaxTokens,
			Timeout:            pd.Timeout.String(),
			MaxAttempts:        pd.MaxAttempts,
		},
		Evaluator: EvaluatorConfig{
			Provider:       "anthropic",
			Model:          ed.Model,
			Temperature:    ed.Temperature,
			MaxTokens:      ed.MaxTokens,
			Timeout:        ed.Timeout.String(),
			MaxAttempts:    ed.MaxAttempts,
			TierTolerance:  ed.TierTolerance,
			ScoreTolerance: ed.ScoreTolerance,
		},
		Voice: VoiceConfig{
			Enabled:              true,
			TTSModel:             "gemini-2.5-flash-preview-tts",
			STTModel:             "gemini-2.5-flash",
			VoiceName:            "Kore",
			SynthesisTimeout:     "15s",
			TranscriptionTimeout: "10s",
			AudioDir:             filepath.Join("data", "audio"),
		},
		Session: SessionConfig{
			MaxUserTurns:       scenario.DefaultMaxUserTurns,
			MaxConcurrentCalls: consult.DefaultConfig().MaxConcurrentCalls,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path, or the file named by CONSULTX_CONFIG, or ./consultx.yaml.
// A missing default file yields the defaults; a missing explicit file is an
// error. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := true
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigFile))
	}
	if path == "" {
		path = DefaultConfigFile
		explicit = false
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML. API keys are not written.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	out := *c
	out.APIKeys = APIKeys{}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	setFromEnv(&c.APIKeys.Groq, "GROQ_API_KEY")
	setFromEnv(&c.APIKeys.OpenAI, "OPENAI_API_KEY")
	setFromEnv(&c.APIKeys.Anthropic, "ANTHROPIC_API_KEY")
	setFromEnv(&c.APIKeys.Gemini, "GEMINI_API_KEY")
	setFromEnv(&c.Database.Driver, EnvDBDriver)
	setFromEnv(&c.Database.DSN, EnvDBDSN)
}

func setFromEnv(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// APIKey returns the key configured for a provider name.
func (c *Config) APIKey(provider string) string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "groq":
		return c.APIKeys.Groq
	case "openai":
		return c.APIKeys.OpenAI
	case "anthropic":
		return c.APIKeys.Anthropic
	case "gemini":
		return c.APIKeys.Gemini
	}
	return ""
}

var knownProviders = map[string]bool{"groq": true, "openai": true, "anthropic": true, "gemini": true}

var knownDrivers = map[string]bool{"sqlite": true, "gorm-sqlite": true, "postgres": true, "memory": true}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	duration := func(name, raw string) {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		check(err == nil && d > 0, "%s: invalid duration %q", name, raw)
	}

	check(strings.TrimSpace(c.Server.Addr) != "", "server.addr is required")
	duration("server.shutdown_timeout", c.Server.ShutdownTimeout)

	check(knownDrivers[strings.ToLower(strings.TrimSpace(c.Database.Driver))], "database.driver: unknown driver %q", c.Database.Driver)
	check(c.Database.Driver == "memory" || strings.TrimSpace(c.Database.DSN) != "", "database.dsn is required for driver %q", c.Database.Driver)

	check(knownProviders[strings.ToLower(c.Persona.Provider)], "persona.provider: unknown provider %q", c.Persona.Provider)
	check(strings.TrimSpace(c.Persona.Model) != "", "persona.model is required")
	check(c.Persona.Temperature >= 0 && c.Persona.Temperature <= 2, "persona.temperature must be within [0, 2]")
	check(c.Persona.MaxTokens > 0, "persona.max_tokens must be positive")
	check(c.Persona.MaxAttempts > 0, "persona.max_attempts must be positive")
	duration("persona.timeout", c.Persona.Timeout)

	check(knownProviders[strings.ToLower(c.Evaluator.Provider)], "evaluator.provider: unknown provider %q", c.Evaluator.Provider)
	check(strings.TrimSpace(c.Evaluator.Model) != "", "evaluator.model is required")
	check(c.Evaluator.Temperature >= 0 && c.Evaluator.Temperature <= 2, "evaluator.temperature must be within [0, 2]")
	check(c.Evaluator.MaxTokens > 0, "evaluator.max_tokens must be positive")
	check(c.Evaluator.MaxAttempts > 0, "evaluator.max_attempts must be positive")
	check(c.Evaluator.TierTolerance >= 0, "evaluator.tier_tolerance must not be negative")
	check(c.Evaluator.ScoreTolerance >= 0, "evaluator.score_tolerance must not be negative")
	duration("evaluator.timeout", c.Evaluator.Timeout)

	if c.Voice.Enabled {
		duration("voice.synthesis_timeout", c.Voice.SynthesisTimeout)
		duration("voice.transcription_timeout", c.Voice.TranscriptionTimeout)
		check(strings.TrimSpace(c.Voice.AudioDir) != "", "voice.audio_dir is required when voice is enabled")
	}

	check(c.Session.MaxUserTurns > 0, "session.max_user_turns must be positive")
	check(c.Session.MaxConcurrentCalls > 0, "session.max_concurrent_calls must be positive")

	return errors.Join(errs...)
}

// PersonaSettings converts the persona section. Call Validate first.
func (c *Config) PersonaSettings() persona.Config {
	return persona.Config{
		Model:              c.Persona.Model,
		Temperature:        c.Persona.Temperature,
		MaxTokens:          c.Persona.MaxTokens,
		OpeningTemperature: c.Persona.OpeningTemperature,
		OpeningMaxTokens:   c.Persona.OpeningMaxTokens,
		Timeout:            parseDuration(c.Persona.Timeout),
		MaxAttempts:        c.Persona.MaxAttempts,
	}
}

// EvaluatorSettings converts the evaluator section. Call Validate first.
func (c *Config) EvaluatorSettings() evaluate.Config {
	return evaluate.Config{
		Model:          c.Evaluator.Model,
		MaxTokens:      c.Evaluator.MaxTokens,
		Temperature:    c.Evaluator.Temperature,
		Timeout:        parseDuration(c.Evaluator.Timeout),
		MaxAttempts:    c.Evaluator.MaxAttempts,
		TierTolerance:  c.Evaluator.TierTolerance,
		ScoreTolerance: c.Evaluator.ScoreTolerance,
	}
}

func (c *Config) ConsultSettings() consult.Config {
	return consult.Config{
		MaxConcurrentCalls: c.Session.MaxConcurrentCalls,
		MaxUserTurns:       c.Session.MaxUserTurns,
	}
}

func (c *Config) ShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout)
}

func (c *Config) SynthesisTimeout() time.Duration {
	return parseDuration(c.Voice.SynthesisTimeout)
}

func (c *Config) TranscriptionTimeout() time.Duration {
	return parseDuration(c.Voice.TranscriptionTimeout)
}

// parseDuration returns zero for invalid input so component defaults apply.
func parseDuration(raw string) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d < 0 {
		return 0
	}
	return d
}
