// Package config resolves the settings of one optimization run.
//
// Resolution order is: built-in defaults, an optional YAML file, EXTRACTOPT_*
// environment variables, then functional options (usually CLI flags). The
// result is validated once and treated as immutable for the rest of the run.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/teilomillet/extractopt/internal/logging"
)

const (
	BackendRemote = "remote"
	BackendLocal  = "local"

	TargetPrompt = "prompt"
	TargetSchema = "schema"

	LengthUnitChars  = "chars"
	LengthUnitTokens = "tokens"

	LogFormatCSV  = "csv"
	LogFormatXLSX = "xlsx"
)

// DefaultInitialPrompt is the starting student prompt when none is configured.
const DefaultInitialPrompt = "You are an event extraction AI. Read the text and output valid JSON."

type Config struct {
	Backend       string `yaml:"backend" env:"EXTRACTOPT_BACKEND" validate:"oneof=remote local"`
	BaseURL       string `yaml:"base_url" env:"EXTRACTOPT_BASE_URL" validate:"required,url"`
	APIKey        string `yaml:"api_key" env:"EXTRACTOPT_API_KEY"`
	LocalEndpoint string `yaml:"local_endpoint" env:"EXTRACTOPT_LOCAL_ENDPOINT" validate:"omitempty,url"`

	StudentModel string `yaml:"student_model" env:"EXTRACTOPT_STUDENT_MODEL" validate:"required"`
	TeacherModel string `yaml:"teacher_model" env:"EXTRACTOPT_TEACHER_MODEL" validate:"required"`

	InitialPrompt     string `yaml:"initial_prompt" env:"EXTRACTOPT_INITIAL_PROMPT" validate:"required"`
	InitialSchemaPath string `yaml:"initial_schema_path" env:"EXTRACTOPT_INITIAL_SCHEMA_PATH"`
	MaxPromptLength   int    `yaml:"max_prompt_length" env:"EXTRACTOPT_MAX_PROMPT_LENGTH" validate:"gt=0"`
	LengthUnit        string `yaml:"length_unit" env:"EXTRACTOPT_LENGTH_UNIT" validate:"oneof=chars tokens"`

	ScoreThreshold float64 `yaml:"score_threshold" env:"EXTRACTOPT_SCORE_THRESHOLD" validate:"gte=0,lte=10"`
	MinIterations  int     `yaml:"min_iterations" env:"EXTRACTOPT_MIN_ITERATIONS" validate:"gte=0"`
	MaxIterations  int     `yaml:"max_iterations" env:"EXTRACTOPT_MAX_ITERATIONS" validate:"gte=1,gtefield=MinIterations"`
	Target         string  `yaml:"target" env:"EXTRACTOPT_TARGET" validate:"oneof=prompt schema"`

	StudentTemperature  float64 `yaml:"student_temperature" env:"EXTRACTOPT_STUDENT_TEMPERATURE" validate:"gte=0,lte=2"`
	TeacherTemperature  float64 `yaml:"teacher_temperature" env:"EXTRACTOPT_TEACHER_TEMPERATURE" validate:"gte=0,lte=2"`
	MutationTemperature float64 `yaml:"mutation_temperature" env:"EXTRACTOPT_MUTATION_TEMPERATURE" validate:"gte=0,lte=2"`
	MaxTokens           int     `yaml:"max_tokens" env:"EXTRACTOPT_MAX_TOKENS" validate:"gt=0"`

	Timeout     time.Duration `yaml:"timeout" env:"EXTRACTOPT_TIMEOUT" validate:"gt=0"`
	MaxRetries  int           `yaml:"max_retries" env:"EXTRACTOPT_MAX_RETRIES" validate:"gte=0"`
	RetryDelay  time.Duration `yaml:"retry_delay" env:"EXTRACTOPT_RETRY_DELAY" validate:"gte=0"`
	Concurrency int           `yaml:"concurrency" env:"EXTRACTOPT_CONCURRENCY" validate:"gte=1"`
	// RateLimit caps remote requests per second; zero disables throttling.
	RateLimit float64 `yaml:"rate_limit" env:"EXTRACTOPT_RATE_LIMIT" validate:"gte=0"`

	UnbatchableArchitectures []string `yaml:"unbatchable_architectures" env:"EXTRACTOPT_UNBATCHABLE_ARCHITECTURES" envSeparator:","`

	ArtifactDir  string           `yaml:"artifact_dir" env:"EXTRACTOPT_ARTIFACT_DIR" validate:"required"`
	LogFormat    string           `yaml:"log_format" env:"EXTRACTOPT_LOG_FORMAT" validate:"oneof=csv xlsx"`
	DocumentsDir string           `yaml:"documents_dir" env:"EXTRACTOPT_DOCUMENTS_DIR"`
	LogLevel     logging.LogLevel `yaml:"log_level" env:"EXTRACTOPT_LOG_LEVEL"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Backend:                  BackendRemote,
		BaseURL:                  "http://localhost:1234/v1",
		APIKey:                   "lm-studio",
		LocalEndpoint:            "http://localhost:8000/v1",
		StudentModel:             "liquid/lfm2.5-1.2b",
		TeacherModel:             "qwen/qwen3-next-80b",
		InitialPrompt:            DefaultInitialPrompt,
		MaxPromptLength:          1500,
		LengthUnit:               LengthUnitChars,
		ScoreThreshold:           9.5,
		MinIterations:            1,
		MaxIterations:            20,
		Target:                   TargetPrompt,
		StudentTemperature:       0.1,
		TeacherTemperature:       0.1,
		MutationTemperature:      0.7,
		MaxTokens:                2048,
		Timeout:                  120 * time.Second,
		MaxRetries:               2,
		RetryDelay:               2 * time.Second,
		Concurrency:              4,
		UnbatchableArchitectures: []string{"mamba", "rwkv", "lfm", "jamba"},
		ArtifactDir:              "optimization_artifacts",
		LogFormat:                LogFormatCSV,
		LogLevel:                 logging.LogLevelInfo,
	}
}

// Load builds a validated Config from defaults, an optional YAML file at
// path, the environment and opts, in that order.
func Load(path string, opts ...ConfigOption) (*Config, error) {
	cfg := NewConfig()
	if path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	ApplyOptions(cfg, opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile merges the YAML document at path into cfg. Keys absent from the
// file leave the existing values untouched; unknown keys are rejected.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

var validate = validator.New()

// Validate checks the struct tags and reports the first group of violations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Redacted returns a copy safe to persist next to run artifacts.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.APIKey != "" {
		cp.APIKey = "[redacted]"
	}
	cp.UnbatchableArchitectures = append([]string(nil), c.UnbatchableArchitectures...)
	return &cp
}

// YAML renders the config as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
