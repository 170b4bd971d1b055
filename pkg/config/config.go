package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the full engine configuration.
type Config struct {
	Logging       LoggingConfig         `yaml:"logging"`
	APIKeys       APIKeysConfig         `yaml:"api_keys"`
	Models        map[string]ModelRoute `yaml:"models" validate:"dive"`
	Gateway       GatewayConfig         `yaml:"gateway"`
	Ensemble      EnsembleConfig        `yaml:"ensemble"`
	Council       CouncilConfig         `yaml:"council"`
	Introspection IntrospectionConfig   `yaml:"introspection"`
	Weights       WeightsConfig         `yaml:"weights"`
	Calibration   CalibrationConfig     `yaml:"calibration"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"console" validate:"oneof=console json"`
}

// APIKeysConfig holds provider credentials. Environment variables take
// precedence over file values.
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic"`
	OpenAI    string `yaml:"openai"`
	Google    string `yaml:"google"`
	DeepSeek  string `yaml:"deepseek"`
}

// ModelRoute binds a model id to an adapter and provider model name.
type ModelRoute struct {
	Adapter string `yaml:"adapter" validate:"required"`
	Model   string `yaml:"model" validate:"required"`
}

// GatewayConfig controls transport behavior.
type GatewayConfig struct {
	MaxRetries int           `yaml:"max_retries" default:"3" validate:"gte=0"`
	BaseDelay  time.Duration `yaml:"base_delay" default:"200ms"`
	MaxDelay   time.Duration `yaml:"max_delay" default:"5s"`
	Timeout    time.Duration `yaml:"timeout" default:"60s"`
}

// EnsembleConfig controls the sentiment ensemble.
type EnsembleConfig struct {
	Backends             []string      `yaml:"backends"`
	ScoreField           string        `yaml:"score_field" default:"score"`
	StaggerDelay         time.Duration `yaml:"stagger_delay" default:"500ms"`
	MaxValidationRetries int           `yaml:"max_validation_retries" default:"2" validate:"gte=0"`
	Temperature          float64       `yaml:"temperature" default:"0.7" validate:"gte=0,lte=2"`
}

// CouncilConfig controls the council protocol.
type CouncilConfig struct {
	Members              []string      `yaml:"members"`
	Chairman             string        `yaml:"chairman"`
	OpinionTemperature   float64       `yaml:"opinion_temperature" default:"0.7" validate:"gte=0,lte=2"`
	ReviewTemperature    float64       `yaml:"review_temperature" default:"0.3" validate:"gte=0,lte=2"`
	SynthesisTemperature float64       `yaml:"synthesis_temperature" default:"0.3" validate:"gte=0,lte=2"`
	StaggerDelay         time.Duration `yaml:"stagger_delay" default:"500ms"`
}

// IntrospectionConfig controls the introspection engine.
type IntrospectionConfig struct {
	Model             string        `yaml:"model"`
	Samples           int           `yaml:"samples" default:"5" validate:"gte=1"`
	SampleTemperature float64       `yaml:"sample_temperature" default:"0.9" validate:"gte=0,lte=2"`
	AssessTemperature float64       `yaml:"assess_temperature" default:"0.2" validate:"gte=0,lte=2"`
	StaggerDelay      time.Duration `yaml:"stagger_delay" default:"500ms"`
	ValidationRetries int           `yaml:"validation_retries" default:"2" validate:"gte=0"`
}

// WeightsConfig is the canonical confidence weighting scheme. The three
// synthesis weights must sum to 1.
type WeightsConfig struct {
	Ensemble      float64 `yaml:"ensemble" default:"0.35" validate:"gte=0,lte=1"`
	Council       float64 `yaml:"council" default:"0.35" validate:"gte=0,lte=1"`
	Introspection float64 `yaml:"introspection" default:"0.3" validate:"gte=0,lte=1"`
	Consistency   float64 `yaml:"consistency" default:"0.35" validate:"gte=0,lte=1"`
	Epistemic     float64 `yaml:"epistemic" default:"0.2" validate:"gte=0,lte=1"`
	Critique      float64 `yaml:"critique" default:"0.15" validate:"gte=0,lte=1"`
}

// CalibrationConfig controls snapshot retention and persistence.
type CalibrationConfig struct {
	Capacity    int    `yaml:"capacity" default:"1000" validate:"gte=1"`
	HistoryPath string `yaml:"history_path"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a YAML config file, fills defaults and applies environment
// overrides for credentials. A missing path yields the default config.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	// Defaults go in before the file is parsed so an explicit zero in
	// the file is kept rather than clobbered back to the default.
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.APIKeys.Anthropic = getEnvOrDefault("ANTHROPIC_API_KEY", cfg.APIKeys.Anthropic)
	cfg.APIKeys.OpenAI = getEnvOrDefault("OPENAI_API_KEY", cfg.APIKeys.OpenAI)
	cfg.APIKeys.Google = getEnvOrDefault("GOOGLE_API_KEY", cfg.APIKeys.Google)
	cfg.APIKeys.DeepSeek = getEnvOrDefault("DEEPSEEK_API_KEY", cfg.APIKeys.DeepSeek)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if err := cfg.checkWeights(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// HasAdapter reports whether credentials for the named adapter exist.
func (c *Config) HasAdapter(name string) bool {
	switch name {
	case "anthropic":
		return c.APIKeys.Anthropic != ""
	case "openai":
		return c.APIKeys.OpenAI != ""
	case "google":
		return c.APIKeys.Google != ""
	case "deepseek":
		return c.APIKeys.DeepSeek != ""
	case "mock":
		return true
	default:
		return false
	}
}

func (c *Config) checkWeights() error {
	sum := c.Weights.Ensemble + c.Weights.Council + c.Weights.Introspection
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("synthesis weights must sum to 1, got %g", sum)
	}
	return nil
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}
