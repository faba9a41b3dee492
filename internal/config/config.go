package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	LIFX            LIFXConfig      `yaml:"lifx"`
	Assistant       AssistantConfig `yaml:"assistant"`
	Database        DatabaseConfig  `yaml:"database"`
	Log             LogConfig       `yaml:"log"`
	Matcher         MatcherConfig   `yaml:"matcher"`
	Tracker         TrackerConfig   `yaml:"tracker"`
	Executor        ExecutorConfig  `yaml:"executor"`
	EventBus        EventBusConfig  `yaml:"eventbus"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LIFXConfig contains LIFX cloud API connection settings
type LIFXConfig struct {
	BaseURL string   `yaml:"base_url"`
	Token   string   `yaml:"token"`
	Timeout Duration `yaml:"timeout"` // HTTP timeout for LIFX API requests

	RateLimitRPS float64 `yaml:"rate_limit_rps"` // Outbound pacing against the cloud API
	QuotaMax     int     `yaml:"quota_max"`      // Per-minute quota assumed until headers say otherwise
}

// AssistantConfig contains language-model collaborator settings
type AssistantConfig struct {
	BaseURL   string   `yaml:"base_url"`
	APIKey    string   `yaml:"api_key"`
	Model     string   `yaml:"model"`
	MaxTokens int      `yaml:"max_tokens"`
	Timeout   Duration `yaml:"timeout"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// MatcherConfig contains scene match tolerances and the activation threshold.
// Zero values fall back to package defaults in internal/scene.
type MatcherConfig struct {
	BrightnessTolerance float64 `yaml:"brightness_tolerance"`
	SaturationTolerance float64 `yaml:"saturation_tolerance"`
	HueToleranceDegrees float64 `yaml:"hue_tolerance_degrees"`
	KelvinTolerance     float64 `yaml:"kelvin_tolerance"`
	MatchThreshold      float64 `yaml:"match_threshold"`
}

// TrackerConfig contains activation tracker settings
type TrackerConfig struct {
	PollInterval      Duration `yaml:"poll_interval"`
	ActivationTimeout Duration `yaml:"activation_timeout"`
	AllowOverlapping  bool     `yaml:"allow_overlapping"` // Multiple scenes may show Active at once
}

// ExecutorConfig contains command executor settings
type ExecutorConfig struct {
	ZoneCommandDelay Duration `yaml:"zone_command_delay"` // Pause between multi-zone sub-commands
	DefaultDuration  float64  `yaml:"default_duration"`   // Transition duration in seconds
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./clarad.sqlite"
	}

	// LIFX defaults
	if cfg.LIFX.BaseURL == "" {
		cfg.LIFX.BaseURL = "https://api.lifx.com/v1"
	}
	if cfg.LIFX.Timeout == 0 {
		cfg.LIFX.Timeout = Duration(30 * time.Second)
	}
	if cfg.LIFX.RateLimitRPS == 0 {
		cfg.LIFX.RateLimitRPS = 2.0
	}
	if cfg.LIFX.QuotaMax == 0 {
		cfg.LIFX.QuotaMax = 120 // LIFX allows 120 requests per minute per token
	}

	// Assistant defaults
	if cfg.Assistant.BaseURL == "" {
		cfg.Assistant.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Assistant.MaxTokens == 0 {
		cfg.Assistant.MaxTokens = 1000
	}
	if cfg.Assistant.Timeout == 0 {
		cfg.Assistant.Timeout = Duration(60 * time.Second)
	}

	// Tracker defaults
	if cfg.Tracker.PollInterval == 0 {
		cfg.Tracker.PollInterval = Duration(5 * time.Second)
	}
	if cfg.Tracker.ActivationTimeout == 0 {
		cfg.Tracker.ActivationTimeout = Duration(15 * time.Second)
	}

	// Executor defaults
	if cfg.Executor.ZoneCommandDelay == 0 {
		cfg.Executor.ZoneCommandDelay = Duration(300 * time.Millisecond)
	}
	if cfg.Executor.DefaultDuration == 0 {
		cfg.Executor.DefaultDuration = 1.0
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
