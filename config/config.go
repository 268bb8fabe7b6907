// Package config loads engine configuration from a YAML file with
// environment overrides, and wires the logger the same way across binaries
// embedding the engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/corridorpay/anchor-router/ratelimit"
	"github.com/corridorpay/anchor-router/retry"
	"github.com/corridorpay/anchor-router/types"
)

// Config is the complete engine configuration.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Retry     retry.Policy    `yaml:"retry"`
	Routing   RoutingConfig   `yaml:"routing"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// RedisConfig points the shared state stores at a Redis instance. When
// Enabled is false the engine keeps state in process memory.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RateLimitConfig holds the default admission policy and per-anchor
// overrides.
type RateLimitConfig struct {
	Default ratelimit.Policy            `yaml:"default"`
	Anchors map[string]ratelimit.Policy `yaml:"anchors"`
}

// PolicyFor returns the policy for an anchor, falling back to the default.
func (c RateLimitConfig) PolicyFor(anchor string) ratelimit.Policy {
	if policy, ok := c.Anchors[anchor]; ok {
		return policy
	}
	return c.Default
}

// FallbackConfig holds circuit-breaking configuration.
type FallbackConfig struct {
	// FailureThreshold is how many consecutive failures mark an anchor down
	FailureThreshold int `yaml:"failure_threshold"`

	// Priority is the configured anchor order for fallback selection
	Priority []string `yaml:"priority"`

	// StateTTL bounds how long an idle failure streak survives
	StateTTL time.Duration `yaml:"state_ttl"`
}

// RoutingConfig holds routing defaults applied when a request leaves the
// field unset.
type RoutingConfig struct {
	DefaultStrategy types.Strategy      `yaml:"default_strategy"`
	MaxAlternatives int                 `yaml:"max_alternatives"`
	MinReputation   int64               `yaml:"min_reputation"`
	CustomWeights   types.CustomWeights `yaml:"custom_weights"`
}

// TelemetryConfig holds event sink configuration.
type TelemetryConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	Prometheus bool `yaml:"prometheus"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	config.setDefaults()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	config.loadFromEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values.
func (c *Config) setDefaults() {
	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Redis = RedisConfig{
		Enabled: false,
		Addr:    "localhost:6379",
	}

	c.RateLimit = RateLimitConfig{
		Default: ratelimit.Policy{
			Algorithm:   ratelimit.FixedWindow,
			MaxRequests: 60,
			Window:      time.Minute,
		},
	}

	c.Fallback = FallbackConfig{
		FailureThreshold: 3,
		StateTTL:         time.Hour,
	}

	c.Retry = retry.DefaultPolicy()

	c.Routing = RoutingConfig{
		DefaultStrategy: types.StrategyBestRate,
		MaxAlternatives: 3,
		CustomWeights:   types.DefaultCustomWeights(),
	}

	c.Telemetry = TelemetryConfig{
		Enabled:    true,
		BufferSize: 1000,
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if level := os.Getenv("ANCHOR_ROUTER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if format := os.Getenv("ANCHOR_ROUTER_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if addr := os.Getenv("ANCHOR_ROUTER_REDIS_ADDR"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Addr = addr
	}

	if password := os.Getenv("ANCHOR_ROUTER_REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}

	if strategy := os.Getenv("ANCHOR_ROUTER_DEFAULT_STRATEGY"); strategy != "" {
		c.Routing.DefaultStrategy = types.Strategy(strategy)
	}

	if threshold := os.Getenv("ANCHOR_ROUTER_FAILURE_THRESHOLD"); threshold != "" {
		if parsed, err := strconv.Atoi(threshold); err == nil {
			c.Fallback.FailureThreshold = parsed
		}
	}
}

// validate validates the configuration.
func (c *Config) validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if !types.ValidStrategy(c.Routing.DefaultStrategy) {
		return fmt.Errorf("invalid default strategy: %s", c.Routing.DefaultStrategy)
	}

	if c.Routing.MaxAlternatives < 0 {
		return fmt.Errorf("max alternatives must not be negative")
	}

	if c.Fallback.FailureThreshold < 0 {
		return fmt.Errorf("failure threshold must not be negative")
	}

	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max attempts must be positive")
	}

	if err := validatePolicy("default", c.RateLimit.Default); err != nil {
		return err
	}
	for anchor, policy := range c.RateLimit.Anchors {
		if err := validatePolicy(anchor, policy); err != nil {
			return err
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}

	return nil
}

func validatePolicy(name string, policy ratelimit.Policy) error {
	if policy.Unlimited() {
		return nil
	}
	switch policy.Algorithm {
	case "", ratelimit.FixedWindow:
		if policy.Window <= 0 {
			return fmt.Errorf("rate limit policy %q: fixed window needs a positive window", name)
		}
	case ratelimit.TokenBucket:
		if policy.RefillRate <= 0 && policy.Window <= 0 {
			return fmt.Errorf("rate limit policy %q: token bucket needs a refill rate or window", name)
		}
	default:
		return fmt.Errorf("rate limit policy %q: unknown algorithm %q", name, policy.Algorithm)
	}
	return nil
}

// ApplyRoutingDefaults fills unset request fields from the configured
// routing defaults.
func (c *Config) ApplyRoutingDefaults(req *types.RoutingRequest) {
	if req.Strategy == "" {
		req.Strategy = c.Routing.DefaultStrategy
	}
	if req.MaxAlternatives == 0 {
		req.MaxAlternatives = c.Routing.MaxAlternatives
	}
	if req.MinReputation == 0 {
		req.MinReputation = c.Routing.MinReputation
	}
	if req.Strategy == types.StrategyCustom && req.CustomWeights == nil && !c.Routing.CustomWeights.IsZero() {
		weights := c.Routing.CustomWeights
		req.CustomWeights = &weights
	}
}

// SaveToFile saves the current configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SetupLogger configures a logrus logger from the logging section.
func SetupLogger(logger *logrus.Logger, config LoggingConfig) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	logger.SetLevel(level)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return fmt.Errorf("invalid log format: %s", config.Format)
	}

	switch config.Output {
	case "stdout", "":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}
