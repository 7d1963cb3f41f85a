// Package config holds the runtime settings of a storion container: the
// auto-dispose grace period, the scheduler kind, the log level and the
// metrics namespace. Settings load from YAML or from STORION_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	// SchedulerQueue runs deferred work when the host flushes the queue
	SchedulerQueue = "queue"
	// SchedulerTimer runs deferred work on timer goroutines; the host must
	// serialize access to the container itself
	SchedulerTimer = "timer"
)

// Config is the container configuration
type Config struct {
	GracePeriod      time.Duration `yaml:"grace_period" validate:"gte=0"`
	Scheduler        string        `yaml:"scheduler" validate:"oneof=timer queue"`
	LogLevel         string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	MetricsNamespace string        `yaml:"metrics_namespace" validate:"omitempty,alphanum"`
}

var validate = validator.New()

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		GracePeriod:      0,
		Scheduler:        SchedulerQueue,
		LogLevel:         "info",
		MetricsNamespace: "storion",
	}
}

// Load reads a YAML file on top of the defaults and validates the result
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// FromEnv reads STORION_* variables on top of the defaults
func FromEnv() (Config, error) {
	def := Default()
	cfg := Config{
		GracePeriod:      getEnvDuration("STORION_GRACE_PERIOD", def.GracePeriod),
		Scheduler:        getEnv("STORION_SCHEDULER", def.Scheduler),
		LogLevel:         strings.ToLower(getEnv("STORION_LOG_LEVEL", def.LogLevel)),
		MetricsNamespace: getEnv("STORION_METRICS_NAMESPACE", def.MetricsNamespace),
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration values
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, formatFieldError(e))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// Level returns the zap level for LogLevel
func (c Config) Level() (zapcore.Level, error) {
	return zapcore.ParseLevel(c.LogLevel)
}

// NewLogger builds a production logger at the configured level
func NewLogger(c Config) (*zap.Logger, error) {
	level, err := c.Level()
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())
	switch e.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "alphanum":
		return fmt.Sprintf("%s must be alphanumeric", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
