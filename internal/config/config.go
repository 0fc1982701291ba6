// Package config loads and validates the scheduler tunables. Values
// are immutable after construction; changing them means building a
// new scheduler.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned when a tunable fails validation.
// Construction fails fast; there is no partial fallback.
var ErrInvalidConfig = errors.New("invalid configuration")

// ScoreWeights are the relative weights combining the four health
// signals. They need not sum to one; scoring normalizes them.
type ScoreWeights struct {
	Throughput  float64 `mapstructure:"throughput"`
	Latency     float64 `mapstructure:"latency"`
	Utilization float64 `mapstructure:"utilization"`
	ErrorRate   float64 `mapstructure:"error_rate"`
}

// Retry configures the exponential backoff applied to retryable task
// failures inside an agent.
type Retry struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

// Config is the top-level configuration.
type Config struct {
	// Monitor window, in snapshots (not a time span).
	WindowSize int `mapstructure:"window_size"`

	// Allocation shape.
	MaxAgents  int `mapstructure:"max_agents"`
	TotalSlots int `mapstructure:"total_slots"`

	// Weight propagation.
	PropagationFactor float64 `mapstructure:"propagation_factor"`
	Epsilon           float64 `mapstructure:"epsilon"`
	WeightFloor       float64 `mapstructure:"weight_floor"`
	WeightCeiling     float64 `mapstructure:"weight_ceiling"`
	MaxReward         float64 `mapstructure:"max_reward"`
	FailurePenalty    float64 `mapstructure:"failure_penalty"`
	RetryablePenalty  float64 `mapstructure:"retryable_penalty"`

	// Per-dispatch deadline. A running task exceeding it fails with a
	// timeout reason.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`

	ScoreWeights ScoreWeights `mapstructure:"score_weights"`
	Retry        Retry        `mapstructure:"retry"`

	// HistoryPath is the sqlite run-history database location.
	// Empty disables persistence.
	HistoryPath string `mapstructure:"history_path"`
}

// setDefaults registers production defaults on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("window_size", 50)
	v.SetDefault("max_agents", 8)
	v.SetDefault("total_slots", 8)
	v.SetDefault("propagation_factor", 0.5)
	v.SetDefault("epsilon", 0.01)
	v.SetDefault("weight_floor", 0.0)
	v.SetDefault("weight_ceiling", 100.0)
	v.SetDefault("max_reward", 2.0)
	v.SetDefault("failure_penalty", 3.0)
	v.SetDefault("retryable_penalty", 1.0)
	v.SetDefault("task_timeout", 5*time.Minute)
	v.SetDefault("score_weights.throughput", 0.35)
	v.SetDefault("score_weights.error_rate", 0.30)
	v.SetDefault("score_weights.latency", 0.20)
	v.SetDefault("score_weights.utilization", 0.15)
	v.SetDefault("retry.initial_interval", 100*time.Millisecond)
	v.SetDefault("retry.max_interval", 10*time.Second)
	v.SetDefault("retry.max_elapsed_time", 2*time.Minute)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("history_path", "")
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := fromViper(v)
	if err != nil {
		// Built-in defaults always validate.
		panic(err)
	}
	return cfg
}

// Load reads configuration from an optional file plus RIPPLE_*
// environment variables, layered over the defaults. A missing file is
// not an error; a malformed or invalid one is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RIPPLE")
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every tunable, failing fast on the first violation.
func (c *Config) Validate() error {
	switch {
	case c.WindowSize <= 0:
		return fmt.Errorf("%w: window_size %d must be positive", ErrInvalidConfig, c.WindowSize)
	case c.MaxAgents <= 0:
		return fmt.Errorf("%w: max_agents %d must be positive", ErrInvalidConfig, c.MaxAgents)
	case c.TotalSlots <= 0:
		return fmt.Errorf("%w: total_slots %d must be positive", ErrInvalidConfig, c.TotalSlots)
	case c.PropagationFactor <= 0 || c.PropagationFactor >= 1:
		return fmt.Errorf("%w: propagation_factor %v must be in (0, 1)", ErrInvalidConfig, c.PropagationFactor)
	case c.Epsilon <= 0:
		return fmt.Errorf("%w: epsilon %v must be positive", ErrInvalidConfig, c.Epsilon)
	case c.WeightFloor < 0:
		return fmt.Errorf("%w: weight_floor %v must not be negative", ErrInvalidConfig, c.WeightFloor)
	case c.WeightCeiling <= c.WeightFloor:
		return fmt.Errorf("%w: weight_ceiling %v must exceed weight_floor %v", ErrInvalidConfig, c.WeightCeiling, c.WeightFloor)
	case c.MaxReward < 0 || c.FailurePenalty < 0 || c.RetryablePenalty < 0:
		return fmt.Errorf("%w: reward and penalties must not be negative", ErrInvalidConfig)
	case c.TaskTimeout <= 0:
		return fmt.Errorf("%w: task_timeout %v must be positive", ErrInvalidConfig, c.TaskTimeout)
	case c.ScoreWeights.Throughput < 0 || c.ScoreWeights.Latency < 0 ||
		c.ScoreWeights.Utilization < 0 || c.ScoreWeights.ErrorRate < 0:
		return fmt.Errorf("%w: score weights must not be negative", ErrInvalidConfig)
	case c.ScoreWeights.Throughput+c.ScoreWeights.Latency+c.ScoreWeights.Utilization+c.ScoreWeights.ErrorRate == 0:
		return fmt.Errorf("%w: at least one score weight must be positive", ErrInvalidConfig)
	case c.Retry.Multiplier < 1:
		return fmt.Errorf("%w: retry.multiplier %v must be >= 1", ErrInvalidConfig, c.Retry.Multiplier)
	}
	return nil
}
