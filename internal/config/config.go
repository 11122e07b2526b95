// Package config loads docent-server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rheeghang/docent/core"
	"github.com/rheeghang/docent/internal/logging"
	"github.com/rheeghang/docent/internal/observability"
)

// Settings backends.
const (
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Event bus backends.
const (
	BusLocal = "local"
	BusRedis = "redis"
)

// ErrInvalidConfig is returned when parsed values are inconsistent.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full server configuration.
type Config struct {
	HTTPAddr    string `env:"DOCENT_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr    string `env:"DOCENT_GRPC_ADDR" envDefault:":50051"`
	MetricsAddr string `env:"DOCENT_METRICS_ADDR" envDefault:":9090"`
	ContentDir  string `env:"DOCENT_CONTENT_DIR" envDefault:"exhibit"`

	DefaultLanguage string        `env:"DOCENT_DEFAULT_LANGUAGE" envDefault:"ko"`
	SessionTTL      time.Duration `env:"DOCENT_SESSION_TTL" envDefault:"30m"`
	TickInterval    time.Duration `env:"DOCENT_TICK_INTERVAL" envDefault:"250ms"`

	Settings SettingsConfig `envPrefix:"DOCENT_SETTINGS_"`
	Redis    RedisConfig    `envPrefix:"DOCENT_REDIS_"`
	Bus      string         `env:"DOCENT_BUS" envDefault:"local"`
	Shake    ShakeConfig    `envPrefix:"DOCENT_SHAKE_"`
	Guide    GuideConfig    `envPrefix:"DOCENT_GUIDE_"`
	Log      LogConfig      `envPrefix:"LOG_"`
	Tracing  TracingConfig  `envPrefix:"DOCENT_TRACING_"`
}

// SettingsConfig selects the visitor settings backend.
type SettingsConfig struct {
	Backend  string `env:"BACKEND" envDefault:"bolt"`
	BoltPath string `env:"BOLT_PATH" envDefault:"data/settings.db"`
}

// RedisConfig is shared by the redis settings store and the redis bus.
type RedisConfig struct {
	Addr      string `env:"ADDR" envDefault:"localhost:6379"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB" envDefault:"0"`
	Channel   string `env:"CHANNEL" envDefault:"docent:events"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"docent:settings:"`
}

// ShakeConfig mirrors core.ShakeConfig in env-friendly form.
type ShakeConfig struct {
	Mode          string        `env:"MODE" envDefault:"single"`
	Threshold     float64       `env:"THRESHOLD" envDefault:"15"`
	Debounce      time.Duration `env:"DEBOUNCE" envDefault:"1s"`
	Window        time.Duration `env:"WINDOW" envDefault:"1s"`
	PreferGravity bool          `env:"PREFER_GRAVITY" envDefault:"false"`
}

// GuideConfig holds the out-of-range hint timings.
type GuideConfig struct {
	Delay   time.Duration `env:"DELAY" envDefault:"4s"`
	Display time.Duration `env:"DISPLAY" envDefault:"3s"`
}

// LogConfig is read from LOG_LEVEL, LOG_FORMAT and LOG_ADD_SOURCE.
type LogConfig struct {
	Level     string `env:"LEVEL" envDefault:"info"`
	Format    string `env:"FORMAT" envDefault:"text"`
	AddSource bool   `env:"ADD_SOURCE" envDefault:"false"`
}

// TracingConfig is read from DOCENT_TRACING_*.
type TracingConfig struct {
	Enabled     bool    `env:"ENABLED" envDefault:"false"`
	ServiceName string  `env:"SERVICE_NAME" envDefault:"docent"`
	Exporter    string  `env:"EXPORTER" envDefault:"stdout"`
	Endpoint    string  `env:"OTLP_ENDPOINT"`
	SampleRatio float64 `env:"SAMPLE_RATIO" envDefault:"1"`
	Environment string  `env:"ENVIRONMENT"`
	// KeepHealthChecks records grpc.health.v1 spans.
	KeepHealthChecks bool `env:"KEEP_HEALTH_CHECKS" envDefault:"false"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the server configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerated values and ranges.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Settings.Backend) {
	case BackendBolt, BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("%w: settings backend %q", ErrInvalidConfig, c.Settings.Backend))
	}
	switch strings.ToLower(c.Bus) {
	case BusLocal, BusRedis:
	default:
		errs = append(errs, fmt.Errorf("%w: bus %q", ErrInvalidConfig, c.Bus))
	}
	switch strings.ToLower(strings.TrimSpace(c.Shake.Mode)) {
	case "single", "double":
	default:
		errs = append(errs, fmt.Errorf("%w: shake mode %q", ErrInvalidConfig, c.Shake.Mode))
	}
	if c.Shake.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("%w: shake threshold must be positive", ErrInvalidConfig))
	}
	if c.SessionTTL < 0 {
		errs = append(errs, fmt.Errorf("%w: session ttl must not be negative", ErrInvalidConfig))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: tick interval must be positive", ErrInvalidConfig))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("%w: tracing sample ratio %v", ErrInvalidConfig, c.Tracing.SampleRatio))
	}
	return errors.Join(errs...)
}

// ShakeDetectorConfig converts the env form into core.ShakeConfig.
func (c Config) ShakeDetectorConfig() core.ShakeConfig {
	return core.ShakeConfig{
		Mode:          core.ParseShakeMode(c.Shake.Mode),
		Threshold:     c.Shake.Threshold,
		Debounce:      c.Shake.Debounce,
		Window:        c.Shake.Window,
		PreferGravity: c.Shake.PreferGravity,
	}
}

// LoggingConfig converts LogConfig into logging.Config.
func (c Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:     c.Log.Level,
		Format:    c.Log.Format,
		AddSource: c.Log.AddSource,
	}
}

// ObservabilityTracing converts TracingConfig into the observability form.
func (c Config) ObservabilityTracing() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
		Environment: c.Tracing.Environment,

		KeepHealthChecks: c.Tracing.KeepHealthChecks,
		ContentDir:       c.ContentDir,
		DefaultLanguage:  c.DefaultLanguage,
		SettingsBackend:  c.Settings.Backend,
		Bus:              c.Bus,
	}
}
