// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/progress-coordinator/internal/progress"
	"github.com/JakeFAU/progress-coordinator/internal/progressbar"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Progress ProgressConfig `mapstructure:"progress"`
	Events   EventsConfig   `mapstructure:"events"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	DB       DBConfig       `mapstructure:"db"`
	Demo     DemoConfig     `mapstructure:"demo"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// SimulateRPS throttles the simulation routes per client; 0 disables it.
	SimulateRPS   float64 `mapstructure:"simulate_rps"`
	SimulateBurst int     `mapstructure:"simulate_burst"`
}

// ProgressConfig seeds the coordinator's tunables.
type ProgressConfig struct {
	HideDelay      time.Duration `mapstructure:"hide_delay"`
	MinDisplayTime time.Duration `mapstructure:"min_display_time"`
	SmartBatching  bool          `mapstructure:"enable_smart_batching"`
	DebugLogs      bool          `mapstructure:"enable_debug_logs"`
	Color          string        `mapstructure:"color"`
}

// EventsConfig sizes the transition event hub.
type EventsConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	LogEvents      bool          `mapstructure:"log_events"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DBConfig controls access to the session database. An empty DSN keeps
// sessions in memory.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DemoConfig shapes the simulated workload of the demo application.
type DemoConfig struct {
	PageDelay     time.Duration `mapstructure:"page_delay"`
	RequestDelay  time.Duration `mapstructure:"request_delay"`
	BurstSize     int           `mapstructure:"burst_size"`
	StepDelay     time.Duration `mapstructure:"step_delay"`
	SlowHideDelay time.Duration `mapstructure:"slow_hide_delay"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROGRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.simulate_rps", 2)
	v.SetDefault("server.simulate_burst", 5)
	v.SetDefault("progress.hide_delay", progressbar.DefaultHideDelay.String())
	v.SetDefault("progress.min_display_time", progressbar.DefaultMinDisplayTime.String())
	v.SetDefault("progress.enable_smart_batching", true)
	v.SetDefault("progress.enable_debug_logs", false)
	v.SetDefault("progress.color", string(progressbar.ColorPrimary))
	v.SetDefault("events.buffer_size", progress.DefaultBufferSize)
	v.SetDefault("events.max_batch_events", progress.DefaultMaxBatchEvents)
	v.SetDefault("events.max_batch_wait", progress.DefaultMaxBatchWait.String())
	v.SetDefault("events.sink_timeout", progress.DefaultSinkTimeout.String())
	v.SetDefault("events.log_events", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("db.table", "progress_sessions")
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("demo.page_delay", "800ms")
	v.SetDefault("demo.request_delay", "600ms")
	v.SetDefault("demo.burst_size", 3)
	v.SetDefault("demo.step_delay", "200ms")
	v.SetDefault("demo.slow_hide_delay", "2s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	if c.Server.SimulateRPS < 0 {
		return fmt.Errorf("server.simulate_rps must be >= 0")
	}
	if c.Progress.HideDelay < 0 {
		return fmt.Errorf("progress.hide_delay must be >= 0")
	}
	if c.Progress.MinDisplayTime < 0 {
		return fmt.Errorf("progress.min_display_time must be >= 0")
	}
	if c.Progress.Color != "" && !progressbar.Color(c.Progress.Color).Valid() {
		return fmt.Errorf("progress.color %q is not one of primary, accent, warn", c.Progress.Color)
	}
	if c.Events.BufferSize <= 0 || c.Events.MaxBatchEvents <= 0 {
		return fmt.Errorf("events.buffer_size and events.max_batch_events must be > 0")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Demo.BurstSize <= 0 {
		return fmt.Errorf("demo.burst_size must be > 0")
	}
	if c.DB.MinConns > 0 && c.DB.MaxConns > 0 && c.DB.MinConns > c.DB.MaxConns {
		return fmt.Errorf("db.min_conns must not exceed db.max_conns")
	}
	return nil
}

// ProgressOptions converts the progress section into coordinator options.
func (c Config) ProgressOptions() progressbar.Options {
	return progressbar.Options{
		HideDelay:      c.Progress.HideDelay,
		MinDisplayTime: c.Progress.MinDisplayTime,
		SmartBatching:  c.Progress.SmartBatching,
		DebugLogs:      c.Progress.DebugLogs,
	}
}

// HubConfig converts the events section into hub settings.
func (c Config) HubConfig() progress.Config {
	return progress.Config{
		BufferSize:     c.Events.BufferSize,
		MaxBatchEvents: c.Events.MaxBatchEvents,
		MaxBatchWait:   c.Events.MaxBatchWait,
		SinkTimeout:    c.Events.SinkTimeout,
	}
}
