// Package config loads, validates, and watches the shuttle server
// configuration.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (SHUTTLE_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// Every key is registered with a default, so a container configured
// purely through SHUTTLE_* variables needs no file at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/shuttle/internal/bytesize"
	"github.com/marmos91/shuttle/internal/logger"
	"github.com/marmos91/shuttle/pkg/auth"
	"github.com/marmos91/shuttle/pkg/limits"
	"github.com/marmos91/shuttle/pkg/queue"
	"github.com/marmos91/shuttle/pkg/store/blob"
	"github.com/marmos91/shuttle/pkg/store/metadata"
	"github.com/marmos91/shuttle/pkg/worker"
)

// Config is the complete shuttle server configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Database configures the metadata store (SQLite or PostgreSQL).
	Database metadata.Config `mapstructure:"database" yaml:"database"`

	// Storage configures the chunk blob backend (local, S3, or R2).
	Storage blob.Config `mapstructure:"storage" yaml:"storage"`

	// Auth configures request authentication.
	Auth auth.Config `mapstructure:"auth" yaml:"auth"`

	// Transfer tunes the chunk admission pipeline.
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer"`

	// Autoscale controls worker pool scaling.
	Autoscale AutoscaleConfig `mapstructure:"autoscale" yaml:"autoscale"`

	// Queue configures the task transport (memory, redis, or sqs).
	Queue queue.Config `mapstructure:"queue" yaml:"queue"`

	// Cleanup controls the background maintenance sweeps.
	Cleanup CleanupConfig `mapstructure:"cleanup" yaml:"cleanup"`

	// Telemetry controls OpenTelemetry tracing and profiling.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Host is the listen address.
	Host string `mapstructure:"host" yaml:"host" validate:"required"`

	// Port is the listen port.
	Port int `mapstructure:"port" yaml:"port" validate:"required,min=1,max=65535"`

	// ShutdownTimeout bounds in-flight request draining on shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// ReadHeaderTimeout bounds header parsing per request. Whole-request
	// read/write deadlines are deliberately absent: chunk uploads and
	// downloads stream bodies for as long as they need.
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`

	// IdleTimeout closes keep-alive connections that go quiet.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// Addr returns the host:port the server binds to.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TransferConfig tunes the chunk admission pipeline: the default chunk
// size handed to init, the retry budget, and the layered inflight caps.
type TransferConfig struct {
	// ChunkSize is the default chunk size offered when init does not
	// declare one. Accepts human-readable sizes ("5MiB").
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size"`

	// MaxRetries is how many times a failed chunk write is retried
	// in place before the task fails.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries" validate:"min=0"`

	// MaxInflightPerUpload caps concurrent chunks of one upload.
	MaxInflightPerUpload int `mapstructure:"max_inflight_per_upload" yaml:"max_inflight_per_upload" validate:"min=1"`

	// MaxFairInflightPerUpload is the tighter per-upload cap applied
	// only while the global limit is saturated. Zero derives it from
	// the worker count.
	MaxFairInflightPerUpload int `mapstructure:"max_fair_inflight_per_upload" yaml:"max_fair_inflight_per_upload" validate:"min=0"`

	// MaxGlobalInflight caps admitted chunks across all uploads.
	MaxGlobalInflight int `mapstructure:"max_global_inflight" yaml:"max_global_inflight" validate:"min=1"`

	// QueueSize bounds tasks admitted but not yet picked up.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size" validate:"min=1"`

	// Workers is the initial worker pool size.
	Workers int `mapstructure:"workers" yaml:"workers" validate:"min=1"`
}

// Limits maps the transfer knobs onto the admission controller.
func (c TransferConfig) Limits() limits.Config {
	return limits.Config{
		QueueSize:      c.QueueSize,
		GlobalLimit:    c.MaxGlobalInflight,
		PerUploadLimit: c.MaxInflightPerUpload,
		FairShareLimit: c.MaxFairInflightPerUpload,
		WorkerCount:    c.Workers,
	}
}

// AutoscaleConfig controls worker pool scaling.
type AutoscaleConfig struct {
	// Enabled turns the autoscaler on. Only effective with the memory
	// queue backend; durable consumers are sized by queue.consumers.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// MinWorkers and MaxWorkers bound the pool size.
	MinWorkers int `mapstructure:"min_workers" yaml:"min_workers" validate:"min=1"`
	MaxWorkers int `mapstructure:"max_workers" yaml:"max_workers" validate:"min=1"`

	// Cooldown is the minimum time between two scaling steps.
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown"`

	// ScaleUpQueueThreshold and ScaleUpUtilization trigger growth;
	// ScaleDownUtilization triggers shrink on an empty queue.
	ScaleUpQueueThreshold int     `mapstructure:"scale_up_queue_threshold" yaml:"scale_up_queue_threshold"`
	ScaleUpUtilization    float64 `mapstructure:"scale_up_utilization" yaml:"scale_up_utilization" validate:"gte=0,lte=1"`
	ScaleDownUtilization  float64 `mapstructure:"scale_down_utilization" yaml:"scale_down_utilization" validate:"gte=0,lte=1"`
}

// WorkerConfig maps the autoscale knobs onto the worker package.
func (c AutoscaleConfig) WorkerConfig() worker.AutoscaleConfig {
	return worker.AutoscaleConfig{
		Enabled:               c.Enabled,
		MinWorkers:            c.MinWorkers,
		MaxWorkers:            c.MaxWorkers,
		Cooldown:              c.Cooldown,
		ScaleUpQueueThreshold: c.ScaleUpQueueThreshold,
		ScaleUpUtilization:    c.ScaleUpUtilization,
		ScaleDownUtilization:  c.ScaleDownUtilization,
	}
}

// CleanupConfig controls the background maintenance sweeps.
type CleanupConfig struct {
	// Enabled starts the periodic cleanup runner. The admin endpoint
	// works either way.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval paces the periodic runner.
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`

	// StaleUploadTTL is how long an open upload may sit without an
	// update before the reaper aborts and purges it.
	StaleUploadTTL time.Duration `mapstructure:"stale_upload_ttl" yaml:"stale_upload_ttl" validate:"gt=0"`

	// IdempotencyTTL is how long idempotency reservations replay
	// before the sweep drops them.
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl" yaml:"idempotency_ttl" validate:"gt=0"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled turns span export on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS on the exporter connection.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the head sampling ratio in [0.0, 1.0].
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate" validate:"omitempty,gte=0,lte=1"`

	// Profiling configures Pyroscope continuous profiling.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled turns continuous profiling on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes selects which profiles to collect.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR
	// (case-insensitive, normalized to uppercase).
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is the output format: text or json. Text output is
	// colorized when attached to a terminal.
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output is where logs go: stdout, stderr, or a file path.
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// Load reads configuration from the file at configPath (or the default
// location when empty), layered under SHUTTLE_* environment variables,
// over the built-in defaults. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	setViperDefaults(v)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is Load with a friendlier error when an explicitly requested
// config file does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// Watch re-reads the configuration file whenever it changes and invokes
// apply with the freshly decoded result. Unparseable or invalid edits
// are logged and skipped, so the previous configuration stays in
// effect. Returns an error when there is no file to watch.
func Watch(configPath string, apply func(*Config)) error {
	v := viper.New()
	setupViper(v, configPath)
	setViperDefaults(v)

	found, err := readConfigFile(v)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no configuration file to watch")
	}

	v.OnConfigChange(func(event fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			logger.Warn("ignoring config change",
				"file", event.Name,
				logger.KeyError, err)
			return
		}
		apply(cfg)
	})
	v.WatchConfig()

	logger.Debug("watching configuration file", "file", v.ConfigFileUsed())
	return nil
}

// SaveConfig writes the configuration as YAML. Config files may carry
// credentials, so the file is owner-only.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// decode unmarshals, defaults, and validates the current viper state.
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper configures environment variable support and the config
// file location. Keys map to env vars with the SHUTTLE_ prefix and
// underscores, e.g. SHUTTLE_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("SHUTTLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if one exists. A missing
// file is fine; defaults and environment variables still apply.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks combines the custom decode hooks: human-readable
// byte sizes ("5MiB"), durations ("15m"), and comma-separated lists
// from environment variables.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML numbers often arrive as float64.
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds.
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory: XDG_CONFIG_HOME if
// set, otherwise ~/.config, falling back to the current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "shuttle")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "shuttle")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
