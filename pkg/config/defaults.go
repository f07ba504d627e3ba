package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marmos91/shuttle/internal/bytesize"
)

// setViperDefaults registers every configuration key with its default,
// which is what lets SHUTTLE_* environment variables work without a
// config file: viper only overlays env vars onto keys it knows about.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/shuttle.db")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.root", "./data/chunks")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.force_path_style", true)

	v.SetDefault("auth.mode", "api_key")
	v.SetDefault("auth.api_keys", "dev-key:dev-user")
	v.SetDefault("auth.admin_users", "dev-user")
	v.SetDefault("auth.rate_limit_per_minute", 0)

	v.SetDefault("transfer.chunk_size", "5MiB")
	v.SetDefault("transfer.max_retries", 3)
	v.SetDefault("transfer.max_inflight_per_upload", 8)
	v.SetDefault("transfer.max_fair_inflight_per_upload", 0)
	v.SetDefault("transfer.max_global_inflight", 128)
	v.SetDefault("transfer.queue_size", 512)
	v.SetDefault("transfer.workers", 16)

	v.SetDefault("autoscale.enabled", false)
	v.SetDefault("autoscale.min_workers", 8)
	v.SetDefault("autoscale.max_workers", 32)
	v.SetDefault("autoscale.cooldown", "15s")
	v.SetDefault("autoscale.scale_up_queue_threshold", 1)
	v.SetDefault("autoscale.scale_up_utilization", 0.8)
	v.SetDefault("autoscale.scale_down_utilization", 0.2)

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.consumers", 4)
	v.SetDefault("queue.poll_timeout", "5s")
	v.SetDefault("queue.task_timeout", "45s")
	v.SetDefault("queue.redis_url", "redis://localhost:6379/0")
	v.SetDefault("queue.redis_queue_name", "shuttle-chunk-tasks")
	v.SetDefault("queue.region", "us-east-1")
	v.SetDefault("queue.staging_path", "./data/staging")

	v.SetDefault("cleanup.enabled", false)
	v.SetDefault("cleanup.interval", "15m")
	v.SetDefault("cleanup.stale_upload_ttl", "24h")
	v.SetDefault("cleanup.idempotency_ttl", "24h")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_rate", 1.0)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.endpoint", "http://localhost:4040")

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
}

// ApplyDefaults fills in missing values on a programmatically built
// Config. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	cfg.Database.ApplyDefaults()
	cfg.Storage.ApplyDefaults()
	cfg.Auth.ApplyDefaults()
	applyTransferDefaults(&cfg.Transfer)
	applyAutoscaleDefaults(&cfg.Autoscale)
	cfg.Queue.ApplyDefaults()
	applyCleanupDefaults(&cfg.Cleanup)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

func applyTransferDefaults(cfg *TransferConfig) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 5 * bytesize.MiB
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxInflightPerUpload == 0 {
		cfg.MaxInflightPerUpload = 8
	}
	// MaxFairInflightPerUpload stays zero: the admission controller
	// derives the fair share from the worker count.
	if cfg.MaxGlobalInflight == 0 {
		cfg.MaxGlobalInflight = 128
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 512
	}
	if cfg.Workers == 0 {
		cfg.Workers = 16
	}
}

func applyAutoscaleDefaults(cfg *AutoscaleConfig) {
	if cfg.MinWorkers == 0 {
		cfg.MinWorkers = 8
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = 32
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.ScaleUpQueueThreshold == 0 {
		cfg.ScaleUpQueueThreshold = 1
	}
	if cfg.ScaleUpUtilization == 0 {
		cfg.ScaleUpUtilization = 0.8
	}
	if cfg.ScaleDownUtilization == 0 {
		cfg.ScaleDownUtilization = 0.2
	}
}

func applyCleanupDefaults(cfg *CleanupConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.StaleUploadTTL == 0 {
		cfg.StaleUploadTTL = 24 * time.Hour
	}
	if cfg.IdempotencyTTL == 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize so the rest of the process compares one casing.
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// GetDefaultConfig returns a Config with every default applied, for
// sample file generation and tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)

	// ApplyDefaults cannot distinguish an unset bool from an explicit
	// false, so the bool defaults live here.
	cfg.Storage.ForcePathStyle = true

	return cfg
}
