package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/shuttle/internal/logger"
	"github.com/marmos91/shuttle/internal/telemetry"
	"github.com/marmos91/shuttle/pkg/api"
	"github.com/marmos91/shuttle/pkg/api/handlers"
	"github.com/marmos91/shuttle/pkg/auth"
	"github.com/marmos91/shuttle/pkg/config"
	"github.com/marmos91/shuttle/pkg/idempotency"
	"github.com/marmos91/shuttle/pkg/limits"
	"github.com/marmos91/shuttle/pkg/maintenance"
	"github.com/marmos91/shuttle/pkg/metrics"
	"github.com/marmos91/shuttle/pkg/queue"
	redisqueue "github.com/marmos91/shuttle/pkg/queue/redis"
	sqsqueue "github.com/marmos91/shuttle/pkg/queue/sqs"
	"github.com/marmos91/shuttle/pkg/store/blob"
	"github.com/marmos91/shuttle/pkg/store/metadata"
	"github.com/marmos91/shuttle/pkg/transfer"
	"github.com/marmos91/shuttle/pkg/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the shuttle server",
	Long: `Start the shuttle server with the specified configuration.

The server runs in the foreground until it receives SIGINT or SIGTERM,
then drains in-flight requests and shuts the pipeline down.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/shuttle/config.yaml. A missing file
is fine: defaults plus SHUTTLE_* environment variables apply.

Examples:
  # Start with the default config location
  shuttle start

  # Start with a custom config file
  shuttle start --config /etc/shuttle/config.yaml

  # Start with environment variable overrides
  SHUTTLE_LOGGING_LEVEL=DEBUG shuttle start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "shuttle",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "shuttle",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	logger.Info("shuttle starting", "version", Version, "commit", Commit)
	logger.Info("configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	watchLogLevel(cfg)

	metrics.InitRegistry()

	meta, err := config.CreateMetadataStore(cfg, metrics.NewMetadataMetrics())
	if err != nil {
		return err
	}
	defer func() {
		if err := meta.Close(); err != nil {
			logger.Error("metadata store close error", logger.KeyError, err)
		}
	}()

	blobs, err := config.CreateBlobStore(ctx, cfg, metrics.NewStorageMetrics())
	if err != nil {
		return err
	}
	defer func() {
		if err := blobs.Close(); err != nil {
			logger.Error("blob store close error", logger.KeyError, err)
		}
	}()

	logger.Info("stores ready", "database", string(cfg.Database.Driver), "storage", string(cfg.Storage.Backend))

	registry := idempotency.NewRegistry(meta, cfg.Cleanup.IdempotencyTTL)
	results := queue.NewResultStore()
	pipelineMetrics := metrics.NewPipelineMetrics()
	transferMetrics := metrics.NewTransferMetrics()
	admission := limits.NewAdmission(cfg.Transfer.Limits(), pipelineMetrics)

	pipe, err := buildPipeline(ctx, cfg, meta, blobs, results, pipelineMetrics, transferMetrics)
	if err != nil {
		return err
	}
	defer pipe.stop()

	_, multipart := blobs.(blob.MultipartStore)
	service := transfer.NewService(transfer.ServiceConfig{
		Store:            meta,
		Blobs:            blobs,
		Registry:         registry,
		Admission:        admission,
		Submitter:        pipe.submitter,
		Results:          results,
		Metrics:          transferMetrics,
		DefaultChunkSize: int64(cfg.Transfer.ChunkSize),
		TaskTimeout:      cfg.Queue.TaskTimeout,
		Multipart:        multipart,
	})

	cleaner := maintenance.NewCleaner(meta, blobs, registry, cfg.Cleanup.StaleUploadTTL)
	if cfg.Cleanup.Enabled {
		runner := maintenance.NewRunner(cleaner, cfg.Cleanup.Interval)
		runner.Start(ctx)
		defer runner.Stop()
	}

	authenticator, err := auth.NewAuthenticator(cfg.Auth)
	if err != nil {
		return err
	}

	router, err := api.NewRouter(api.RouterConfig{
		Service:       service,
		Cleaner:       cleaner,
		Authenticator: authenticator,
		RateLimiter:   auth.NewRateLimiter(cfg.Auth.RateLimitPerMinute),
		HTTPMetrics:   metrics.NewHTTPMetrics(),
		Version:       handlers.VersionInfo{Version: Version, Commit: Commit, Date: Date},
	})
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server, router)

	// Start server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", logger.KeyError, err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", logger.KeyError, err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// watchLogLevel re-applies logging.level when the config file changes.
// Other keys stay frozen until restart; an env-only deployment has no
// file to watch and skips this quietly.
func watchLogLevel(cfg *config.Config) {
	level := cfg.Logging.Level
	err := config.Watch(GetConfigFile(), func(next *config.Config) {
		if next.Logging.Level == level {
			return
		}
		level = next.Logging.Level
		logger.SetLevel(level)
		logger.Info("log level reloaded", "level", level)
	})
	if err != nil {
		logger.Debug("config watch disabled", logger.KeyError, err)
	}
}

// pipeline is the execution path behind the transfer service, bundled
// with its teardown. Direct mode runs tasks on an in-process pool;
// durable mode stages chunk bytes in badger and routes tasks through
// redis or SQS, so admitted work survives a restart.
type pipeline struct {
	submitter transfer.Submitter
	stop      func()
}

func buildPipeline(
	ctx context.Context,
	cfg *config.Config,
	meta metadata.Store,
	blobs blob.Store,
	results *queue.ResultStore,
	pm *metrics.PipelineMetrics,
	tm *metrics.TransferMetrics,
) (*pipeline, error) {
	if cfg.Queue.External() {
		staging, err := queue.OpenStaging(cfg.Queue.StagingPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open staging store: %w", err)
		}

		dq, err := openDurableQueue(ctx, &cfg.Queue)
		if err != nil {
			_ = staging.Close()
			return nil, err
		}

		executor := worker.NewExecutor(worker.ExecutorConfig{
			Store:      meta,
			Blobs:      blobs,
			Staging:    staging,
			Results:    results,
			MaxRetries: cfg.Transfer.MaxRetries,
			Pipeline:   pm,
			Transfer:   tm,
		})
		leases := worker.NewLeaseTable()
		group := worker.NewConsumerGroup(dq, executor, leases, worker.ConsumerConfig{
			Consumers:   cfg.Queue.Consumers,
			PollTimeout: cfg.Queue.PollTimeout,
			MaxRetries:  cfg.Transfer.MaxRetries,
		})
		group.Start(ctx)

		logger.Info("task pipeline ready",
			"mode", "durable",
			"queue", string(cfg.Queue.Backend),
			"consumers", cfg.Queue.Consumers)

		return &pipeline{
			submitter: worker.NewQueueSubmitter(dq, staging, leases),
			stop: func() {
				group.Stop(cfg.Server.ShutdownTimeout)
				if err := dq.Close(); err != nil {
					logger.Warn("queue close error", logger.KeyError, err)
				}
				if err := staging.Close(); err != nil {
					logger.Warn("staging close error", logger.KeyError, err)
				}
			},
		}, nil
	}

	executor := worker.NewExecutor(worker.ExecutorConfig{
		Store:      meta,
		Blobs:      blobs,
		Results:    results,
		MaxRetries: cfg.Transfer.MaxRetries,
		Pipeline:   pm,
		Transfer:   tm,
	})
	pool := worker.NewPool(executor, cfg.Transfer.Workers, cfg.Transfer.QueueSize, pm)
	pool.Start(ctx)

	var scaler *worker.Autoscaler
	if cfg.Autoscale.Enabled {
		scaler = worker.NewAutoscaler(pool, pool.QueueDepth, cfg.Autoscale.WorkerConfig())
		scaler.Start(ctx)
	}

	logger.Info("task pipeline ready",
		"mode", "direct",
		"workers", cfg.Transfer.Workers,
		"autoscale", cfg.Autoscale.Enabled)

	return &pipeline{
		submitter: pool,
		stop: func() {
			if scaler != nil {
				scaler.Stop()
			}
			pool.Stop(cfg.Server.ShutdownTimeout)
		},
	}, nil
}

// openDurableQueue connects the configured external queue backend.
func openDurableQueue(ctx context.Context, cfg *queue.Config) (queue.DurableQueue, error) {
	switch cfg.Backend {
	case queue.BackendRedis:
		return redisqueue.New(ctx, cfg.RedisURL, cfg.RedisQueueName)
	case queue.BackendSQS:
		return sqsqueue.New(ctx, sqsqueue.Config{
			QueueURL:        cfg.SQSQueueURL,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			TaskTimeout:     cfg.TaskTimeout,
		})
	default:
		return nil, fmt.Errorf("unsupported durable queue backend: %s", cfg.Backend)
	}
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
