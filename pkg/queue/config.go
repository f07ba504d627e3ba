package queue

import (
	"fmt"
	"time"
)

// BackendType selects the task transport.
type BackendType string

const (
	// BackendMemory executes tasks in-process through the worker pool.
	BackendMemory BackendType = "memory"

	// BackendRedis routes tasks through a redis list.
	BackendRedis BackendType = "redis"

	// BackendSQS routes tasks through an AWS SQS queue.
	BackendSQS BackendType = "sqs"
)

// Config contains task queue configuration.
type Config struct {
	// Backend selects the transport. memory keeps execution in-process;
	// redis and sqs make tasks durable across restarts.
	Backend BackendType `mapstructure:"backend" yaml:"backend" validate:"required,oneof=memory redis sqs"`

	// Consumers is how many dequeue loops run in durable mode.
	Consumers int `mapstructure:"consumers" yaml:"consumers" validate:"min=1"`

	// PollTimeout bounds one blocking dequeue.
	PollTimeout time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`

	// TaskTimeout bounds how long an accepting request waits for the
	// task outcome, and sizes the SQS visibility timeout.
	TaskTimeout time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`

	// RedisURL and RedisQueueName configure the redis backend.
	RedisURL       string `mapstructure:"redis_url" yaml:"redis_url,omitempty"`
	RedisQueueName string `mapstructure:"redis_queue_name" yaml:"redis_queue_name,omitempty"`

	// SQSQueueURL and Region configure the sqs backend. Endpoint and the
	// static credentials override the AWS defaults (localstack).
	SQSQueueURL     string `mapstructure:"sqs_queue_url" yaml:"sqs_queue_url,omitempty"`
	Region          string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// StagingPath is the badger directory chunk bytes are parked in
	// while their task sits in an external queue.
	StagingPath string `mapstructure:"staging_path" yaml:"staging_path,omitempty"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.Consumers == 0 {
		c.Consumers = 4
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = 5 * time.Second
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = 45 * time.Second
	}
	if c.RedisURL == "" {
		c.RedisURL = "redis://localhost:6379/0"
	}
	if c.RedisQueueName == "" {
		c.RedisQueueName = "shuttle-chunk-tasks"
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.StagingPath == "" {
		c.StagingPath = "./data/staging"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis queue backend")
		}
		if c.RedisQueueName == "" {
			return fmt.Errorf("redis_queue_name is required for the redis queue backend")
		}
	case BackendSQS:
		if c.SQSQueueURL == "" {
			return fmt.Errorf("sqs_queue_url is required for the sqs queue backend")
		}
	default:
		return fmt.Errorf("unsupported queue backend: %s", c.Backend)
	}

	if c.Backend != BackendMemory && c.StagingPath == "" {
		return fmt.Errorf("staging_path is required for durable queue backends")
	}
	return nil
}

// External reports whether tasks leave the process through a durable
// transport. The memory backend keeps execution in-process.
func (c *Config) External() bool {
	return c.Backend == BackendRedis || c.Backend == BackendSQS
}
