// Package sqs implements the durable queue over AWS SQS.
//
// Tasks ride as JSON message bodies. The visibility timeout covers one
// full task execution, so a consumer crash makes the message reappear
// for another consumer instead of losing it. Ack deletes the message;
// Nack with retry sends a fresh copy (with the bumped retry count) and
// deletes the original, because SQS message bodies are immutable.
package sqs

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/marmos91/shuttle/internal/logger"
	"github.com/marmos91/shuttle/pkg/queue"
)

// maxLongPoll is the SQS ceiling on WaitTimeSeconds.
const maxLongPoll = 20 * time.Second

// minVisibility keeps redelivery from racing a task that is still
// executing when the configured task timeout is very short.
const minVisibility = 30 * time.Second

// Queue is an SQS-backed task queue.
type Queue struct {
	client     *sqs.Client
	queueURL   string
	visibility time.Duration
}

// Config holds the SQS connection settings.
type Config struct {
	QueueURL string
	Region   string

	// Endpoint overrides the AWS endpoint, for localstack and
	// compatible stand-ins.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string

	// TaskTimeout sizes the visibility timeout.
	TaskTimeout time.Duration
}

// New builds an SQS queue client. The queue must already exist.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("sqs queue url must be set")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	visibility := cfg.TaskTimeout
	if visibility < minVisibility {
		visibility = minVisibility
	}

	logger.Debug("sqs queue initialized", "queue_url", cfg.QueueURL, "visibility", visibility)

	return &Queue{
		client:     client,
		queueURL:   cfg.QueueURL,
		visibility: visibility,
	}, nil
}

// NewWithClient wraps an existing client, for tests.
func NewWithClient(client *sqs.Client, queueURL string, taskTimeout time.Duration) *Queue {
	visibility := taskTimeout
	if visibility < minVisibility {
		visibility = minVisibility
	}
	return &Queue{client: client, queueURL: queueURL, visibility: visibility}
}

// Enqueue sends the task as a message.
func (q *Queue) Enqueue(ctx context.Context, task *queue.Task) error {
	data, err := queue.EncodeTask(task)
	if err != nil {
		return err
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(data)),
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
	}
	return nil
}

// Dequeue long-polls for one message, waiting up to timeout (capped at
// the SQS limit of 20 seconds). Returns (nil, nil) when no message
// arrived.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Delivery, error) {
	wait := timeout
	if wait > maxLongPoll {
		wait = maxLongPoll
	}
	if wait < time.Second {
		wait = time.Second
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     int32(wait / time.Second),
		VisibilityTimeout:   int32(q.visibility / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive from sqs: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	msg := out.Messages[0]
	task, err := queue.DecodeTask([]byte(aws.ToString(msg.Body)))
	if err != nil {
		return nil, err
	}

	return &queue.Delivery{Task: task, Receipt: aws.ToString(msg.ReceiptHandle)}, nil
}

// Ack deletes the message so it is never redelivered.
func (q *Queue) Ack(ctx context.Context, d *queue.Delivery) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(d.Receipt),
	})
	if err != nil {
		return fmt.Errorf("failed to ack task %s: %w", d.Task.ID, err)
	}
	return nil
}

// Nack with retry sends the (already bumped) task as a new message and
// deletes the original. Without retry it just deletes, dropping the
// task for good.
func (q *Queue) Nack(ctx context.Context, d *queue.Delivery, retry bool) error {
	if retry {
		if err := q.Enqueue(ctx, d.Task); err != nil {
			// Leave the original in flight; it reappears after the
			// visibility timeout instead of being lost.
			return err
		}
	}
	return q.Ack(ctx, d)
}

// Close is a no-op; the SQS client holds no closable resources.
func (q *Queue) Close() error {
	return nil
}

var _ queue.DurableQueue = (*Queue)(nil)
