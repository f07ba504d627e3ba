// Package blob defines the chunk storage abstraction.
//
// A blob store holds the raw bytes of uploaded chunks under opaque string
// keys of the shape "<upload_id>/<chunk_index>". Backends that support
// native multipart assembly (S3, R2) additionally implement MultipartStore
// so completed uploads can be committed as a single assembled object.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Sentinel errors returned by blob store implementations.
var (
	// ErrObjectNotFound indicates the key does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrInvalidRange indicates a range read past the end of the object.
	ErrInvalidRange = errors.New("requested range is not satisfiable")
)

// TransientError wraps a failure that is worth retrying (throttling,
// 5xx responses, network timeouts). Permanent failures (not found, access
// denied, invalid request) are returned unwrapped.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable storage failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Store is the minimal interface every chunk storage backend implements.
//
// Puts are idempotent: re-writing the same key with the same bytes is legal
// and leaves the object unchanged.
type Store interface {
	// Put writes data under key, returning the backend etag when the
	// backend produces one ("" otherwise).
	Put(ctx context.Context, key string, data []byte) (etag string, err error)

	// Get returns a reader over the whole object. The caller must close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// GetRange returns a reader over length bytes starting at offset. A
	// range that starts inside the object but extends past its end is
	// truncated; a range that starts at or past the end returns
	// ErrInvalidRange.
	GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every key starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// CompletedPart identifies one uploaded part of a multipart session.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// MultipartStore is an optional capability interface for backends that can
// assemble parts into a single object server-side. Callers probe for it
// with a type assertion on Store.
type MultipartStore interface {
	// BeginMultipart starts a multipart session for key and returns the
	// backend handle identifying it.
	BeginMultipart(ctx context.Context, key string) (handle string, err error)

	// PutPart uploads one part. Part numbers start at 1 and must be unique
	// within the session.
	PutPart(ctx context.Context, key, handle string, partNumber int32, data []byte) (etag string, err error)

	// CompleteMultipart commits the session from the given part list and
	// returns the etag of the assembled object.
	CompleteMultipart(ctx context.Context, key, handle string, parts []CompletedPart) (etag string, err error)

	// AbortMultipart cancels the session. Aborting an unknown session is
	// not an error.
	AbortMultipart(ctx context.Context, key, handle string) error
}

// Metrics observes storage operation latency. A nil value disables
// instrumentation.
type Metrics interface {
	ObservePut(backend string, duration time.Duration)
}

// BackendType selects the chunk storage backend.
type BackendType string

const (
	// BackendLocal stores chunks as files under a root directory.
	BackendLocal BackendType = "local"

	// BackendS3 stores chunks in an S3 bucket.
	BackendS3 BackendType = "s3"

	// BackendR2 stores chunks in a Cloudflare R2 bucket via the S3 API.
	BackendR2 BackendType = "r2"
)

// Config contains chunk storage configuration.
type Config struct {
	// Backend selects the storage implementation.
	Backend BackendType `mapstructure:"backend" yaml:"backend" validate:"required,oneof=local s3 r2"`

	// Root is the base directory for the local backend.
	Root string `mapstructure:"root" yaml:"root,omitempty"`

	// Bucket is the S3/R2 bucket name.
	Bucket string `mapstructure:"bucket" yaml:"bucket,omitempty" validate:"required_unless=Backend local"`

	// Region is the S3 region. The r2 backend always uses "auto".
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint overrides the S3 endpoint (MinIO, localstack). For r2 it is
	// derived from R2AccountID when empty.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// AccessKeyID and SecretAccessKey are static credentials. When empty
	// the default AWS credential chain applies.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// ForcePathStyle uses path-style addressing (required for MinIO).
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`

	// R2AccountID is the Cloudflare account used to derive the r2 endpoint.
	R2AccountID string `mapstructure:"r2_account_id" yaml:"r2_account_id,omitempty"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendLocal
	}

	if c.Backend == BackendLocal && c.Root == "" {
		c.Root = "./data/chunks"
	}

	if c.Region == "" {
		c.Region = "us-east-1"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLocal:
		if c.Root == "" {
			return fmt.Errorf("storage root is required for the local backend")
		}
	case BackendS3:
		if c.Bucket == "" {
			return fmt.Errorf("bucket is required for the s3 backend")
		}
	case BackendR2:
		if c.Bucket == "" {
			return fmt.Errorf("bucket is required for the r2 backend")
		}
		if c.Endpoint == "" && c.R2AccountID == "" {
			return fmt.Errorf("set endpoint or r2_account_id for the r2 backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Backend)
	}
	return nil
}

// EffectiveEndpoint returns the endpoint the S3 client should target. For
// r2 it is derived from the account ID unless explicitly set.
func (c *Config) EffectiveEndpoint() string {
	if c.Backend == BackendR2 && c.Endpoint == "" {
		return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.R2AccountID)
	}
	return c.Endpoint
}

// EffectiveRegion returns the region the S3 client should use. R2 does not
// have regions and requires the literal "auto".
func (c *Config) EffectiveRegion() string {
	if c.Backend == BackendR2 {
		return "auto"
	}
	return c.Region
}

// SupportsMultipart reports whether the configured backend can assemble a
// native multipart object at complete time.
func (c *Config) SupportsMultipart() bool {
	return c.Backend == BackendS3 || c.Backend == BackendR2
}
