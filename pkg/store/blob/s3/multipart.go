// Multipart assembly for the S3 blob store.
//
// Sessions are stateless on this side: the caller records part etags as it
// uploads and supplies the full part list at complete time, so any process
// can finish a session started by another.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/shuttle/pkg/store/blob"
)

// BeginMultipart starts a multipart session for key and returns the S3
// upload ID as the handle.
func (s *Store) BeginMultipart(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	result, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", classify(fmt.Errorf("failed to create multipart upload for %s: %w", key, err))
	}

	return aws.ToString(result.UploadId), nil
}

// PutPart uploads one part and returns its etag. Part numbers start at 1.
func (s *Store) PutPart(ctx context.Context, key, handle string, partNumber int32, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	result, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(handle),
		PartNumber: aws.Int32(partNumber),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return "", classify(fmt.Errorf("failed to upload part %d of %s: %w", partNumber, key, err))
	}

	return aws.ToString(result.ETag), nil
}

// CompleteMultipart commits the session from the given part list and
// returns the etag of the assembled object.
func (s *Store) CompleteMultipart(ctx context.Context, key, handle string, parts []blob.CompletedPart) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		}
	}

	// S3 requires parts in ascending part-number order.
	sort.Slice(completed, func(i, j int) bool {
		return *completed[i].PartNumber < *completed[j].PartNumber
	})

	result, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(handle),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return "", classify(fmt.Errorf("failed to complete multipart upload for %s: %w", key, err))
	}

	return aws.ToString(result.ETag), nil
}

// AbortMultipart cancels the session. Aborting an already-gone session is
// not an error.
func (s *Store) AbortMultipart(ctx context.Context, key, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(handle),
	})
	if err != nil {
		var noSuchUpload *types.NoSuchUpload
		if errors.As(err, &noSuchUpload) {
			return nil
		}
		return classify(fmt.Errorf("failed to abort multipart upload for %s: %w", key, err))
	}

	return nil
}
