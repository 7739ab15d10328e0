package aws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"bitwise74/media-api/internal/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const (
	minMultipartSize = 12 << 20
	// DeleteObjects accepts at most this many keys per call
	maxDeleteBatch = 1000
)

// Store implements storage.ObjectStore on top of an S3 compatible bucket
type Store struct {
	client  *S3Client
	presign *s3.PresignClient
}

func NewStore(c *S3Client) *Store {
	return &Store{
		client:  c,
		presign: s3.NewPresignClient(c.C),
	}
}

// Put uploads body. Objects are immutable once written, keys are never
// reused. Anything over 12 MiB goes through the multipart uploader.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	objectInput := &s3.PutObjectInput{
		Bucket:       s.client.Bucket,
		Key:          aws.String(key),
		Body:         body,
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	}

	var err error
	if size > minMultipartSize {
		uploader := manager.NewUploader(s.client.C, func(u *manager.Uploader) {
			u.Concurrency = 5
			u.PartSize = 6 << 20
		})

		_, err = uploader.Upload(ctx, objectInput)
	} else {
		if size >= 0 {
			objectInput.ContentLength = aws.Int64(size)
		}

		_, err = s.client.C.PutObject(ctx, objectInput)
	}
	if err != nil {
		return &storage.StorageError{Op: "put", Key: key, Err: err}
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	for start := 0; start < len(keys); start += maxDeleteBatch {
		batch := keys[start:min(start+maxDeleteBatch, len(keys))]

		objects := make([]types.ObjectIdentifier, len(batch))
		for i, k := range batch {
			objects[i] = types.ObjectIdentifier{Key: aws.String(k)}
		}

		out, err := s.client.C.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: s.client.Bucket,
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return &storage.StorageError{Op: "delete", Key: batch[0], Err: err}
		}

		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return &storage.StorageError{
				Op:  "delete",
				Key: aws.ToString(e.Key),
				Err: fmt.Errorf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message)),
			}
		}
	}

	return nil
}

func (s *Store) Fetch(ctx context.Context, key string, dst io.WriterAt) (int64, error) {
	downloader := manager.NewDownloader(s.client.C, func(d *manager.Downloader) {
		d.Concurrency = 5
		d.PartSize = 6 << 20
	})

	n, err := downloader.Download(ctx, dst, &s3.GetObjectInput{
		Bucket: s.client.Bucket,
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			err = storage.ErrNotFound
		}
		return n, &storage.StorageError{Op: "fetch", Key: key, Err: err}
	}

	return n, nil
}

func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: s.client.Bucket,
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", &storage.StorageError{Op: "sign", Key: key, Err: err}
	}

	return req.URL, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey"
	}

	return false
}
