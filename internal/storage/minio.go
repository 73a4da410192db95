package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/timmy/embedr/internal/logger"
)

// MinIOStorage implements ObjectStorage using MinIO
type MinIOStorage struct {
	core     *minio.Core
	bucket   string
	endpoint string
	useSSL   bool
}

// MinIOConfig holds configuration for MinIO client
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// NewMinIOStorage creates a new MinIO storage client
func NewMinIOStorage(cfg *MinIOConfig) (*MinIOStorage, error) {
	core, err := minio.NewCore(normalizeEndpoint(cfg.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIOStorage{
		core:     core,
		bucket:   cfg.Bucket,
		endpoint: normalizeEndpoint(cfg.Endpoint),
		useSSL:   cfg.UseSSL,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *MinIOStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.core.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := s.core.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}

		policy := fmt.Sprintf(`{
			"Version": "2012-10-17",
			"Statement": [
				{
					"Effect": "Allow",
					"Principal": {"AWS": ["*"]},
					"Action": ["s3:GetObject"],
					"Resource": ["arn:aws:s3:::%s/*"]
				}
			]
		}`, s.bucket)

		if err := s.core.SetBucketPolicy(ctx, s.bucket, policy); err != nil {
			// Non-fatal: derivatives stay reachable through signed access
			logger.CtxWarn(ctx, "Failed to set bucket policy: %v", err)
		}
	}

	return nil
}

// UploadMultipart uploads r in numbered parts through the low-level multipart API.
func (s *MinIOStorage) UploadMultipart(ctx context.Context, key string, r io.ReaderAt, size, partSize int64, contentType string) error {
	parts, err := PlanParts(size, partSize)
	if err != nil {
		return err
	}

	uploadID, err := s.core.NewMultipartUpload(ctx, s.bucket, key, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to create multipart upload: %w", err)
	}

	completed := make([]minio.CompletePart, 0, len(parts))
	for _, part := range parts {
		uploaded, err := s.core.PutObjectPart(ctx, s.bucket, key, uploadID, int(part.Number),
			io.NewSectionReader(r, part.Offset, part.Size), part.Size, minio.PutObjectPartOptions{})
		if err != nil {
			s.abort(ctx, key, uploadID)
			return fmt.Errorf("failed to upload part %d of %d: %w", part.Number, len(parts), err)
		}
		completed = append(completed, minio.CompletePart{PartNumber: int(part.Number), ETag: uploaded.ETag})
	}

	if _, err := s.core.CompleteMultipartUpload(ctx, s.bucket, key, uploadID, completed, minio.PutObjectOptions{}); err != nil {
		s.abort(ctx, key, uploadID)
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	return nil
}

func (s *MinIOStorage) abort(ctx context.Context, key, uploadID string) {
	if err := s.core.AbortMultipartUpload(context.WithoutCancel(ctx), s.bucket, key, uploadID); err != nil {
		logger.CtxWarn(ctx, "Failed to abort multipart upload of %s: %v", key, err)
	}
}

// GetURL returns the URL for accessing an object
func (s *MinIOStorage) GetURL(key string) string {
	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.endpoint, s.bucket, key)
}

// Delete deletes an object from MinIO
func (s *MinIOStorage) Delete(ctx context.Context, key string) error {
	err := s.core.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Exists checks if an object exists in MinIO
func (s *MinIOStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.core.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		errResponse := minio.ToErrorResponse(err)
		if errResponse.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}
