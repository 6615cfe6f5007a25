package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/andyc1997/kyc-agent/backend/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectAPI is the slice of object storage used by the pipeline services.
// MinioService implements it; tests substitute an in-memory fake.
type ObjectAPI interface {
	GetObject(ctx context.Context, bucket, object string) ([]byte, error)
	PutObject(ctx context.Context, bucket, object string, data []byte, contentType string) error
	ObjectExists(ctx context.Context, bucket, object string) (bool, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
	PresignedURL(ctx context.Context, bucket, object string) (string, error)
}

// ErrObjectNotFound is returned by GetObject for a missing key.
var ErrObjectNotFound = errors.New("object not found")

type MinioService struct {
	client *minio.Client
	config *config.MinioConfig
}

func NewMinioService(cfg *config.MinioConfig) (*MinioService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioService{
		client: client,
		config: cfg,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *MinioService) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// GetObject fetches a whole object into memory
func (s *MinioService) GetObject(ctx context.Context, bucket, object string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, object)
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	return data, nil
}

// PutObject uploads a whole object, overwriting any previous version
func (s *MinioService) PutObject(ctx context.Context, bucket, object string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}

	return nil
}

// ObjectExists checks whether an object exists without fetching it
func (s *MinioService) ObjectExists(ctx context.Context, bucket, object string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

// ListObjects returns the names of all objects under a prefix, sorted
func (s *MinioService) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	var names []string
	for info := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", info.Err)
		}
		names = append(names, info.Key)
	}
	sort.Strings(names)
	return names, nil
}

// PresignedURL generates a presigned GET URL for handing an object to an
// external collaborator, with expiration
func (s *MinioService) PresignedURL(ctx context.Context, bucket, object string) (string, error) {
	expiry := time.Duration(s.config.ExpireDays) * 24 * time.Hour
	url, err := s.client.PresignedGetObject(ctx, bucket, object, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url.String(), nil
}
