package file

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage provides an S3-compatible storage backend using MinIO.
type MinioStorage struct {
	client     *minio.Client
	bucketName string
}

// NewMinioStorage creates a new MinioStorage connected to the specified MinIO server.
// If the bucket does not exist, it will be created automatically.
func NewMinioStorage(ctx context.Context, endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinioStorage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioStorage{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Save uploads src under key. size may be -1 when unknown.
func (s *MinioStorage) Save(ctx context.Context, key string, src io.Reader, size int64) (int64, error) {
	key, err := cleanKey(key)
	if err != nil {
		return 0, err
	}

	info, err := s.client.PutObject(ctx, s.bucketName, key, src, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save object %s: %w", key, err)
	}

	return info.Size, nil
}

// Open returns a seekable reader over the object and its size.
func (s *MinioStorage) Open(ctx context.Context, key string) (Object, int64, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, 0, err
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, s.mapError(key, err)
	}

	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, 0, s.mapError(key, err)
	}

	return obj, info.Size, nil
}

// Exists reports whether an object is stored under key.
func (s *MinioStorage) Exists(ctx context.Context, key string) (bool, error) {
	key, err := cleanKey(key)
	if err != nil {
		return false, err
	}

	if _, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object %s: %w", key, err)
	}

	return true, nil
}

// Delete removes the specified object from the bucket.
func (s *MinioStorage) Delete(ctx context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}

	return s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{})
}

func (s *MinioStorage) mapError(key string, err error) error {
	if isNoSuchKey(err) {
		return ErrObjectNotFound
	}
	return fmt.Errorf("failed to load object %s: %w", key, err)
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
