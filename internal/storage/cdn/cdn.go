// Package cdn replicates completed artifacts to an S3-compatible bucket
// (Cloudflare R2 in production) fronted by a CDN.
package cdn

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transcoder/internal/config"
)

// objectAPI is the part of the S3 API a Replicator needs.
type objectAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Bucket is an S3 client that uploads through the multipart manager.
type Bucket struct {
	*s3.Client
	uploader *manager.Uploader
}

// Upload stores an object through the multipart uploader.
func (b *Bucket) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	return b.uploader.Upload(ctx, input, opts...)
}

// NewBucket builds an S3 client for the configured endpoint.
func NewBucket(ctx context.Context, cfg config.CDN) (*Bucket, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &Bucket{Client: client, uploader: manager.NewUploader(client)}, nil
}

// Replicator copies artifacts to the CDN bucket. At most Workers uploads run
// at once; further callers wait for a slot.
type Replicator struct {
	bucket     string
	publicBase string
	api        objectAPI

	attempts int
	backoff  time.Duration
	slots    chan struct{}
}

// NewReplicator creates a Replicator.
func NewReplicator(api objectAPI, cfg config.CDN) *Replicator {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	return &Replicator{
		bucket:     cfg.Bucket,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
		api:        api,
		attempts:   attempts,
		backoff:    cfg.Backoff,
		slots:      make(chan struct{}, workers),
	}
}

// PublicURL returns the CDN location of key.
func (r *Replicator) PublicURL(key string) string {
	return r.publicBase + "/" + strings.TrimLeft(key, "/")
}

// Replicate uploads payload under key, retrying with backoff, and returns
// the public URL of the replica.
func (r *Replicator) Replicate(ctx context.Context, key, contentType string, payload []byte) (string, error) {
	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-r.slots }()

	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		_, err = r.api.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(r.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(payload),
			ContentType: aws.String(contentType),
		})
		if err == nil {
			return r.PublicURL(key), nil
		}

		if attempt == r.attempts {
			break
		}

		timer := time.NewTimer(r.backoffDelay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		}
	}

	zlog.Logger.Warn().Err(err).Str("key", key).Int("attempts", r.attempts).Msg("cdn replication failed")
	return "", fmt.Errorf("replicate %s: %w", key, err)
}

// Delete removes the replica stored under key. Deleting a missing key succeeds.
func (r *Replicator) Delete(ctx context.Context, key string) error {
	_, err := r.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete replica %s: %w", key, err)
	}
	return nil
}

// backoffDelay doubles the base delay per attempt with up to 10% jitter.
func (r *Replicator) backoffDelay(attempt int) time.Duration {
	delay := r.backoff << (attempt - 1)
	if delay <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int64N(int64(delay)/10 + 1))
	return delay - delay/20 + jitter
}
