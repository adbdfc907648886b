// Package s3 provides an S3-backed backingstore.Store, used when objects
// need to survive past the node the dispatcher runs on.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/archipelago/mapperd/pkg/backingstore/memory"
)

// Config holds the settings needed to reach a bucket.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // non-empty for S3-compatible services (MinIO, etc.)
	KeyPrefix string

	ForcePathStyle bool
}

// Store is an S3-backed implementation of backingstore.Store.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// New wraps an existing S3 client.
func New(client *s3.Client, cfg Config) *Store {
	return &Store{client: client, bucket: cfg.Bucket, keyPrefix: cfg.KeyPrefix}
}

// NewFromConfig builds an S3 client from cfg and wraps it.
func NewFromConfig(ctx context.Context, cfg Config) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 backing store: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = &endpoint })
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return New(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

func (s *Store) key(target string) string {
	return s.keyPrefix + target
}

// Read issues a ranged GetObject. Reading past the end of a short
// object is not an S3-native concept, so a range error is treated as
// "nothing more to read" and zero-filled like the memory store does.
func (s *Store) Read(ctx context.Context, target string, offset, size uint64) ([]byte, error) {
	rng := fmt.Sprintf("bytes=%d-%d", offset, offset+size-1)

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(target)),
		Range:  aws.String(rng),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, memory.ErrObjectNotFound
		}
		if isRangeUnsatisfiable(err) {
			return make([]byte, size), nil
		}
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object body: %w", err)
	}

	if uint64(len(data)) < size {
		out := make([]byte, size)
		copy(out, data)
		return out, nil
	}
	return data, nil
}

// Write uploads data with PutObject, overwriting any offset-0 content.
// mapperd only ever calls Write at offset 0, to persist a whole map
// after a CLONE or a successful copy-up: there is no partial-object
// update path here, S3 has no in-place byte-range write.
func (s *Store) Write(ctx context.Context, target string, offset uint64, data []byte) error {
	if offset != 0 {
		return fmt.Errorf("s3 backing store: non-zero offset write unsupported (offset=%d)", offset)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(target)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

// Copy materializes newTarget via a server-side CopyObject, so copy-up
// never pulls the parent's bytes through the mapper node.
func (s *Store) Copy(ctx context.Context, newTarget, parent string) error {
	source := fmt.Sprintf("%s/%s", s.bucket, s.key(parent))

	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.key(newTarget)),
		CopySource: aws.String(source),
	})
	if err != nil {
		if isNotFound(err) {
			return memory.ErrObjectNotFound
		}
		return fmt.Errorf("s3 copy object: %w", err)
	}
	return nil
}

// Healthcheck verifies the bucket is reachable.
func (s *Store) Healthcheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("s3 backing store: head bucket: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "NoSuchKey") || strings.Contains(s, "NotFound") || strings.Contains(s, "404")
}

func isRangeUnsatisfiable(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "InvalidRange")
}
