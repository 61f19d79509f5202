// Package s3cache is an S3-backed alternative to the on-disk XDG cache
// directory for model-card JSON (spec.md §4.8, §6 "persisted state
// layout"): useful when several gateway replicas run without a shared
// filesystem. Grounded on the teacher's only cloud-storage dependency,
// aws-sdk-go-v2.
package s3cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// api is the subset of *s3.Client the store calls, so tests can supply a
// fake without talking to real S3.
type api interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config configures the bucket/prefix a Store writes under.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // non-empty for S3-compatible stores (MinIO, R2, ...)
	AccessKeyID     string
	SecretAccessKey string
}

// Store implements models.CacheBackend against an S3 (or S3-compatible)
// bucket.
type Store struct {
	client api
	bucket string
	prefix string
}

// New builds a Store from Config, resolving AWS credentials the standard
// SDK way (env vars, shared config, IAM role) unless explicit static keys
// are given.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3cache: bucket is required")
	}

	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3cache: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// Load implements models.CacheBackend. A missing object returns (nil, nil)
// rather than an error, matching the on-disk backend's "missing is fine"
// contract.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3cache: get object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3cache: read object body: %w", err)
	}
	return data, nil
}

// Save implements models.CacheBackend.
func (s *Store) Save(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3cache: put object: %w", err)
	}
	return nil
}
