package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
)

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config locates the bucket manifests are written to.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // optional, for S3-compatible stores such as MinIO
	PathStyle bool
}

// S3Sink stores one JSON object per committed session attempt under
// <prefix>/<session id>/<attempt>.json.
type S3Sink struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Sink creates a sink using the default AWS credential chain.
func NewS3Sink(ctx context.Context, cfg S3Config, optFns ...func(*config.LoadOptions) error) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 audit sink requires a bucket")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := append([]func(*config.LoadOptions) error{config.WithRegion(region)}, optFns...)
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3Sink(client, cfg), nil
}

func newS3Sink(client objectPutter, cfg S3Config) *S3Sink {
	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}
}

// OpenS3FromEnv reads AUDIT_S3_BUCKET, AUDIT_S3_PREFIX, AUDIT_S3_REGION,
// AUDIT_S3_ENDPOINT and AUDIT_S3_PATH_STYLE.
func OpenS3FromEnv(ctx context.Context) (*S3Sink, error) {
	bucket := os.Getenv("AUDIT_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("AUDIT_S3_BUCKET required for s3 audit sink")
	}
	return NewS3Sink(ctx, S3Config{
		Bucket:    bucket,
		Prefix:    os.Getenv("AUDIT_S3_PREFIX"),
		Region:    os.Getenv("AUDIT_S3_REGION"),
		Endpoint:  os.Getenv("AUDIT_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("AUDIT_S3_PATH_STYLE"), "true"),
	})
}

func (s *S3Sink) key(m *apptype.Manifest) string {
	return path.Join(s.prefix, m.SessionID, fmt.Sprintf("%d.json", m.Attempt))
}

func (s *S3Sink) Publish(ctx context.Context, m *apptype.Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	key := s.key(m)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put manifest %s to s3://%s: %w", key, s.bucket, err)
	}
	return nil
}
