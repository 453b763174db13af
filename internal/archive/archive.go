// Package archive keeps a copy of every inbound raw message in S3.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config holds the settings for an S3 archiver.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// PutObjectAPI is the subset of the S3 client used by the archiver.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver stores raw messages under <prefix>/YYYY/MM/DD/<request id>.eml.
type S3Archiver struct {
	bucket string
	prefix string
	client PutObjectAPI
	now    func() time.Time
}

// New creates an S3Archiver from cfg. A custom endpoint switches the client
// to path-style addressing for S3-compatible stores.
func New(ctx context.Context, cfg Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(cfg.Bucket, cfg.Prefix, client), nil
}

// NewWithClient creates an S3Archiver with a custom client, used for testing.
func NewWithClient(bucket, prefix string, client PutObjectAPI) *S3Archiver {
	return &S3Archiver{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		client: client,
		now:    time.Now,
	}
}

// Key returns the object key used for requestID at time t.
func (a *S3Archiver) Key(requestID string, t time.Time) string {
	return path.Join(a.prefix, t.UTC().Format("2006/01/02"), requestID+".eml")
}

// Store uploads raw and returns its object key.
func (a *S3Archiver) Store(ctx context.Context, requestID string, raw []byte) (string, error) {
	key := a.Key(requestID, a.now())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(raw),
		ContentLength: aws.Int64(int64(len(raw))),
		ContentType:   aws.String("message/rfc822"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive message to s3://%s/%s: %w", a.bucket, key, err)
	}
	return key, nil
}
