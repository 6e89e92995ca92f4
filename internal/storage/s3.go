// Package storage provides S3-compatible object storage for ledger archives.
package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Saul-Punybz/feedrelay/internal/config"
)

// objectAPI is the subset of *s3.Client the archive needs.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Client wraps an S3-compatible object storage client.
type Client struct {
	s3     objectAPI
	bucket string
}

// NewClient creates a new S3-compatible storage client. Without an endpoint
// the client is returned unconfigured and every upload is skipped.
func NewClient(ctx context.Context, cfg config.S3Config) (*Client, error) {
	if cfg.Endpoint == "" {
		slog.Debug("storage: S3 endpoint not configured, ledger archive disabled")
		return &Client{bucket: cfg.Bucket}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return &Client{
		s3:     client,
		bucket: cfg.Bucket,
	}, nil
}

// Configured returns true if the S3 client has a valid connection configured.
func (c *Client) Configured() bool {
	return c != nil && c.s3 != nil
}

// PutCompressed gzips data and uploads it under key.
func (c *Client) PutCompressed(ctx context.Context, key string, data []byte) error {
	if !c.Configured() {
		slog.Warn("storage: not configured, skipping upload", "key", key)
		return nil
	}

	body, err := gzipCompress(data)
	if err != nil {
		return fmt.Errorf("storage: compress %s: %w", key, err)
	}

	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("storage: upload %s: %w", key, err)
	}

	slog.Debug("storage: object uploaded", "key", key, "size", len(body))
	return nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
