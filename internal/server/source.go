package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/laj3/laj3/internal/manifest"
	"github.com/laj3/laj3/internal/utils"
)

// ManifestSource provides the server's reference manifest. It is consulted
// once per request so edits to the backing file are picked up without a
// restart.
type ManifestSource interface {
	Load(ctx context.Context) (manifest.Manifest, error)
	String() string
}

// NewManifestSource picks a source for location: s3://bucket/key or a local
// file path.
func NewManifestSource(ctx context.Context, location string, s3cfg S3Config) (ManifestSource, error) {
	if !isS3URI(location) {
		return NewFileSource(location), nil
	}

	bucket, key, err := parseS3URI(location)
	if err != nil {
		return nil, err
	}

	client, err := newS3Client(ctx, s3cfg)
	if err != nil {
		return nil, err
	}

	return NewS3Source(client, bucket, key), nil
}

type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Load(_ context.Context) (manifest.Manifest, error) {
	return manifest.Load(f.path)
}

func (f *FileSource) String() string {
	return f.path
}

// s3GetObjectAPI is the slice of the S3 client a manifest source needs.
type s3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Source struct {
	client   s3GetObjectAPI
	bucket   string
	key      string
	maxBytes int64
}

func NewS3Source(client s3GetObjectAPI, bucket, key string) *S3Source {
	return &S3Source{
		client:   client,
		bucket:   bucket,
		key:      key,
		maxBytes: DefaultMaxManifestBytes,
	}
}

func (s *S3Source) Load(ctx context.Context) (manifest.Manifest, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s, err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%s: %w", s, manifest.ErrTooLarge)
	}

	return manifest.Parse(data)
}

func (s *S3Source) String() string {
	return "s3://" + s.bucket + "/" + s.key
}

func parseS3URI(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("parse %q: %w", location, err)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 location %q: want s3://bucket/key", location)
	}
	return bucket, key, nil
}

func newS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	slog.Debug("s3 manifest client",
		"region", cfg.Region,
		"endpoint", cfg.Endpoint,
		"accessKey", utils.MaskSecret(cfg.AccessKey),
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
