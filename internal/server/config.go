package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/laj3/laj3/internal/utils"
	"github.com/ulule/limiter/v3"
)

const (
	DefaultAddr             = "127.0.0.1:7878"
	DefaultManifest         = "base.dict"
	DefaultWorkers          = 10
	DefaultReadTimeout      = 30 * time.Second
	DefaultWriteTimeout     = 5 * time.Minute
	DefaultMaxManifestBytes = 64 << 20
)

var (
	ErrInvalidWorkers  = errors.New("workers must be greater than zero")
	ErrInvalidTimeout  = errors.New("timeouts must not be negative")
	ErrInvalidMaxBytes = errors.New("max manifest bytes must not be negative")
	ErrInvalidLevel    = errors.New("compression level out of range")
)

type Config struct {
	Addr             string        `mapstructure:"addr"`
	ContentDir       string        `mapstructure:"content_dir"`
	Manifest         string        `mapstructure:"manifest"`
	Workers          int           `mapstructure:"workers"`
	QueueSize        int           `mapstructure:"queue_size"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	MaxManifestBytes int64         `mapstructure:"max_manifest_bytes"`
	CompressionLevel int           `mapstructure:"compression_level"`
	RateLimit        string        `mapstructure:"rate_limit"`
	HTTPAddr         string        `mapstructure:"http_addr"`
	S3               S3Config      `mapstructure:"s3"`
}

// S3Config holds credentials for manifests fetched from s3:// locations.
// Empty keys fall back to the default AWS credential chain.
type S3Config struct {
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// Validate fills in defaults and checks the configuration. Paths are resolved
// to absolute form so the server is independent of later working directory
// changes.
func (c *Config) Validate() error {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Manifest == "" {
		c.Manifest = DefaultManifest
	}
	if c.ContentDir == "" {
		c.ContentDir = "."
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Workers)
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return ErrInvalidTimeout
	}
	if c.MaxManifestBytes == 0 {
		c.MaxManifestBytes = DefaultMaxManifestBytes
	}
	if c.MaxManifestBytes < 0 {
		return ErrInvalidMaxBytes
	}

	// 0 selects the deflate default; stored entries are not offered.
	if c.CompressionLevel == 0 {
		c.CompressionLevel = flate.DefaultCompression
	}
	if c.CompressionLevel < flate.HuffmanOnly || c.CompressionLevel > flate.BestCompression {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, c.CompressionLevel)
	}

	contentDir, err := utils.ResolvePath(c.ContentDir)
	if err != nil {
		return fmt.Errorf("content dir: %w", err)
	}
	if !utils.DirExists(contentDir) {
		return fmt.Errorf("content dir %q does not exist", contentDir)
	}
	c.ContentDir = contentDir

	if !isS3URI(c.Manifest) {
		manifestPath, err := utils.ResolvePath(c.Manifest)
		if err != nil {
			return fmt.Errorf("manifest: %w", err)
		}
		c.Manifest = manifestPath
	}

	if c.RateLimit != "" {
		if _, err := limiter.NewRateFromFormatted(c.RateLimit); err != nil {
			return fmt.Errorf("rate limit %q: %w", c.RateLimit, err)
		}
	}

	return nil
}

func isS3URI(s string) bool {
	return strings.HasPrefix(s, "s3://")
}
