package client

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultOutputPath  = "output.zip"
	DefaultDialTimeout = 10 * time.Second
)

var (
	ErrInvalidURI = errors.New("invalid uri, want host:port/resource")
	// ErrNotImplemented is returned when no manifest is supplied. Building
	// one on the fly is not supported; run `laj3 dict` first.
	ErrNotImplemented = errors.New("install without a manifest is not implemented")
)

type Config struct {
	URI          string        `mapstructure:"uri"`
	ManifestPath string        `mapstructure:"manifest"`
	OutputPath   string        `mapstructure:"output"`
	ExtractDir   string        `mapstructure:"extract_dir"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	// Timeout bounds the whole exchange after the connection is up. Zero
	// waits as long as the server keeps the connection open.
	Timeout time.Duration `mapstructure:"timeout"`
}

func (c *Config) Validate() error {
	if _, _, err := SplitURI(c.URI); err != nil {
		return err
	}
	if c.ManifestPath == "" {
		return ErrNotImplemented
	}
	if c.OutputPath == "" {
		c.OutputPath = DefaultOutputPath
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	return nil
}

// SplitURI splits host:port/resource at the first slash.
func SplitURI(uri string) (host, resource string, err error) {
	host, resource, ok := strings.Cut(uri, "/")
	if !ok || host == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return host, resource, nil
}
