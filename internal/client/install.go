// Package client requests missing files from a laj3 server.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/laj3/laj3/internal/archive"
	"github.com/laj3/laj3/internal/manifest"
	"github.com/laj3/laj3/internal/utils"
)

var ErrEmptyResponse = errors.New("server closed the connection without a response")

// ServerError is an error line the server sent instead of an archive.
type ServerError struct {
	Reason string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Reason
}

type Result struct {
	Host       string
	Resource   string
	OutputPath string
	Bytes      int
	Files      []string
	Extracted  int
	Took       time.Duration
}

// Install sends the manifest at cfg.ManifestPath to the server named by
// cfg.URI and saves the archive it answers with.
func Install(ctx context.Context, cfg *Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	host, resource, _ := SplitURI(cfg.URI)

	body, err := os.ReadFile(cfg.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	start := time.Now()
	blob, err := exchange(ctx, cfg, host, body)
	if err != nil {
		return nil, err
	}

	if bytes.HasPrefix(blob, []byte(manifest.WireErrorPrefix)) {
		reason := strings.TrimSpace(string(blob[len(manifest.WireErrorPrefix):]))
		return nil, &ServerError{Reason: reason}
	}

	files, err := archive.List(blob)
	if err != nil {
		return nil, fmt.Errorf("invalid archive from %s: %w", host, err)
	}

	if err := utils.WriteFileAtomic(cfg.OutputPath, blob, 0o644); err != nil {
		return nil, fmt.Errorf("save archive: %w", err)
	}

	res := &Result{
		Host:       host,
		Resource:   resource,
		OutputPath: cfg.OutputPath,
		Bytes:      len(blob),
		Files:      files,
		Took:       time.Since(start),
	}

	if cfg.ExtractDir != "" {
		n, err := archive.Extract(blob, cfg.ExtractDir)
		if err != nil {
			return res, fmt.Errorf("extract archive: %w", err)
		}
		res.Extracted = n
	}

	slog.Info("install complete",
		"host", host,
		"resource", resource,
		"files", len(files),
		"size", humanize.Bytes(uint64(len(blob))),
		"output", cfg.OutputPath,
		"took", res.Took,
	)
	return res, nil
}

// exchange writes one request and reads the response until the server closes
// the connection.
func exchange(ctx context.Context, cfg *Config, host string, body []byte) ([]byte, error) {
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", host, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	if cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}

	slog.Debug("sending manifest", "host", host, "size", humanize.Bytes(uint64(len(body))))
	if err := manifest.WriteWire(conn, body); err != nil {
		return nil, wrapTransport(ctx, "send manifest", err)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			slog.Debug("half close", "host", host, "error", err)
		}
	}

	blob, err := io.ReadAll(conn)
	if err != nil {
		return nil, wrapTransport(ctx, "read response", err)
	}
	if len(blob) == 0 {
		return nil, ErrEmptyResponse
	}
	return blob, nil
}

func wrapTransport(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}
