// Package server answers install requests: it reads a client manifest from a
// TCP connection, diffs it against the reference manifest and replies with a
// zip archive of the files the client needs.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/laj3/laj3/internal/archive"
	"github.com/laj3/laj3/internal/workerpool"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"golang.org/x/sync/errgroup"
)

const (
	acceptBackoff = 50 * time.Millisecond
	rejectTimeout = time.Second
	// closing with unread input resets the connection and can discard the
	// error line, so up to this much is read first
	drainLimit = 1 << 20
)

type Server struct {
	config   *Config
	source   ManifestSource
	archiver *archive.Archiver
	limiter  *limiter.Limiter
	stats    *Stats

	mu       sync.Mutex
	listener net.Listener
	pool     *workerpool.Pool
}

type Option func(*Server)

// WithManifestSource overrides the source derived from Config.Manifest.
func WithManifestSource(src ManifestSource) Option {
	return func(s *Server) {
		s.source = src
	}
}

func New(ctx context.Context, config *Config, opts ...Option) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:   config,
		archiver: archive.New(config.ContentDir, archive.WithLevel(config.CompressionLevel)),
		stats:    &Stats{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.source == nil {
		src, err := NewManifestSource(ctx, config.Manifest, config.S3)
		if err != nil {
			return nil, fmt.Errorf("manifest source: %w", err)
		}
		s.source = src
	}

	if config.RateLimit != "" {
		rate, err := limiter.NewRateFromFormatted(config.RateLimit)
		if err != nil {
			return nil, err
		}
		s.limiter = limiter.New(memory.NewStore(), rate)
	}

	return s, nil
}

// Start binds the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or ln is closed.
// Accepted connections are handed to the worker pool. On return the pool has
// drained, so every dispatched connection has been answered or closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	pool, err := workerpool.New(s.config.Workers, workerpool.WithQueueSize(s.config.QueueSize))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.pool = pool
	s.mu.Unlock()

	slog.Info("server start",
		"addr", ln.Addr().String(),
		"workers", s.config.Workers,
		"manifest", s.source.String(),
		"contentDir", s.config.ContentDir,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// jobs outlive cancellation so in-flight sessions can finish
	jobCtx := context.WithoutCancel(ctx)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer cancel()
		return s.acceptLoop(egCtx, jobCtx, ln, pool)
	})
	eg.Go(func() error {
		<-egCtx.Done()
		return ln.Close()
	})
	if s.config.HTTPAddr != "" {
		eg.Go(func() error {
			return s.runStatus(egCtx, pool)
		})
	}

	err = eg.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	pool.Close()
	slog.Info("server stop", "stats", s.stats.Snapshot())
	return err
}

// Addr returns the bound address, or nil before Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}

func (s *Server) acceptLoop(ctx, jobCtx context.Context, ln net.Listener, pool *workerpool.Pool) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("accept connection", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(acceptBackoff):
			}
			continue
		}

		s.stats.accepted.Add(1)
		id := uuid.NewString()
		remote := conn.RemoteAddr().String()

		if !s.allow(ctx, remote) {
			s.stats.limited.Add(1)
			slog.Warn("connection rate limited", "conn", id, "remote", remote)
			go reject(conn, "rate limit exceeded")
			continue
		}

		slog.Debug("connection accepted", "conn", id, "remote", remote)
		err = pool.Execute(func() {
			s.handleConnection(jobCtx, id, conn)
		})
		if err != nil {
			s.stats.rejected.Add(1)
			slog.Warn("connection rejected", "conn", id, "remote", remote, "error", err)
			go reject(conn, "server busy")
		}
	}
}

func (s *Server) allow(ctx context.Context, remote string) bool {
	if s.limiter == nil {
		return true
	}

	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}

	lctx, err := s.limiter.Get(ctx, host)
	if err != nil {
		slog.Warn("rate limiter lookup", "remote", host, "error", err)
		return true
	}
	return !lctx.Reached
}

// reject answers a connection that will not be served with a single error
// line and closes it.
func reject(conn net.Conn, reason string) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(rejectTimeout))
	if _, err := conn.Write(errorLine(reason)); err != nil {
		return
	}
	drain(conn)
}

// Stats counts connection outcomes over the server's lifetime.
type Stats struct {
	accepted  atomic.Int64
	served    atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	limited   atomic.Int64
	bytesSent atomic.Int64
}

type StatsSnapshot struct {
	Accepted    int64 `json:"accepted"`
	Served      int64 `json:"served"`
	Failed      int64 `json:"failed"`
	Rejected    int64 `json:"rejected"`
	RateLimited int64 `json:"rateLimited"`
	BytesSent   int64 `json:"bytesSent"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Accepted:    s.accepted.Load(),
		Served:      s.served.Load(),
		Failed:      s.failed.Load(),
		Rejected:    s.rejected.Load(),
		RateLimited: s.limited.Load(),
		BytesSent:   s.bytesSent.Load(),
	}
}
