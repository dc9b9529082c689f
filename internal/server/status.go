package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/laj3/laj3/internal/version"
	"github.com/laj3/laj3/internal/workerpool"
	slogGin "github.com/samber/slog-gin"
)

const statusShutdownTimeout = 5 * time.Second

type StatusResponse struct {
	Version     string           `json:"version"`
	Manifest    string           `json:"manifest"`
	Connections StatsSnapshot    `json:"connections"`
	Pool        workerpool.Stats `json:"pool"`
}

func (s *Server) statusHandler(pool *workerpool.Pool) http.Handler {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(slogGin.NewWithConfig(slog.Default().WithGroup("http"), slogGin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	}))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, StatusResponse{
			Version:     version.Version,
			Manifest:    s.source.String(),
			Connections: s.stats.Snapshot(),
			Pool:        pool.Stats(),
		})
	})

	return r
}

// runStatus serves the HTTP status endpoint until ctx is cancelled.
func (s *Server) runStatus(ctx context.Context, pool *workerpool.Pool) error {
	srv := &http.Server{
		Addr:              s.config.HTTPAddr,
		Handler:           s.statusHandler(pool),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("status endpoint start", "addr", s.config.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
