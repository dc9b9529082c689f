package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/laj3/laj3/internal/manifest"
	"github.com/laj3/laj3/internal/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusHandler(t *testing.T) {
	srv, err := New(context.Background(), &Config{ContentDir: t.TempDir()},
		WithManifestSource(NewFileSource("base.dict")))
	require.NoError(t, err)

	pool, err := workerpool.New(2)
	require.NoError(t, err)
	defer pool.Close()

	h := srv.statusHandler(pool)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	srv.stats.served.Add(3)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Connections.Served)
	assert.Equal(t, 2, resp.Pool.Workers)
	assert.Equal(t, "base.dict", resp.Manifest)
}

func TestReplyError(t *testing.T) {
	err := &replyError{reason: "invalid manifest", err: manifest.ErrMalformed}
	assert.ErrorIs(t, err, manifest.ErrMalformed)
	assert.Equal(t, "ERR invalid manifest\n", string(errorLine(err.reason)))
}
