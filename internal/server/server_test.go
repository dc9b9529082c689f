package server

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/laj3/laj3/internal/archive"
	"github.com/laj3/laj3/internal/manifest"
	"github.com/laj3/laj3/internal/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	srv       *Server
	addr      string
	dir       string
	reference string
	cancel    context.CancelFunc
	done      chan error
}

func startServer(t *testing.T, reference manifest.Manifest, files map[string]string, mutate ...func(*Config)) *testServer {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	refPath := filepath.Join(t.TempDir(), "base.dict")
	if reference != nil {
		require.NoError(t, manifest.Save(refPath, reference))
	}

	cfg := &Config{
		Addr:        "127.0.0.1:0",
		ContentDir:  dir,
		Manifest:    refPath,
		Workers:     4,
		ReadTimeout: 5 * time.Second,
	}
	for _, fn := range mutate {
		fn(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := New(ctx, cfg)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ts := &testServer{
		srv:       srv,
		addr:      ln.Addr().String(),
		dir:       dir,
		reference: refPath,
		cancel:    cancel,
		done:      make(chan error, 1),
	}
	go func() {
		ts.done <- srv.Serve(ctx, ln)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-ts.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	return ts
}

func (ts *testServer) poolStats() workerpool.Stats {
	ts.srv.mu.Lock()
	defer ts.srv.mu.Unlock()
	if ts.srv.pool == nil {
		return workerpool.Stats{}
	}
	return ts.srv.pool.Stats()
}

// stall opens a connection that sends part of a manifest and then goes quiet.
func stall(t *testing.T, addr string) net.Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = conn.Write([]byte(`{"a.txt"`))
	require.NoError(t, err)
	return conn
}

// request sends body as a manifest and returns everything the server wrote.
func request(t *testing.T, addr string, body []byte) []byte {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, manifest.WriteWire(conn, body))
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	return reply
}

func TestServer_SendsDiff(t *testing.T) {
	ts := startServer(t,
		manifest.Manifest{"a.txt": "h2", "b.txt": "h3"},
		map[string]string{"a.txt": "new a", "b.txt": "bee", "c.txt": "unlisted"},
	)

	reply := request(t, ts.addr, []byte(`{"a.txt":"h1"}`))

	files, err := archive.ReadAll(reply)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"a.txt": []byte("new a"),
		"b.txt": []byte("bee"),
	}, files)
}

func TestServer_IdenticalManifestGetsEmptyArchive(t *testing.T) {
	ref := manifest.Manifest{"a.txt": "h1"}
	ts := startServer(t, ref, map[string]string{"a.txt": "a"})

	reply := request(t, ts.addr, []byte(`{"a.txt":"h1"}`))

	assert.True(t, strings.HasPrefix(string(reply), "PK"))
	names, err := archive.List(reply)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestServer_ClientOnlyPathIsSkipped(t *testing.T) {
	ts := startServer(t, manifest.Manifest{"a.txt": "h1"}, map[string]string{"a.txt": "a"})

	reply := request(t, ts.addr, []byte(`{"a.txt":"h1","gone.txt":"x"}`))

	names, err := archive.List(reply)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestServer_UnlistedFilesAreNotServed(t *testing.T) {
	ts := startServer(t,
		manifest.Manifest{"a.txt": "h1"},
		map[string]string{
			"a.txt":       "a",
			".env":        "AWS_SECRET=topsecret",
			".git/config": "[core]",
		},
	)

	reply := request(t, ts.addr, []byte(`{"a.txt":"h1",".env":"x",".git/config":"y"}`))

	names, err := archive.List(reply)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestServer_StaleListedFileIsResent(t *testing.T) {
	ts := startServer(t,
		manifest.Manifest{"a.txt": "h2"},
		map[string]string{"a.txt": "a", "secret.txt": "s"},
	)

	reply := request(t, ts.addr, []byte(`{"a.txt":"h1","secret.txt":"x"}`))

	names, err := archive.List(reply)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, names)
}

func TestServer_MalformedManifestGetsErrorLine(t *testing.T) {
	ts := startServer(t, manifest.Manifest{"a.txt": "h1"}, map[string]string{"a.txt": "a"})

	reply := request(t, ts.addr, []byte("this is not json"))

	assert.True(t, strings.HasPrefix(string(reply), manifest.WireErrorPrefix), "reply %q", reply)
	assert.Equal(t, int64(1), ts.srv.Stats().Failed)
}

func TestServer_MissingReferenceManifest(t *testing.T) {
	ts := startServer(t, nil, nil)

	reply := request(t, ts.addr, []byte(`{}`))

	assert.Equal(t, manifest.WireErrorPrefix+"server manifest unavailable\n", string(reply))
}

func TestServer_ReferenceReloadedPerRequest(t *testing.T) {
	ts := startServer(t, manifest.Manifest{"a.txt": "h1"}, map[string]string{"a.txt": "a", "b.txt": "b"})

	names, err := archive.List(request(t, ts.addr, []byte(`{"a.txt":"h1"}`)))
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, manifest.Save(ts.reference, manifest.Manifest{"a.txt": "h1", "b.txt": "h2"}))

	names, err = archive.List(request(t, ts.addr, []byte(`{"a.txt":"h1"}`)))
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, names)
}

func TestServer_ConcurrentClients(t *testing.T) {
	ts := startServer(t,
		manifest.Manifest{"a.txt": "h1", "dir/b.txt": "h2"},
		map[string]string{"a.txt": "a", "dir/b.txt": "b"},
	)

	const clients = 20
	var wg sync.WaitGroup
	results := make([][]string, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			names, err := archive.List(request(t, ts.addr, []byte(`{}`)))
			assert.NoError(t, err)
			results[i] = names
		}(i)
	}
	wg.Wait()

	for _, names := range results {
		assert.ElementsMatch(t, []string{"a.txt", "dir/b.txt"}, names)
	}
	assert.Equal(t, int64(clients), ts.srv.Stats().Served)
}

func TestServer_RateLimit(t *testing.T) {
	ts := startServer(t, manifest.Manifest{}, nil, func(c *Config) {
		c.RateLimit = "1-M"
	})

	first := request(t, ts.addr, []byte(`{}`))
	assert.True(t, strings.HasPrefix(string(first), "PK"))

	second := request(t, ts.addr, []byte(`{}`))
	assert.Equal(t, manifest.WireErrorPrefix+"rate limit exceeded\n", string(second))
	assert.Equal(t, int64(1), ts.srv.Stats().RateLimited)
}

func TestServer_ReadTimeoutFreesWorker(t *testing.T) {
	ts := startServer(t, manifest.Manifest{"a.txt": "h1"}, map[string]string{"a.txt": "a"}, func(c *Config) {
		c.Workers = 1
		c.ReadTimeout = 300 * time.Millisecond
	})

	stalled := stall(t, ts.addr)

	names, err := archive.List(request(t, ts.addr, []byte(`{}`)))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, names)

	require.NoError(t, stalled.SetReadDeadline(time.Now().Add(5*time.Second)))
	reply, err := io.ReadAll(stalled)
	require.NoError(t, err)
	assert.Empty(t, reply)

	stats := ts.srv.Stats()
	assert.Equal(t, int64(1), stats.Served)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestServer_BusyWhenQueueFull(t *testing.T) {
	ts := startServer(t, manifest.Manifest{}, nil, func(c *Config) {
		c.Workers = 1
		c.QueueSize = 1
	})

	stall(t, ts.addr)
	require.Eventually(t, func() bool {
		return ts.poolStats().Active == 1
	}, 2*time.Second, 10*time.Millisecond)

	stall(t, ts.addr)
	require.Eventually(t, func() bool {
		return ts.poolStats().Pending == 1
	}, 2*time.Second, 10*time.Millisecond)

	reply := request(t, ts.addr, []byte(`{}`))
	assert.Equal(t, manifest.WireErrorPrefix+"server busy\n", string(reply))
	assert.Equal(t, int64(1), ts.srv.Stats().Rejected)
}

func TestServer_StopsOnCancel(t *testing.T) {
	ts := startServer(t, manifest.Manifest{}, nil)
	assert.NotNil(t, ts.srv.Addr())

	ts.cancel()
	select {
	case err := <-ts.done:
		assert.NoError(t, err)
		ts.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err := net.DialTimeout("tcp", ts.addr, 500*time.Millisecond)
	assert.Error(t, err)
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "await_manifest", stateAwaitManifest.String())
	assert.Equal(t, "closed", stateClosed.String())
	assert.Equal(t, "state(42)", sessionState(42).String())
}
