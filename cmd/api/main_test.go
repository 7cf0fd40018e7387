package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarikpiskun41/llm-pdf-parser/internal/cache"
	"github.com/yarikpiskun41/llm-pdf-parser/internal/config"
	"github.com/yarikpiskun41/llm-pdf-parser/internal/jobs"
)

func newTestRuntime(t *testing.T, opts ...cache.Option[jobs.Record]) (*runtime, *config.Config, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.GinMode = gin.TestMode
	cfg.UploadDir = filepath.Join(t.TempDir(), "uploads")
	cfg.RequestLogPath = filepath.Join(t.TempDir(), "requests.log")

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rt, err := buildRuntime(context.Background(), cfg, rdb, log.New(io.Discard, "", 0), opts...)
	require.NoError(t, err)
	t.Cleanup(rt.close)
	return rt, cfg, mr
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func serve(router http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rt, cfg, mr := newTestRuntime(t)
	router, closeLog, err := newRouter(cfg, rt)
	require.NoError(t, err)
	defer closeLog()

	rec := serve(router, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	mr.Close()
	rec = serve(router, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rt, cfg, _ := newTestRuntime(t)
	router, closeLog, err := newRouter(cfg, rt)
	require.NoError(t, err)
	defer closeLog()

	rec := serve(router, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "document_cache_records 0")
}

func TestRequestLogKeepsErrorsOnly(t *testing.T) {
	rt, cfg, _ := newTestRuntime(t)
	router, closeLog, err := newRouter(cfg, rt)
	require.NoError(t, err)

	serve(router, http.MethodGet, "/health")
	serve(router, http.MethodGet, "/api/document/status/pdf-unknown.pdf")
	closeLog()

	data, err := os.ReadFile(cfg.RequestLogPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "404")
	assert.Contains(t, lines[0], "/api/document/status/pdf-unknown.pdf")
}

func TestSplitOrigins(t *testing.T) {
	assert.Equal(t, []string{"http://a", "http://b"}, splitOrigins(" http://a, ,http://b "))
	assert.Nil(t, splitOrigins(""))
}

func TestPrintQueueInfo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printQueueInfo(&buf, &asynq.QueueInfo{Queue: "grobid-processing", Pending: 3, Archived: 1}))
	out := buf.String()
	assert.Contains(t, out, "grobid-processing")
	assert.Regexp(t, `pending\s+3`, out)
	assert.Regexp(t, `archived\s+1`, out)
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, path := range [][]string{{"serve"}, {"queue", "stats"}, {"queue", "prune"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestExpiredRecordReapsUpload(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	rt, cfg, _ := newTestRuntime(t, cache.WithClock[jobs.Record](clock.Now))

	path := rt.uploads.Path("pdf-expiring.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n"), 0o600))
	key, _, err := rt.manager.Submit(context.Background(), path, "paper.pdf", 1)
	require.NoError(t, err)
	require.Equal(t, "pdf-expiring.pdf", key)

	clock.Advance(cfg.CacheTTL - time.Minute)
	assert.Equal(t, 0, rt.records.Sweep(clock.Now()))
	assert.FileExists(t, path)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, rt.records.Sweep(clock.Now()))
	_, err = rt.manager.QueryStatus(key)
	assert.ErrorIs(t, err, jobs.ErrNotFound)
	assert.NoFileExists(t, path)
	assert.Equal(t, filepath.Join(cfg.UploadDir, key), path)
}
