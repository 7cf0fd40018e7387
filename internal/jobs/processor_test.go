package jobs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarikpiskun41/llm-pdf-parser/internal/tei"
)

type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, path string) (string, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, path)
}

func (f *fakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fileReaper struct {
	mu    sync.Mutex
	sites []string
}

func (r *fileReaper) Reap(path, site string) error {
	r.mu.Lock()
	r.sites = append(r.sites, site)
	r.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type stubParser struct{ blocks []tei.Block }

func (p stubParser) Parse(string) []tei.Block { return p.blocks }

const introTEI = `<TEI xmlns="http://www.tei-c.org/ns/1.0"><text><body>
<div><head>Intro</head><p>Hello</p></div>
</body></text></TEI>`

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n"), 0o600))
	return path
}

func newTestProcessor(t *testing.T, store *Store, ex Extractor, parser Parser, reaper Reaper) *Processor {
	t.Helper()
	p, err := NewProcessor(ProcessorOptions{
		Store:     store,
		Extractor: ex,
		Parser:    parser,
		Reaper:    reaper,
		Logger:    log.New(io.Discard, "", 0),
		Timeout:   time.Second,
	})
	require.NoError(t, err)
	return p
}

func queuedJob(store *Store, path string) Job {
	job := Job{
		ID:           "job-1",
		Key:          filepath.Base(path),
		ArtifactPath: path,
		OriginalName: "doc.pdf",
		Attempt:      1,
		MaxAttempts:  3,
	}
	store.Put(Record{Key: job.Key, Status: StatusQueued, OriginalName: job.OriginalName, JobID: job.ID})
	return job
}

func TestProcessSuccess(t *testing.T) {
	store := newTestStore()
	path := writeArtifact(t)
	reaper := &fileReaper{}

	var seen []Status
	ex := &fakeExtractor{fn: func(ctx context.Context, p string) (string, error) {
		rec, _ := store.Get(filepath.Base(p))
		seen = append(seen, rec.Status)
		return introTEI, nil
	}}
	proc := newTestProcessor(t, store, ex, tei.NewParser(log.New(io.Discard, "", 0)), reaper)

	job := queuedJob(store, path)
	require.NoError(t, proc.Process(context.Background(), job))

	assert.Equal(t, []Status{StatusProcessing}, seen)
	rec, ok := store.Get(job.Key)
	require.True(t, ok)
	assert.Equal(t, StatusProcessed, rec.Status)
	require.Len(t, rec.Blocks, 1)
	assert.Equal(t, tei.BlockSection, rec.Blocks[0].Type)
	assert.Equal(t, "Intro", rec.Blocks[0].Label)
	assert.Contains(t, rec.Blocks[0].Content, "Hello")
	assert.Empty(t, rec.Error)

	assert.NoFileExists(t, path)
	assert.Equal(t, []string{ReapSuccess}, reaper.sites)
}

func TestProcessRetriesThenTerminal(t *testing.T) {
	store := newTestStore()
	path := writeArtifact(t)
	reaper := &fileReaper{}
	refused := errors.New("GROBID connection refused. Is GROBID running at http://localhost:8070/api/processFulltextDocument?")
	ex := &fakeExtractor{fn: func(context.Context, string) (string, error) { return "", refused }}
	proc := newTestProcessor(t, store, ex, stubParser{}, reaper)

	job := queuedJob(store, path)
	for attempt := 1; attempt <= 3; attempt++ {
		job.Attempt = attempt
		err := proc.Process(context.Background(), job)
		require.ErrorIs(t, err, refused)

		rec, ok := store.Get(job.Key)
		require.True(t, ok)
		assert.Equal(t, StatusFailed, rec.Status)

		if !job.Last() {
			assert.FileExists(t, path, "artifact kept between attempts")
			continue
		}
		proc.Terminal(job, err)
	}

	assert.Equal(t, 3, ex.Calls())
	rec, _ := store.Get(job.Key)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "connection refused")
	assert.NoFileExists(t, path)

	// Reaping an artifact that is already gone is harmless.
	assert.NotPanics(t, func() { proc.Terminal(job, refused) })
	assert.Equal(t, []string{ReapTerminal, ReapTerminal}, reaper.sites)
}

func TestProcessZeroBlocksFails(t *testing.T) {
	store := newTestStore()
	path := writeArtifact(t)
	ex := &fakeExtractor{fn: func(context.Context, string) (string, error) { return "<TEI/>", nil }}
	proc := newTestProcessor(t, store, ex, stubParser{}, &fileReaper{})

	job := queuedJob(store, path)
	err := proc.Process(context.Background(), job)
	require.ErrorIs(t, err, ErrNoBlocks)

	rec, _ := store.Get(job.Key)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, ErrNoBlocks.Error(), rec.Error)
	assert.FileExists(t, path)
}

func TestProcessEnforcesCallTimeout(t *testing.T) {
	store := newTestStore()
	path := writeArtifact(t)
	ex := &fakeExtractor{fn: func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	proc := newTestProcessor(t, store, ex, stubParser{}, &fileReaper{})
	proc.timeout = 20 * time.Millisecond

	job := queuedJob(store, path)
	err := proc.Process(context.Background(), job)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	rec, _ := store.Get(job.Key)
	assert.Equal(t, StatusFailed, rec.Status)
}

func TestProcessDuplicateDeliveryIsSkipped(t *testing.T) {
	store := newTestStore()
	path := writeArtifact(t)
	ex := &fakeExtractor{fn: func(context.Context, string) (string, error) { return introTEI, nil }}
	proc := newTestProcessor(t, store, ex, stubParser{blocks: sampleBlocks()}, &fileReaper{})

	job := queuedJob(store, path)
	require.NoError(t, proc.Process(context.Background(), job))
	require.NoError(t, proc.Process(context.Background(), job))

	assert.Equal(t, 1, ex.Calls())
	rec, _ := store.Get(job.Key)
	assert.Equal(t, StatusProcessed, rec.Status)
}

func TestProcessRecoversAfterFailedAttempt(t *testing.T) {
	store := newTestStore()
	path := writeArtifact(t)
	calls := 0
	ex := &fakeExtractor{fn: func(context.Context, string) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("GROBID request failed with status 503")
		}
		return introTEI, nil
	}}
	proc := newTestProcessor(t, store, ex, stubParser{blocks: sampleBlocks()}, &fileReaper{})

	job := queuedJob(store, path)
	require.Error(t, proc.Process(context.Background(), job))
	job.Attempt = 2
	require.NoError(t, proc.Process(context.Background(), job))

	rec, _ := store.Get(job.Key)
	assert.Equal(t, StatusProcessed, rec.Status)
	assert.Empty(t, rec.Error)
	assert.NoFileExists(t, path)
}

func TestNewProcessorRequiresCollaborators(t *testing.T) {
	_, err := NewProcessor(ProcessorOptions{})
	assert.Error(t, err)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(time.Second, 0))
	assert.Equal(t, 2*time.Second, backoff(time.Second, 1))
	assert.Equal(t, 4*time.Second, backoff(time.Second, 2))
	assert.Equal(t, time.Second, backoff(0, 0))
}
