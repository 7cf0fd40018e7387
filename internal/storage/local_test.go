package storage

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T, maxSize int64) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir(), maxSize, nil, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	return l
}

func pdfBody(extra int) []byte {
	return append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), extra)...)
}

func TestSaveUpload(t *testing.T) {
	l := newTestLocal(t, 1024)

	up, err := l.SaveUpload(context.Background(), "Paper.PDF", bytes.NewReader(pdfBody(100)))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(up.Key, "pdf-"))
	assert.True(t, strings.HasSuffix(up.Key, ".pdf"))
	assert.Equal(t, filepath.Join(l.Dir(), up.Key), up.Path)
	assert.Equal(t, "Paper.PDF", up.OriginalName)
	assert.Equal(t, int64(109), up.Size)
	// Not a well-formed document, so the page count is unknown.
	assert.Equal(t, 0, up.Pages)

	data, err := os.ReadFile(up.Path)
	require.NoError(t, err)
	assert.Equal(t, pdfBody(100), data)

	entries, err := os.ReadDir(l.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file cleaned up")
}

func TestSaveUploadRejects(t *testing.T) {
	cases := []struct {
		name string
		file string
		body []byte
		want error
	}{
		{"extension", "notes.txt", pdfBody(10), ErrNotPDF},
		{"content", "fake.pdf", []byte("just some text"), ErrNotPDF},
		{"empty", "empty.pdf", nil, ErrEmpty},
		{"size", "big.pdf", pdfBody(200), ErrTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := newTestLocal(t, 64)
			_, err := l.SaveUpload(context.Background(), tc.file, bytes.NewReader(tc.body))
			require.ErrorIs(t, err, tc.want)

			entries, err := os.ReadDir(l.Dir())
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestReapIsIdempotent(t *testing.T) {
	l := newTestLocal(t, 0)
	up, err := l.SaveUpload(context.Background(), "a.pdf", bytes.NewReader(pdfBody(1)))
	require.NoError(t, err)

	require.NoError(t, l.Reap(up.Path, "terminal"))
	assert.NoFileExists(t, up.Path)
	require.NoError(t, l.Reap(up.Path, "terminal"))
	require.NoError(t, l.ReapKey(up.Key, "expiry"))
}

func TestReapRefusesPathsOutsideDir(t *testing.T) {
	l := newTestLocal(t, 0)
	outside := filepath.Join(t.TempDir(), "keep.pdf")
	require.NoError(t, os.WriteFile(outside, pdfBody(1), 0o600))

	assert.ErrorIs(t, l.Reap(outside, "success"), ErrOutsideRoot)
	assert.ErrorIs(t, l.Reap(filepath.Join(l.Dir(), "..", "keep.pdf"), "success"), ErrOutsideRoot)
	assert.ErrorIs(t, l.Reap(l.Dir(), "success"), ErrOutsideRoot)
	assert.FileExists(t, outside)
}

func TestPathStripsDirectories(t *testing.T) {
	l := newTestLocal(t, 0)
	assert.Equal(t, filepath.Join(l.Dir(), "pdf-a.pdf"), l.Path("../../pdf-a.pdf"))
}
