// Package storage keeps uploaded PDFs on the local filesystem until their
// extraction settles and removes them afterwards.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yarikpiskun41/llm-pdf-parser/internal/metrics"
)

const sniffLength = 3072

func init() {
	// Page counting must not create a pdfcpu config directory in the user's home.
	pdfapi.DisableConfigDir()
}

var (
	ErrNotPDF      = errors.New("only PDF files are allowed")
	ErrTooLarge    = errors.New("file exceeds the upload size limit")
	ErrEmpty       = errors.New("uploaded file is empty")
	ErrOutsideRoot = errors.New("path is outside the upload directory")
)

// Upload describes a stored artifact. Key is the artifact's file name.
type Upload struct {
	Key          string
	Path         string
	OriginalName string
	Size         int64
	Pages        int
}

// Local stores artifacts in a single directory.
type Local struct {
	dir     string
	maxSize int64
	metrics *metrics.Collector
	logger  *log.Logger
	newName func() string
}

// NewLocal creates dir if needed. maxSize <= 0 disables the size check.
func NewLocal(dir string, maxSize int64, collector *metrics.Collector, logger *log.Logger) (*Local, error) {
	if dir == "" {
		return nil, errors.New("upload dir is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Local{
		dir:     abs,
		maxSize: maxSize,
		metrics: collector,
		logger:  logger,
		newName: func() string { return "pdf-" + uuid.NewString() + ".pdf" },
	}, nil
}

// Dir returns the absolute upload directory.
func (l *Local) Dir() string {
	return l.dir
}

// Path returns the artifact path for key.
func (l *Local) Path(key string) string {
	return filepath.Join(l.dir, filepath.Base(key))
}

// SaveUpload validates r as a PDF named originalName and writes it under a generated name.
func (l *Local) SaveUpload(ctx context.Context, originalName string, r io.Reader) (*Upload, error) {
	if !strings.EqualFold(filepath.Ext(originalName), ".pdf") {
		return nil, ErrNotPDF
	}

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return nil, ErrEmpty
	}
	if !mimetype.Detect(head).Is("application/pdf") {
		return nil, ErrNotPDF
	}

	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	src := io.MultiReader(bytes.NewReader(head), r)
	if l.maxSize > 0 {
		src = io.LimitReader(src, l.maxSize+1)
	}
	size, err := io.Copy(tmp, readerWithContext(ctx, src))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}
	if l.maxSize > 0 && size > l.maxSize {
		return nil, ErrTooLarge
	}

	key := l.newName()
	path := filepath.Join(l.dir, key)
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	committed = true

	pages, err := l.CountPages(path)
	if err != nil {
		// Extraction decides whether the file is usable; the count is informational.
		l.logger.Printf("page count unavailable key=%s: %v", key, err)
	}

	return &Upload{
		Key:          key,
		Path:         path,
		OriginalName: filepath.Base(originalName),
		Size:         size,
		Pages:        pages,
	}, nil
}

// CountPages returns the number of pages of the PDF at path.
func (l *Local) CountPages(path string) (pages int, err error) {
	// pdfcpu can panic on badly broken cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("failed to read pdf: %v", r)
		}
	}()
	return pdfapi.PageCountFile(path)
}

// Reap removes the artifact at path. A file that is already gone counts as
// removed. site names the caller for logs and metrics.
func (l *Local) Reap(path, site string) error {
	clean, err := l.within(path)
	if err != nil {
		l.logger.Printf("artifact reap refused site=%s path=%s: %v", site, path, err)
		return err
	}
	if err := os.Remove(clean); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to remove artifact: %w", err)
	}
	l.metrics.RecordReap(site)
	l.logger.Printf("artifact removed site=%s key=%s", site, filepath.Base(clean))
	return nil
}

// ReapKey removes the artifact stored under key.
func (l *Local) ReapKey(key, site string) error {
	return l.Reap(l.Path(key), site)
}

func (l *Local) within(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(l.dir, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return abs, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	if ctx == nil {
		return r
	}
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
