// Package document accepts PDF uploads, reports their processing status and
// answers prompts about selected blocks of processed documents.
package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/yarikpiskun41/llm-pdf-parser/internal/jobs"
	"github.com/yarikpiskun41/llm-pdf-parser/internal/llm"
	"github.com/yarikpiskun41/llm-pdf-parser/internal/metrics"
	"github.com/yarikpiskun41/llm-pdf-parser/internal/storage"
)

// Uploads stores incoming PDFs.
type Uploads interface {
	SaveUpload(ctx context.Context, originalName string, r io.Reader) (*storage.Upload, error)
	Reap(path, site string) error
}

// Jobs submits extraction jobs and reads their records.
type Jobs interface {
	Submit(ctx context.Context, artifactPath, originalName string, pages int) (string, string, error)
	QueryStatus(key string) (jobs.Record, error)
	RepairEmpty(key string) (jobs.Record, bool)
}

// Completer answers a prompt with document sections as context.
type Completer interface {
	Complete(ctx context.Context, prompt string, sections []llm.Section) (string, error)
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Uploads       Uploads
	Jobs          Jobs
	Completer     Completer
	ContextBudget int
	Metrics       *metrics.Collector
	Logger        *log.Logger
}

// Service implements the document operations behind the HTTP handlers.
type Service struct {
	uploads   Uploads
	jobs      Jobs
	completer Completer
	budget    int
	metrics   *metrics.Collector
	logger    *log.Logger
}

// Submission is the outcome of an accepted upload.
type Submission struct {
	FileID       string
	JobID        string
	OriginalName string
	Pages        int
}

// AskRequest is a prompt about selected blocks of one document.
type AskRequest struct {
	FileID           string   `json:"fileId"`
	Prompt           string   `json:"prompt"`
	SelectedBlockIDs []string `json:"selectedBlockIds"`
}

// NewService validates opts and creates a Service.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Uploads == nil {
		return nil, errors.New("uploads is nil")
	}
	if opts.Jobs == nil {
		return nil, errors.New("jobs is nil")
	}
	if opts.Completer == nil {
		return nil, errors.New("completer is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	budget := opts.ContextBudget
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	return &Service{
		uploads:   opts.Uploads,
		jobs:      opts.Jobs,
		completer: opts.Completer,
		budget:    budget,
		metrics:   opts.Metrics,
		logger:    logger,
	}, nil
}

// Upload stores the PDF and queues it for extraction. When queueing fails the
// stored artifact is removed again.
func (s *Service) Upload(ctx context.Context, originalName string, r io.Reader) (*Submission, error) {
	upload, err := s.uploads.SaveUpload(ctx, originalName, r)
	if err != nil {
		return nil, uploadError(err)
	}

	key, jobID, err := s.jobs.Submit(ctx, upload.Path, upload.OriginalName, upload.Pages)
	if err != nil {
		s.logger.Printf("queueing failed key=%s: %v", upload.Key, err)
		if rerr := s.uploads.Reap(upload.Path, jobs.ReapEnqueue); rerr != nil {
			s.logger.Printf("artifact cleanup failed key=%s: %v", upload.Key, rerr)
		}
		return nil, &Error{
			Status:  http.StatusInternalServerError,
			Code:    "QUEUE_ERROR",
			Message: "Failed to queue file for processing.",
			Err:     err,
		}
	}

	s.logger.Printf("file received key=%s job=%s name=%q pages=%d", key, jobID, upload.OriginalName, upload.Pages)
	return &Submission{
		FileID:       key,
		JobID:        jobID,
		OriginalName: upload.OriginalName,
		Pages:        upload.Pages,
	}, nil
}

// Status returns the record for fileID. A processed record without blocks is
// repaired to failed first.
func (s *Service) Status(fileID string) (jobs.Record, error) {
	record, err := s.jobs.QueryStatus(fileID)
	if errors.Is(err, jobs.ErrNotFound) {
		return jobs.Record{}, newError(http.StatusNotFound, "NOT_FOUND", "File status not found. Invalid fileId or expired.")
	}
	if err != nil {
		return jobs.Record{}, err
	}
	if record.Status == jobs.StatusProcessed && len(record.Blocks) == 0 {
		if repaired, ok := s.jobs.RepairEmpty(fileID); ok {
			record = repaired
		}
	}
	return record, nil
}

// Ask answers req.Prompt with the selected blocks of a processed document as context.
func (s *Service) Ask(ctx context.Context, req AskRequest) (string, error) {
	if req.FileID == "" || req.Prompt == "" || req.SelectedBlockIDs == nil {
		return "", errMissingAskFields
	}

	record, err := s.jobs.QueryStatus(req.FileID)
	if errors.Is(err, jobs.ErrNotFound) {
		return "", newError(http.StatusNotFound, "NOT_FOUND", "File data not found. Invalid fileId or expired.")
	}
	if err != nil {
		return "", err
	}

	if record.Status != jobs.StatusProcessed {
		return "", &Error{
			Status:  http.StatusBadRequest,
			Code:    "NOT_PROCESSED",
			Message: fmt.Sprintf("File processing not complete. Current status: %s.", record.Status),
			Fields: map[string]any{
				"status": record.Status,
				"error":  record.Error,
			},
		}
	}
	if len(record.Blocks) == 0 {
		s.jobs.RepairEmpty(req.FileID)
		return "", newError(http.StatusInternalServerError, "INCONSISTENT_DATA", "Internal server error: Processed data is inconsistent or empty.")
	}

	askCtx := BuildContext(record.Blocks, req.SelectedBlockIDs, s.budget)
	for _, w := range askCtx.Warnings {
		s.logger.Printf("ask key=%s: %s", req.FileID, w)
	}
	if len(askCtx.Sections) == 0 && len(req.SelectedBlockIDs) > 0 {
		s.logger.Printf("ask key=%s: none of the selected blocks [%s] were included", req.FileID, strings.Join(req.SelectedBlockIDs, ", "))
		return "", newError(http.StatusBadRequest, "NO_CONTEXT", "None of the selected blocks could be found or included in the context.")
	}

	s.logger.Printf("ask key=%s sections=%d chars=%d", req.FileID, len(askCtx.Sections), askCtx.Length)
	start := time.Now()
	answer, err := s.completer.Complete(ctx, req.Prompt, askCtx.Sections)
	s.metrics.ObserveAsk(time.Since(start))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", &Error{
			Status:  http.StatusBadGateway,
			Code:    "LLM_ERROR",
			Message: err.Error(),
			Err:     err,
		}
	}
	return answer, nil
}

var errMissingAskFields = newError(http.StatusBadRequest, "INVALID_INPUT", "Missing required fields: fileId, prompt, selectedBlockIds (array).")

func uploadError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotPDF):
		return &Error{Status: http.StatusBadRequest, Code: "INVALID_FILE", Message: "Only PDF files are allowed!", Err: err}
	case errors.Is(err, storage.ErrEmpty):
		return &Error{Status: http.StatusBadRequest, Code: "INVALID_FILE", Message: "Uploaded file is empty.", Err: err}
	case errors.Is(err, storage.ErrTooLarge):
		return &Error{Status: http.StatusRequestEntityTooLarge, Code: "LIMIT_EXCEEDED", Message: "File exceeds the upload size limit.", Err: err}
	}
	return err
}
