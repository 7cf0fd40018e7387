package jobs

import (
	"time"

	"github.com/yarikpiskun41/llm-pdf-parser/internal/tei"
)

const (
	msgMissingBlocks = "Internal error: Missing blocks data after processing."
	msgUnknownError  = "Unknown processing error"
)

// Record is the processing state of one uploaded document.
type Record struct {
	Key          string      `json:"key"`
	Status       Status      `json:"status"`
	OriginalName string      `json:"originalName"`
	Pages        int         `json:"pages,omitempty"`
	Blocks       []tei.Block `json:"blocks,omitempty"`
	Error        string      `json:"error,omitempty"`
	JobID        string      `json:"jobId,omitempty"`
	LastUpdated  time.Time   `json:"lastUpdated"`
}

// normalize enforces the record rules: blocks are present exactly when
// processed and an error message exactly when failed. A processed record
// without blocks is turned into a failure.
func (r Record) normalize() Record {
	if r.Status == StatusProcessed && len(r.Blocks) == 0 {
		r.Status = StatusFailed
		r.Error = msgMissingBlocks
	}
	if r.Status != StatusProcessed {
		r.Blocks = nil
	}
	if r.Status == StatusFailed {
		if r.Error == "" {
			r.Error = msgUnknownError
		}
	} else {
		r.Error = ""
	}
	return r
}

// Block returns the block with the given id.
func (r Record) Block(id string) (tei.Block, bool) {
	for _, b := range r.Blocks {
		if b.ID == id {
			return b, true
		}
	}
	return tei.Block{}, false
}

// TaskPayload is the body of a queued extraction task.
type TaskPayload struct {
	Key          string `json:"key"`
	ArtifactPath string `json:"artifactPath"`
	OriginalName string `json:"originalName"`
	Pages        int    `json:"pages,omitempty"`
}

// Job is one delivery of an extraction task to a worker.
type Job struct {
	ID           string
	Key          string
	ArtifactPath string
	OriginalName string
	Pages        int
	// Attempt starts at 1.
	Attempt     int
	MaxAttempts int
}

// Last reports whether a failure of this delivery exhausts the job.
func (j Job) Last() bool {
	return j.Attempt >= j.MaxAttempts
}
