package jobs

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/yarikpiskun41/llm-pdf-parser/internal/metrics"
	"github.com/yarikpiskun41/llm-pdf-parser/internal/tei"
)

const defaultExtractTimeout = 120 * time.Second

// ErrNoBlocks is the failure recorded when extraction succeeded but nothing could be parsed.
var ErrNoBlocks = errors.New("No content blocks could be extracted from the document.")

// Extractor turns an uploaded artifact into a TEI document.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Parser turns a TEI document into blocks. It returns an empty slice for input it cannot read.
type Parser interface {
	Parse(raw string) []tei.Block
}

// Reaper removes uploaded artifacts. Removing a file that is already gone is not an error.
type Reaper interface {
	Reap(path, site string) error
}

// Reap sites.
const (
	ReapSuccess  = "success"
	ReapTerminal = "terminal"
	ReapExpiry   = "expiry"
	ReapEnqueue  = "enqueue"
)

// Processor runs one extraction job against the record store.
type Processor struct {
	store     *Store
	extractor Extractor
	parser    Parser
	reaper    Reaper
	metrics   *metrics.Collector
	logger    *log.Logger
	timeout   time.Duration
}

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	Store     *Store
	Extractor Extractor
	Parser    Parser
	Reaper    Reaper
	Metrics   *metrics.Collector
	Logger    *log.Logger
	// Timeout bounds a single extraction call.
	Timeout time.Duration
}

// NewProcessor validates opts and returns a Processor.
func NewProcessor(opts ProcessorOptions) (*Processor, error) {
	if opts.Store == nil {
		return nil, errors.New("store is nil")
	}
	if opts.Extractor == nil {
		return nil, errors.New("extractor is nil")
	}
	if opts.Parser == nil {
		return nil, errors.New("parser is nil")
	}
	if opts.Reaper == nil {
		return nil, errors.New("reaper is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultExtractTimeout
	}
	return &Processor{
		store:     opts.Store,
		extractor: opts.Extractor,
		parser:    opts.Parser,
		reaper:    opts.Reaper,
		metrics:   opts.Metrics,
		logger:    logger,
		timeout:   timeout,
	}, nil
}

// Process executes one delivery of job. A returned error leaves the artifact in
// place and asks the queue to retry.
func (p *Processor) Process(ctx context.Context, job Job) error {
	if rec, ok := p.store.Get(job.Key); ok && rec.Status == StatusProcessed && rec.JobID == job.ID {
		p.logger.Printf("duplicate delivery skipped key=%s job=%s", job.Key, job.ID)
		return nil
	}

	if _, err := p.store.MarkProcessing(job); err != nil {
		// The record moved on (e.g. a newer job already settled it); this delivery is stale.
		p.logger.Printf("stale delivery skipped key=%s job=%s: %v", job.Key, job.ID, err)
		return nil
	}
	p.logger.Printf("extraction started key=%s job=%s attempt=%d/%d", job.Key, job.ID, job.Attempt, job.MaxAttempts)

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	raw, err := p.extractor.Extract(callCtx, job.ArtifactPath)
	p.metrics.ObserveExtraction(time.Since(start))
	if err != nil {
		return p.fail(job, err)
	}

	blocks := p.parser.Parse(raw)
	if len(blocks) == 0 {
		return p.fail(job, ErrNoBlocks)
	}

	if _, err := p.store.MarkProcessed(job.Key, job.ID, blocks); err != nil {
		p.logger.Printf("failed to store blocks key=%s job=%s: %v", job.Key, job.ID, err)
		return err
	}
	p.metrics.RecordCompleted()
	p.logger.Printf("extraction finished key=%s job=%s blocks=%d elapsed=%s", job.Key, job.ID, len(blocks), time.Since(start).Round(time.Millisecond))

	p.reap(job, ReapSuccess)
	return nil
}

// Terminal is called once a job has failed its last attempt. The record already
// carries the failure; only the artifact is left to remove.
func (p *Processor) Terminal(job Job, cause error) {
	p.metrics.RecordDead()
	p.logger.Printf("job exhausted attempts key=%s job=%s attempts=%d: %v", job.Key, job.ID, job.Attempt, cause)
	p.reap(job, ReapTerminal)
}

func (p *Processor) fail(job Job, err error) error {
	p.metrics.RecordFailed()
	if _, serr := p.store.MarkFailed(job.Key, job.ID, err.Error()); serr != nil {
		p.logger.Printf("failed to store failure key=%s job=%s: %v", job.Key, job.ID, serr)
	}
	p.logger.Printf("extraction failed key=%s job=%s attempt=%d/%d: %v", job.Key, job.ID, job.Attempt, job.MaxAttempts, err)
	return err
}

func (p *Processor) reap(job Job, site string) {
	if job.ArtifactPath == "" {
		return
	}
	if err := p.reaper.Reap(job.ArtifactPath, site); err != nil {
		p.logger.Printf("artifact cleanup failed key=%s site=%s: %v", job.Key, site, err)
	}
}
