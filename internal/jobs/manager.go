package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/yarikpiskun41/llm-pdf-parser/internal/config"
	"github.com/yarikpiskun41/llm-pdf-parser/internal/metrics"
)

const (
	// TaskTypeExtract is the asynq task type for document extraction.
	TaskTypeExtract = "grobid:process"

	taskRetention = 24 * time.Hour
	// extra time the broker grants a task beyond the extraction timeout
	taskTimeoutSlack = 30 * time.Second
	shutdownSlack    = 10 * time.Second
)

// Manager submits extraction jobs and runs the worker pool.
type Manager struct {
	queue          string
	maxAttempts    int
	retryBaseDelay time.Duration
	taskTimeout    time.Duration

	client    *asynq.Client
	server    *asynq.Server
	inspector *asynq.Inspector
	mux       *asynq.ServeMux

	store     *Store
	processor *Processor
	metrics   *metrics.Collector
	logger    *log.Logger
	newID     func() string
}

// NewManager wires the asynq client, server and inspector onto rdb.
func NewManager(cfg *config.Config, rdb redis.UniversalClient, store *Store, processor *Processor, collector *metrics.Collector, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if processor == nil {
		return nil, errors.New("processor is nil")
	}
	if logger == nil {
		logger = log.Default()
	}

	maxAttempts := cfg.JobMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	m := &Manager{
		queue:          cfg.QueueName,
		maxAttempts:    maxAttempts,
		retryBaseDelay: cfg.JobRetryBaseDelay,
		taskTimeout:    cfg.ExtractTimeout + taskTimeoutSlack,
		client:         asynq.NewClientFromRedisClient(rdb),
		inspector:      asynq.NewInspectorFromRedisClient(rdb),
		mux:            asynq.NewServeMux(),
		store:          store,
		processor:      processor,
		metrics:        collector,
		logger:         logger,
		newID:          uuid.NewString,
	}
	m.server = asynq.NewServerFromRedisClient(rdb, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues: map[string]int{
			cfg.QueueName: 1,
		},
		RetryDelayFunc:  m.retryDelay,
		ErrorHandler:    asynq.ErrorHandlerFunc(m.handleError),
		Logger:          newQueueLogger(logger),
		LogLevel:        asynq.InfoLevel,
		ShutdownTimeout: cfg.ExtractTimeout + shutdownSlack,
	})
	m.mux.HandleFunc(TaskTypeExtract, m.handleTask)
	return m, nil
}

// StartWorkers starts the asynq server in the background.
func (m *Manager) StartWorkers() error {
	if err := m.server.Start(m.mux); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	m.logger.Printf("workers started queue=%s", m.queue)
	return nil
}

// Shutdown stops dequeuing and waits for in-flight jobs to finish or time out.
// The redis client is shared and stays open.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Stop()
	done := make(chan struct{})
	go func() {
		m.server.Shutdown()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker drain interrupted: %w", ctx.Err())
	}
}

// Submit records a queued document for the artifact at artifactPath and enqueues
// its extraction. The key is the artifact's file name.
func (m *Manager) Submit(ctx context.Context, artifactPath, originalName string, pages int) (string, string, error) {
	if artifactPath == "" {
		return "", "", errors.New("artifactPath is required")
	}
	key := filepath.Base(artifactPath)
	jobID := m.newID()

	payload := TaskPayload{
		Key:          key,
		ArtifactPath: artifactPath,
		OriginalName: originalName,
		Pages:        pages,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	// Written before enqueue so a fast worker never sees an older record.
	m.store.Put(Record{
		Key:          key,
		Status:       StatusQueued,
		OriginalName: originalName,
		Pages:        pages,
		JobID:        jobID,
	})

	task := asynq.NewTask(TaskTypeExtract, body)
	if _, err := m.client.EnqueueContext(ctx, task,
		asynq.Queue(m.queue),
		asynq.TaskID(jobID),
		asynq.MaxRetry(m.maxAttempts-1),
		asynq.Timeout(m.taskTimeout),
		asynq.Retention(taskRetention),
	); err != nil {
		m.store.Delete(key)
		return "", "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	m.metrics.RecordEnqueue()
	m.logger.Printf("job enqueued key=%s job=%s", key, jobID)
	return key, jobID, nil
}

// QueryStatus returns the current record for key.
func (m *Manager) QueryStatus(key string) (Record, error) {
	rec, ok := m.store.Get(key)
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// RepairEmpty forces a processed record without blocks to failed.
func (m *Manager) RepairEmpty(key string) (Record, bool) {
	rec, repaired := m.store.RepairEmpty(key)
	if repaired {
		m.logger.Printf("repaired processed record without blocks key=%s", key)
	}
	return rec, repaired
}

// QueueStats returns the broker's view of the extraction queue.
func (m *Manager) QueueStats() (*asynq.QueueInfo, error) {
	return m.inspector.GetQueueInfo(m.queue)
}

// Inspector exposes the queue inspector for retention pruning.
func (m *Manager) Inspector() *asynq.Inspector {
	return m.inspector
}

// Queue returns the queue name.
func (m *Manager) Queue() string {
	return m.queue
}

func (m *Manager) handleTask(ctx context.Context, task *asynq.Task) error {
	job, err := m.jobFromTask(ctx, task)
	if err != nil {
		// A payload that cannot be decoded will never succeed.
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return m.processor.Process(ctx, job)
}

func (m *Manager) handleError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if retried < maxRetry && !errors.Is(err, asynq.SkipRetry) {
		return
	}
	job, jerr := m.jobFromTask(ctx, task)
	if jerr != nil {
		m.logger.Printf("dropping undecodable task type=%s: %v", task.Type(), jerr)
		return
	}
	m.processor.Terminal(job, err)
}

func (m *Manager) jobFromTask(ctx context.Context, task *asynq.Task) (Job, error) {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return Job{}, fmt.Errorf("invalid task payload: %w", err)
	}
	if payload.Key == "" {
		return Job{}, errors.New("missing key in payload")
	}

	id, _ := asynq.GetTaskID(ctx)
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		maxRetry = m.maxAttempts - 1
	}
	return Job{
		ID:           id,
		Key:          payload.Key,
		ArtifactPath: payload.ArtifactPath,
		OriginalName: payload.OriginalName,
		Pages:        payload.Pages,
		Attempt:      retried + 1,
		MaxAttempts:  maxRetry + 1,
	}, nil
}

func (m *Manager) retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	return backoff(m.retryBaseDelay, n)
}

// backoff returns base doubled once per previous retry.
func backoff(base time.Duration, retried int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if retried < 0 {
		retried = 0
	}
	if retried > 16 {
		retried = 16
	}
	return base << uint(retried)
}
