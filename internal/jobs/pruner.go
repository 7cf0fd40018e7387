package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"

	"github.com/yarikpiskun41/llm-pdf-parser/internal/metrics"
)

const prunePageSize = 500

// TaskInspector is the part of asynq.Inspector the pruner needs.
type TaskInspector interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListCompletedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

// PruneResult reports how many tasks one pass removed.
type PruneResult struct {
	Completed int
	Archived  int
}

// Pruner keeps the broker's finished-task sets under their retention caps,
// deleting the oldest tasks first.
type Pruner struct {
	inspector     TaskInspector
	queue         string
	keepCompleted int
	keepArchived  int
	metrics       *metrics.Collector
	logger        *log.Logger
	cron          *cron.Cron
}

// NewPruner creates a Pruner for queue.
func NewPruner(inspector TaskInspector, queue string, keepCompleted, keepArchived int, collector *metrics.Collector, logger *log.Logger) *Pruner {
	if logger == nil {
		logger = log.Default()
	}
	return &Pruner{
		inspector:     inspector,
		queue:         queue,
		keepCompleted: keepCompleted,
		keepArchived:  keepArchived,
		metrics:       collector,
		logger:        logger,
	}
}

// Start schedules Prune with a cron spec such as "@every 1m".
func (p *Pruner) Start(spec string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() {
		if _, err := p.Prune(context.Background()); err != nil {
			p.logger.Printf("queue prune failed queue=%s: %v", p.queue, err)
		}
	}); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", spec, err)
	}
	p.cron = c
	c.Start()
	return nil
}

// Stop cancels the schedule and waits for a running pass to return.
func (p *Pruner) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
}

// Prune runs one retention pass.
func (p *Pruner) Prune(ctx context.Context) (PruneResult, error) {
	var res PruneResult
	queues, err := p.inspector.Queues()
	if err != nil {
		return res, err
	}
	// Nothing has been enqueued yet.
	if !slices.Contains(queues, p.queue) {
		return res, nil
	}
	info, err := p.inspector.GetQueueInfo(p.queue)
	if err != nil {
		return res, err
	}

	res.Completed, err = p.trim(ctx, info.Completed-p.keepCompleted, p.inspector.ListCompletedTasks)
	p.metrics.RecordPruned("completed", res.Completed)
	if err != nil {
		return res, fmt.Errorf("prune completed: %w", err)
	}
	res.Archived, err = p.trim(ctx, info.Archived-p.keepArchived, p.inspector.ListArchivedTasks)
	p.metrics.RecordPruned("archived", res.Archived)
	if err != nil {
		return res, fmt.Errorf("prune archived: %w", err)
	}

	if res.Completed > 0 || res.Archived > 0 {
		p.logger.Printf("queue pruned queue=%s completed=%d archived=%d", p.queue, res.Completed, res.Archived)
	}
	return res, nil
}

type listFunc func(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)

// trim deletes excess tasks from the front of list, which the broker returns oldest first.
func (p *Pruner) trim(ctx context.Context, excess int, list listFunc) (int, error) {
	deleted := 0
	for excess > 0 {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		size := min(excess, prunePageSize)
		// Deleted tasks drop out of the set, so the next batch is always page 1.
		tasks, err := list(p.queue, asynq.PageSize(size), asynq.Page(1))
		if err != nil {
			return deleted, err
		}
		if len(tasks) == 0 {
			return deleted, nil
		}
		for _, t := range tasks {
			if excess == 0 {
				break
			}
			if err := p.inspector.DeleteTask(p.queue, t.ID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
				return deleted, err
			}
			deleted++
			excess--
		}
	}
	return deleted, nil
}
