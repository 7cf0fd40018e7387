package jobs

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInspector keeps finished task ids oldest first, like the broker's sorted sets.
type fakeInspector struct {
	queues    []string
	completed []string
	archived  []string
	deleted   []string
}

func newFakeInspector(completed, archived int) *fakeInspector {
	f := &fakeInspector{queues: []string{"grobid-processing"}}
	for i := 0; i < completed; i++ {
		f.completed = append(f.completed, fmt.Sprintf("c%d", i))
	}
	for i := 0; i < archived; i++ {
		f.archived = append(f.archived, fmt.Sprintf("a%d", i))
	}
	return f
}

func (f *fakeInspector) Queues() ([]string, error) { return f.queues, nil }

func (f *fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: queue, Completed: len(f.completed), Archived: len(f.archived)}, nil
}

func (f *fakeInspector) ListCompletedTasks(_ string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return page(f.completed, opts), nil
}

func (f *fakeInspector) ListArchivedTasks(_ string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return page(f.archived, opts), nil
}

func (f *fakeInspector) DeleteTask(_ string, id string) error {
	f.deleted = append(f.deleted, id)
	f.completed = remove(f.completed, id)
	f.archived = remove(f.archived, id)
	return nil
}

// page ignores the requested size and returns at most two ids so trimming
// has to loop over several batches.
func page(ids []string, _ []asynq.ListOption) []*asynq.TaskInfo {
	var out []*asynq.TaskInfo
	for i := 0; i < len(ids) && i < 2; i++ {
		out = append(out, &asynq.TaskInfo{ID: ids[i]})
	}
	return out
}

func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

func TestPruneTrimsOldestFirst(t *testing.T) {
	insp := newFakeInspector(1003, 5001)
	p := NewPruner(insp, "grobid-processing", 1000, 5000, nil, log.New(io.Discard, "", 0))

	res, err := p.Prune(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PruneResult{Completed: 3, Archived: 1}, res)
	assert.Equal(t, []string{"c0", "c1", "c2", "a0"}, insp.deleted)
	assert.Len(t, insp.completed, 1000)
	assert.Len(t, insp.archived, 5000)
}

func TestPruneUnderCapIsNoop(t *testing.T) {
	insp := newFakeInspector(10, 10)
	p := NewPruner(insp, "grobid-processing", 1000, 5000, nil, log.New(io.Discard, "", 0))

	res, err := p.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PruneResult{}, res)
	assert.Empty(t, insp.deleted)
}

func TestPruneUnknownQueue(t *testing.T) {
	insp := newFakeInspector(5, 5)
	insp.queues = nil
	p := NewPruner(insp, "grobid-processing", 1, 1, nil, log.New(io.Discard, "", 0))

	res, err := p.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PruneResult{}, res)
}

func TestPrunerStartRejectsBadSchedule(t *testing.T) {
	p := NewPruner(newFakeInspector(0, 0), "grobid-processing", 1, 1, nil, log.New(io.Discard, "", 0))
	assert.Error(t, p.Start("every now and then"))
	p.Stop()
}
