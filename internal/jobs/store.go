package jobs

import (
	"fmt"
	"time"

	"github.com/yarikpiskun41/llm-pdf-parser/internal/cache"
	"github.com/yarikpiskun41/llm-pdf-parser/internal/tei"
)

// Store keeps document records in the in-memory cache. Every write replaces the
// whole record and starts a fresh expiry window.
type Store struct {
	records *cache.Store[Record]
	now     func() time.Time
}

// NewStore creates a Store over records.
func NewStore(records *cache.Store[Record]) *Store {
	return &Store{
		records: records,
		now:     time.Now,
	}
}

// RetainProcessing is the cache retain predicate: records being worked on are
// not expired.
func RetainProcessing(r Record) bool {
	return r.Status == StatusProcessing
}

// Get returns the record for key.
func (s *Store) Get(key string) (Record, bool) {
	if key == "" {
		return Record{}, false
	}
	return s.records.Get(key)
}

// Put replaces the record for its key.
func (s *Store) Put(record Record) Record {
	record = record.normalize()
	record.LastUpdated = s.now().UTC()
	s.records.Set(record.Key, record)
	return record
}

// Delete drops the record for key without reaping its artifact.
func (s *Store) Delete(key string) {
	s.records.Delete(key)
}

// Len returns the number of resident records.
func (s *Store) Len() int {
	return s.records.Len()
}

// UpdateStatus merges status, jobID and errMsg onto the existing record, or onto
// a fresh one when key is unknown. Empty jobID keeps the current one.
func (s *Store) UpdateStatus(key string, status Status, jobID, errMsg string) (Record, error) {
	return s.updatePartial(key, status, func(record *Record) {
		if jobID != "" {
			record.JobID = jobID
		}
		record.Error = errMsg
	})
}

// MarkProcessing moves the job's record to processing.
func (s *Store) MarkProcessing(job Job) (Record, error) {
	return s.updatePartial(job.Key, StatusProcessing, func(record *Record) {
		record.JobID = job.ID
		if record.OriginalName == "" {
			record.OriginalName = job.OriginalName
		}
		if record.Pages == 0 {
			record.Pages = job.Pages
		}
	})
}

// MarkProcessed stores the extracted blocks. An empty blocks slice yields a failed record.
func (s *Store) MarkProcessed(key, jobID string, blocks []tei.Block) (Record, error) {
	return s.updatePartial(key, StatusProcessed, func(record *Record) {
		record.JobID = jobID
		record.Blocks = blocks
	})
}

// MarkFailed stores msg as the record's error.
func (s *Store) MarkFailed(key, jobID, msg string) (Record, error) {
	return s.updatePartial(key, StatusFailed, func(record *Record) {
		record.JobID = jobID
		record.Error = msg
	})
}

// RepairEmpty forces a processed record without blocks to failed and reports
// whether a repair was written.
func (s *Store) RepairEmpty(key string) (Record, bool) {
	return s.records.Update(key, func(cur Record, ok bool) (Record, bool) {
		if !ok || cur.Status != StatusProcessed || len(cur.Blocks) > 0 {
			return cur, false
		}
		cur.Status = StatusFailed
		cur.Error = msgMissingBlocks
		cur = cur.normalize()
		cur.LastUpdated = s.now().UTC()
		return cur, true
	})
}

func (s *Store) updatePartial(key string, to Status, mutate func(*Record)) (Record, error) {
	if key == "" {
		return Record{}, fmt.Errorf("key is required")
	}
	var err error
	record, _ := s.records.Update(key, func(cur Record, ok bool) (Record, bool) {
		if ok && !CanTransition(cur.Status, to) {
			err = fmt.Errorf("%w: %s -> %s key=%s", ErrInvalidTransition, cur.Status, to, key)
			return cur, false
		}
		if !ok {
			cur = Record{Key: key}
		}
		cur.Status = to
		mutate(&cur)
		if !ok && cur.OriginalName == "" {
			cur.OriginalName = key
		}
		cur = cur.normalize()
		cur.LastUpdated = s.now().UTC()
		return cur, true
	})
	return record, err
}
