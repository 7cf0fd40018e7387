// Package jobs tracks document records and runs their extraction on an asynq queue.
package jobs

import "errors"

// Status is the processing state of a document record.
type Status string

const (
	// StatusQueued is set on submission, before any worker picks the job up.
	StatusQueued Status = "queued"
	// StatusProcessing is held while an extraction attempt runs.
	StatusProcessing Status = "processing"
	// StatusProcessed is final; the record carries its blocks.
	StatusProcessed Status = "processed"
	// StatusFailed records the last attempt's error. A retry may still move it back to processing.
	StatusFailed Status = "failed"
)

var (
	// ErrInvalidTransition is returned when a write would move a record along an edge
	// the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotFound is returned for keys that have no record.
	ErrNotFound = errors.New("record not found")
)

// transitions lists the edges a worker may take. Entering queued only happens
// through submission, which replaces the whole record.
var transitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusProcessing, StatusProcessed, StatusFailed},
	StatusFailed:     {StatusProcessing},
}

// CanTransition reports whether a record in from may be moved to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

// Settled reports whether no worker is expected to write the record again
// for the current attempt.
func (s Status) Settled() bool {
	return s == StatusProcessed || s == StatusFailed
}
