package store

import (
	"context"
	"time"
)

// Mode selects how an index location is opened.
type Mode int

const (
	// Create discards any documents already indexed at the location.
	Create Mode = iota
	// Append keeps existing documents and adds to them.
	Append
)

func (m Mode) String() string {
	switch m {
	case Create:
		return "create"
	case Append:
		return "append"
	default:
		return "unknown"
	}
}

// Store is an open writer handle on an index. A handle has exactly one owner;
// batches become durable on Commit.
type Store interface {
	AddBatch(ctx context.Context, docs []Document) error
	Commit(ctx context.Context) error
	Close() error
}

// Backend opens index locations.
type Backend interface {
	Exists(path string) bool
	Open(ctx context.Context, path string, mode Mode, bufferMB float64) (Store, error)
}

// Run summarises one indexing run.
type Run struct {
	ID             string
	Language       string
	StartedAt      time.Time
	FinishedAt     time.Time
	Processed      int
	Indexed        int
	NoLabel        int
	RemoteFailures int
}

// RunRecorder is implemented by stores that keep a history of runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, run Run) error
}
