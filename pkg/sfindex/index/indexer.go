// Package index batches documents into a document store.
package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cognicore/sfindex/internal/logger"
	"github.com/cognicore/sfindex/pkg/sfindex/metrics"
	"github.com/cognicore/sfindex/pkg/sfindex/store"
)

// DefaultBatchSize is the number of documents per store batch.
const DefaultBatchSize = 10000

// Options configures an Indexer.
type Options struct {
	BatchSize int
	// Total is the expected number of entities, used for progress percentages.
	Total   int
	Metrics *metrics.Metrics
}

// Indexer accumulates documents and hands them to a store in fixed-size
// batches. It owns the store handle and is not safe for concurrent use.
type Indexer struct {
	st        store.Store
	batchSize int
	total     int
	metrics   *metrics.Metrics

	pending []store.Document
	count   int
	flushed int
	batches int
	started time.Time
	now     func() time.Time
}

// New creates an indexer writing to st.
func New(st store.Store, opts Options) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Indexer{
		st:        st,
		batchSize: opts.BatchSize,
		total:     opts.Total,
		metrics:   opts.Metrics,
		pending:   make([]store.Document, 0, opts.BatchSize*14/10),
		started:   time.Now(),
		now:       time.Now,
	}
}

// Accumulate adds doc to the pending batch.
func (ix *Indexer) Accumulate(doc store.Document) {
	ix.pending = append(ix.pending, doc)
	ix.count++
}

// FlushIfFull hands the pending batch to the store once it holds a full batch.
func (ix *Indexer) FlushIfFull(ctx context.Context) error {
	if len(ix.pending) < ix.batchSize {
		return nil
	}
	return ix.flush(ctx)
}

// FlushRemainder hands any partial batch to the store. An empty remainder
// is not flushed.
func (ix *Indexer) FlushRemainder(ctx context.Context) error {
	if len(ix.pending) == 0 {
		return nil
	}
	return ix.flush(ctx)
}

// Commit flushes the remainder and commits the store.
func (ix *Indexer) Commit(ctx context.Context) error {
	if err := ix.FlushRemainder(ctx); err != nil {
		return err
	}
	if err := ix.st.Commit(ctx); err != nil {
		return fmt.Errorf("commit index: %w", err)
	}
	return nil
}

// Close flushes the remainder, commits and closes the store.
func (ix *Indexer) Close(ctx context.Context) error {
	if err := ix.Commit(ctx); err != nil {
		ix.st.Close()
		return err
	}
	if err := ix.st.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	logger.Info("Index closed", "documents", humanize.Comma(int64(ix.flushed)), "batches", ix.batches, "elapsed", ix.elapsed())
	return nil
}

func (ix *Indexer) flush(ctx context.Context) error {
	batch := ix.pending
	if err := ix.st.AddBatch(ctx, batch); err != nil {
		return fmt.Errorf("add batch of %d documents: %w", len(batch), err)
	}
	ix.flushed += len(batch)
	ix.batches++
	ix.metrics.AddIndexed(len(batch))
	ix.metrics.IncBatches()
	ix.pending = make([]store.Document, 0, ix.batchSize*14/10)

	logger.Info("Indexed batch",
		"count", humanize.Comma(int64(ix.count)),
		"total", humanize.Comma(int64(ix.total)),
		"percent", ix.percent(),
		"elapsed", ix.elapsed(),
	)
	return nil
}

// Count returns the number of accumulated documents.
func (ix *Indexer) Count() int { return ix.count }

// Flushed returns the number of documents handed to the store.
func (ix *Indexer) Flushed() int { return ix.flushed }

// Pending returns the size of the current partial batch.
func (ix *Indexer) Pending() int { return len(ix.pending) }

// Batches returns the number of batches handed to the store.
func (ix *Indexer) Batches() int { return ix.batches }

func (ix *Indexer) percent() string {
	if ix.total <= 0 {
		return "n/a"
	}
	return humanize.FtoaWithDigits(float64(ix.count)*100/float64(ix.total), 2) + "%"
}

func (ix *Indexer) elapsed() string {
	return strings.TrimSpace(humanize.RelTime(ix.started, ix.now(), "", ""))
}
