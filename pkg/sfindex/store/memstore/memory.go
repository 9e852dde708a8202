package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/cognicore/sfindex/pkg/sfindex/internalerr"
	"github.com/cognicore/sfindex/pkg/sfindex/store"
)

// Backend is an in-memory implementation of store.Backend for tests. Each
// path holds an independent index.
type Backend struct {
	mu      sync.Mutex
	indexes map[string]*Store
}

// New creates a new in-memory backend.
func New() *Backend {
	return &Backend{indexes: make(map[string]*Store)}
}

// Exists implements store.Backend.
func (b *Backend) Exists(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.indexes[path]
	return ok
}

// Open implements store.Backend. Opening a path that already has an open
// writer fails with internalerr.ErrStoreUnavailable.
func (b *Backend) Open(ctx context.Context, path string, mode store.Mode, bufferMB float64) (store.Store, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.indexes[path]
	if !ok {
		s = &Store{}
		b.indexes[path] = s
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil, fmt.Errorf("%w: %s already open", internalerr.ErrStoreUnavailable, path)
	}
	if mode == store.Create {
		s.committed = nil
	}
	s.open = true
	s.pending = nil
	s.mode = mode
	s.bufferMB = bufferMB
	return s, nil
}

// Index returns the store at path, or nil.
func (b *Backend) Index(path string) *Store {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indexes[path]
}

// Store is an in-memory store.Store. It records every batch handed to it.
type Store struct {
	mu        sync.Mutex
	open      bool
	mode      store.Mode
	bufferMB  float64
	pending   []store.Document
	committed []store.Document
	batches   []int
	commits   int
	runs      []store.Run

	// FailAdd, when set, is returned by AddBatch.
	FailAdd error
}

// AddBatch implements store.Store.
func (s *Store) AddBatch(ctx context.Context, docs []store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return fmt.Errorf("%w: store closed", internalerr.ErrStoreUnavailable)
	}
	if s.FailAdd != nil {
		return s.FailAdd
	}
	for _, d := range docs {
		s.pending = append(s.pending, copyDoc(d))
	}
	s.batches = append(s.batches, len(docs))
	return nil
}

// Commit implements store.Store.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return fmt.Errorf("%w: store closed", internalerr.ErrStoreUnavailable)
	}
	s.committed = append(s.committed, s.pending...)
	s.pending = nil
	s.commits++
	return nil
}

// Close implements store.Store. Uncommitted documents are committed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.committed = append(s.committed, s.pending...)
	s.pending = nil
	s.open = false
	return nil
}

// RecordRun implements store.RunRecorder.
func (s *Store) RecordRun(ctx context.Context, run store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

// Documents returns a copy of the committed documents in write order.
func (s *Store) Documents() []store.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Document, len(s.committed))
	for i, d := range s.committed {
		out[i] = copyDoc(d)
	}
	return out
}

// Batches returns the size of every batch added, in order.
func (s *Store) Batches() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batches...)
}

// Commits returns how many times Commit was called.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Runs returns the recorded runs.
func (s *Store) Runs() []store.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Run(nil), s.runs...)
}

// IsOpen reports whether a writer currently holds the store.
func (s *Store) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Mode returns the mode of the last Open.
func (s *Store) Mode() store.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func copyDoc(d store.Document) store.Document {
	cp := d
	cp.Types = append([]string(nil), d.Types...)
	cp.SurfaceForms = append([]string(nil), d.SurfaceForms...)
	return cp
}
