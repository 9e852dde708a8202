package triples

import (
	"bufio"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/cognicore/sfindex/internal/logger"
)

// maxLineSize bounds a single N-Triples line; long abstracts need more than bufio's default.
const maxLineSize = 16 << 20

// Source yields triples one at a time. Next returns io.EOF at the end of the stream.
type Source interface {
	Next() (Triple, error)
	Close() error
}

// Opener opens a named triple file for one independent pass.
type Opener interface {
	Open(ctx context.Context, name string) (Source, error)
}

// FileOpener opens N-Triples files on the local filesystem. Files ending in
// .gz, .zst or .bz2 are decompressed transparently.
type FileOpener struct{}

// Open implements Opener.
func (FileOpener) Open(ctx context.Context, name string) (Source, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open triples %s: %w", name, err)
	}

	var r io.Reader = f
	closers := []func() error{f.Close}

	switch {
	case strings.HasSuffix(name, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open gzip %s: %w", name, err)
		}
		r = gz
		closers = append([]func() error{gz.Close}, closers...)
	case strings.HasSuffix(name, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open zstd %s: %w", name, err)
		}
		r = zr
		closers = append([]func() error{func() error { zr.Close(); return nil }}, closers...)
	case strings.HasSuffix(name, ".bz2"):
		r = bzip2.NewReader(f)
	}

	src := NewReaderSource(ctx, name, r)
	src.closers = closers
	return src, nil
}

// ReaderSource parses N-Triples from an io.Reader.
type ReaderSource struct {
	ctx     context.Context
	name    string
	scanner *bufio.Scanner
	line    int
	skipped int
	closers []func() error
}

// NewReaderSource wraps r. Malformed lines are logged and skipped.
func NewReaderSource(ctx context.Context, name string, r io.Reader) *ReaderSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return &ReaderSource{ctx: ctx, name: name, scanner: sc}
}

// Next implements Source.
func (s *ReaderSource) Next() (Triple, error) {
	for s.scanner.Scan() {
		if err := s.ctx.Err(); err != nil {
			return Triple{}, err
		}
		s.line++
		t, ok, err := ParseLine(s.scanner.Text())
		if err != nil {
			s.skipped++
			logger.Debug("Skipping malformed triple", "file", s.name, "line", s.line, "err", err)
			continue
		}
		if !ok {
			continue
		}
		return t, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Triple{}, fmt.Errorf("read %s: %w", s.name, err)
	}
	return Triple{}, io.EOF
}

// Skipped returns the number of malformed lines skipped so far.
func (s *ReaderSource) Skipped() int { return s.skipped }

// Close implements Source.
func (s *ReaderSource) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Each opens name and calls fn for every triple.
func Each(ctx context.Context, opener Opener, name string, fn func(Triple) error) error {
	src, err := opener.Open(ctx, name)
	if err != nil {
		return err
	}
	defer src.Close()

	for {
		t, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
	}
}

// MemoryOpener serves in-memory triple lists by name. Missing names fail like missing files.
type MemoryOpener map[string][]Triple

// Open implements Opener.
func (m MemoryOpener) Open(ctx context.Context, name string) (Source, error) {
	ts, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("open triples %s: %w", name, os.ErrNotExist)
	}
	return &sliceSource{ctx: ctx, triples: ts}, nil
}

type sliceSource struct {
	ctx     context.Context
	triples []Triple
	pos     int
}

func (s *sliceSource) Next() (Triple, error) {
	if err := s.ctx.Err(); err != nil {
		return Triple{}, err
	}
	if s.pos >= len(s.triples) {
		return Triple{}, io.EOF
	}
	t := s.triples[s.pos]
	s.pos++
	return t, nil
}

func (s *sliceSource) Close() error { return nil }
