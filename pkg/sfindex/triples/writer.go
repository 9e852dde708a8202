package triples

import (
	"bufio"
	"fmt"
	"os"
)

// Writer writes triples as N-Triples lines to a file, replacing any previous content.
type Writer struct {
	f     *os.File
	w     *bufio.Writer
	count int
}

// Create opens path for writing, truncating it.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &Writer{f: f, w: bufio.NewWriterSize(f, 1<<20)}, nil
}

// Write appends one triple.
func (w *Writer) Write(t Triple) error {
	if _, err := w.w.WriteString(t.N3()); err != nil {
		return err
	}
	w.count++
	return w.w.WriteByte('\n')
}

// Count returns the number of triples written.
func (w *Writer) Count() int { return w.count }

// Close flushes and closes the file.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
