package surface

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/cognicore/sfindex/internal/logger"
	"github.com/cognicore/sfindex/pkg/sfindex/internalerr"
	"github.com/cognicore/sfindex/pkg/sfindex/triples"
)

// Files names the dump files the resolver reads and the side file it writes.
type Files struct {
	Labels          string
	FilteredLabels  string
	Redirects       string
	Disambiguations string
	SurfaceForms    string
}

// Options configures a Resolver.
type Options struct {
	Opener     triples.Opener
	Classifier *Classifier
	Files      Files
	// Reuse loads Files.SurfaceForms instead of rebuilding it when it exists.
	Reuse bool
	// Alias maps a concept URI to a second key under which cached forms are
	// also registered. Nil disables aliasing.
	Alias func(string) string
}

// Stats summarises one resolution run.
type Stats struct {
	FromCache       bool
	BadURIs         int
	Concepts        int
	SeededForms     int
	PropagatedForms int
	FoldedForms     int
	DecodeErrors    int
}

// Resolver builds the surface form map for all concepts of a dump.
type Resolver struct {
	opts Options
}

// NewResolver creates a resolver.
func NewResolver(opts Options) *Resolver {
	if opts.Classifier == nil {
		opts.Classifier = NewClassifier(nil)
	}
	if opts.Opener == nil {
		opts.Opener = triples.FileOpener{}
	}
	return &Resolver{opts: opts}
}

// Resolve returns the surface forms for every concept. When reuse is enabled
// and the side file exists it is loaded; otherwise the map is computed from
// the dump and the side file is rewritten.
func (r *Resolver) Resolve(ctx context.Context) (Map, Stats, error) {
	var stats Stats
	sf := r.opts.Files.SurfaceForms

	if r.opts.Reuse && sf != "" {
		if _, err := os.Stat(sf); err == nil {
			m, err := ReadFile(sf, r.opts.Classifier.MaxLength(), r.opts.Alias)
			if err != nil {
				return nil, stats, err
			}
			stats.FromCache = true
			stats.Concepts = len(m)
			logger.Info("Loaded surface forms", "file", sf, "uris", len(m))
			return m, stats, nil
		}
	}

	bad, err := r.BadURIs(ctx)
	if err != nil {
		return nil, stats, err
	}
	stats.BadURIs = len(bad)

	m := make(Map)
	concepts, err := r.concepts(ctx, bad, m, &stats)
	if err != nil {
		return nil, stats, err
	}
	stats.Concepts = len(concepts)

	for _, name := range []string{r.opts.Files.Disambiguations, r.opts.Files.Redirects} {
		if err := r.propagate(ctx, name, concepts, m, &stats); err != nil {
			return nil, stats, err
		}
	}

	r.fold(m, &stats)

	if sf != "" {
		if err := WriteFile(sf, m); err != nil {
			return nil, stats, err
		}
	}

	logger.Info("Resolved surface forms",
		"concepts", stats.Concepts,
		"uris", len(m),
		"forms", m.FormCount(),
		"bad_uris", stats.BadURIs,
		"decode_errors", stats.DecodeErrors,
	)
	return m, stats, nil
}

// BadURIs returns every subject of the redirect and disambiguation files.
// Such URIs are aliases or navigation pages, never concepts.
func (r *Resolver) BadURIs(ctx context.Context) (Set, error) {
	bad := make(Set)
	for _, name := range []string{r.opts.Files.Redirects, r.opts.Files.Disambiguations} {
		err := triples.Each(ctx, r.opts.Opener, name, func(t triples.Triple) error {
			bad.Add(t.Subject.Value)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("collect bad uris from %s: %w", name, err)
		}
	}
	return bad, nil
}

// concepts scans the labels file and seeds every concept with its own cleaned name.
func (r *Resolver) concepts(ctx context.Context, bad Set, m Map, stats *Stats) (Set, error) {
	name, err := r.labelsFile(ctx)
	if err != nil {
		return nil, err
	}

	concepts := make(Set)
	err = triples.Each(ctx, r.opts.Opener, name, func(t triples.Triple) error {
		uri := t.Subject.Value
		if concepts.Has(uri) || bad.Has(uri) {
			return nil
		}
		local := LocalName(uri)
		if !r.opts.Classifier.IsGoodURI(local) {
			return nil
		}
		concepts.Add(uri)
		if form, ok := r.clean(local, stats); ok {
			m.Add(uri, form)
			stats.SeededForms++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect concepts from %s: %w", name, err)
	}
	return concepts, nil
}

// labelsFile prefers the filtered labels file and falls back to the full one.
func (r *Resolver) labelsFile(ctx context.Context) (string, error) {
	if filtered := r.opts.Files.FilteredLabels; filtered != "" {
		src, err := r.opts.Opener.Open(ctx, filtered)
		if err == nil {
			src.Close()
			return filtered, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return r.opts.Files.Labels, nil
}

// propagate attaches the cleaned subject name of each edge to its object
// when the object is a concept.
func (r *Resolver) propagate(ctx context.Context, name string, concepts Set, m Map, stats *Stats) error {
	err := triples.Each(ctx, r.opts.Opener, name, func(t triples.Triple) error {
		target := t.Object.Value
		if !concepts.Has(target) {
			return nil
		}
		source := t.Subject.Value
		if strings.Contains(source, "%") {
			return nil
		}
		if form, ok := r.clean(LocalName(source), stats); ok {
			m.Add(target, form)
			stats.PropagatedForms++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("propagate surface forms from %s: %w", name, err)
	}
	return nil
}

// fold adds the accent-free variant of every form that has one.
func (r *Resolver) fold(m Map, stats *Stats) {
	for _, set := range m {
		var extra []string
		for form := range set {
			folded := Fold(form)
			if folded == form || set.Has(folded) {
				continue
			}
			if utf8.RuneCountInString(folded) > r.opts.Classifier.MaxLength() {
				continue
			}
			if !r.opts.Classifier.IsGoodSurfaceForm(folded) {
				continue
			}
			extra = append(extra, folded)
		}
		for _, f := range extra {
			if !set.Has(f) {
				set.Add(f)
				stats.FoldedForms++
			}
		}
	}
}

func (r *Resolver) clean(local string, stats *Stats) (string, bool) {
	form, ok, err := r.opts.Classifier.Clean(local)
	if err != nil {
		if errors.Is(err, internalerr.ErrDecode) {
			stats.DecodeErrors++
		}
		logger.Debug("Dropped surface form", "local_name", local, "err", err)
		return "", false
	}
	return form, ok
}
