package sfindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/sfindex/pkg/sfindex/config"
	"github.com/cognicore/sfindex/pkg/sfindex/fetch"
	"github.com/cognicore/sfindex/pkg/sfindex/internalerr"
	"github.com/cognicore/sfindex/pkg/sfindex/langlinks"
	"github.com/cognicore/sfindex/pkg/sfindex/metrics"
	"github.com/cognicore/sfindex/pkg/sfindex/store"
	"github.com/cognicore/sfindex/pkg/sfindex/store/memstore"
	"github.com/cognicore/sfindex/pkg/sfindex/surface"
	"github.com/cognicore/sfindex/pkg/sfindex/triples"
)

const (
	res      = "http://dbpedia.org/resource/"
	label    = "http://www.w3.org/2000/01/rdf-schema#label"
	redirect = "http://dbpedia.org/ontology/wikiPageRedirects"
	disambig = "http://dbpedia.org/ontology/wikiPageDisambiguates"
	sameAs   = "http://www.w3.org/2002/07/owl#sameAs"
)

// fakeFetcher answers from a fixed outcome per URI; unknown URIs are OK.
type fakeFetcher struct {
	mu       sync.Mutex
	outcomes map[string]fetch.Outcome
	calls    []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, uri string, forms []string, links langlinks.Map) fetch.Result {
	f.mu.Lock()
	f.calls = append(f.calls, uri)
	outcome := f.outcomes[uri]
	f.mu.Unlock()

	switch outcome {
	case fetch.NoLabel:
		return fetch.Result{Outcome: fetch.NoLabel, Attempts: 1}
	case fetch.RemoteFailure:
		return fetch.Result{Outcome: fetch.RemoteFailure, Attempts: 10, Cause: internalerr.ErrRemoteQuery}
	}
	return fetch.Result{Outcome: fetch.OK, Attempts: 1, Document: store.Document{
		URI:          uri,
		CanonicalURI: links.Lookup(uri),
		Label:        surface.LocalName(uri),
		SurfaceForms: forms,
	}}
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.BaseDir = t.TempDir()
	cfg.IndexDir = "index"
	cfg.BatchSize = 10
	return cfg
}

func dump(cfg config.Config) triples.MemoryOpener {
	f := cfg.Files()
	return triples.MemoryOpener{
		f.Labels: {
			triples.T(res+"Alpha", label, `"Alpha"`),
			triples.T(res+"Beta", label, `"Beta"`),
			triples.T(res+"Gamma", label, `"Gamma"`),
			triples.T(res+"Alfa", label, `"Alfa"`),
			triples.T(res+"List_of_letters", label, `"List of letters"`),
		},
		f.Redirects: {
			triples.T(res+"Alfa", redirect, res+"Alpha"),
		},
		f.Disambiguations: {
			triples.T(res+"Alpha_(disambiguation)", disambig, res+"Alpha"),
		},
	}
}

func TestRunIndexesEntities(t *testing.T) {
	cfg := testConfig(t)
	backend := memstore.New()
	fetcher := &fakeFetcher{outcomes: map[string]fetch.Outcome{
		res + "Beta":  fetch.NoLabel,
		res + "Gamma": fetch.RemoteFailure,
	}}
	sleeper := &sleepRecorder{}

	d, err := New(Options{
		Config:  cfg,
		Opener:  dump(cfg),
		Backend: backend,
		Fetcher: fetcher,
		Metrics: metrics.New(),
		Sleep:   sleeper.sleep,
	})
	require.NoError(t, err)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Done, d.State())
	assert.Equal(t, store.Create, summary.Mode)
	assert.Equal(t, Counters{Processed: 3, Indexed: 1, NoLabel: 1, RemoteFailures: 1}, d.Counters())
	assert.Equal(t, d.Counters(), summary.Counters)
	assert.Equal(t, []time.Duration{cfg.RemoteBackoff}, sleeper.waits)

	idx := backend.Index("index")
	require.NotNil(t, idx)
	assert.False(t, idx.IsOpen())
	docs := idx.Documents()
	require.Len(t, docs, 1)
	assert.Equal(t, res+"Alpha", docs[0].URI)
	assert.Equal(t, []string{"Alfa", "Alpha"}, docs[0].SurfaceForms)

	runs := idx.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, d.RunID(), runs[0].ID)
	assert.Equal(t, 3, runs[0].Processed)

	_, err = os.Stat(cfg.Files().SurfaceForms)
	assert.NoError(t, err, "surface form side file should be written")
}

func TestRunAppendsToExistingIndex(t *testing.T) {
	cfg := testConfig(t)
	cfg.OverwriteIndex = false
	backend := memstore.New()

	h, err := backend.Open(context.Background(), cfg.IndexDir, store.Create, 0)
	require.NoError(t, err)
	require.NoError(t, h.AddBatch(context.Background(), []store.Document{{URI: "http://x/Old", Label: "Old"}}))
	require.NoError(t, h.Close())

	d, err := New(Options{Config: cfg, Opener: dump(cfg), Backend: backend, Fetcher: &fakeFetcher{}})
	require.NoError(t, err)
	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, store.Append, summary.Mode)
	assert.Len(t, backend.Index(cfg.IndexDir).Documents(), 4)
}

func TestRunOverwritesExistingIndex(t *testing.T) {
	cfg := testConfig(t)
	backend := memstore.New()
	h, _ := backend.Open(context.Background(), cfg.IndexDir, store.Create, 0)
	h.AddBatch(context.Background(), []store.Document{{URI: "http://x/Old"}})
	h.Close()

	d, err := New(Options{Config: cfg, Opener: dump(cfg), Backend: backend, Fetcher: &fakeFetcher{}})
	require.NoError(t, err)
	_, err = d.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, backend.Index(cfg.IndexDir).Documents(), 3)
}

func TestRunUsesLanguageLinks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Language = "de"
	opener := dump(cfg)
	opener[cfg.Files().InterlanguageLinks] = []triples.Triple{
		triples.T(res+"Alpha", sameAs, "http://dbpedia.org/resource/Alpha_EN"),
		triples.T(res+"Beta", sameAs, "http://fr.dbpedia.org/resource/Beta"),
	}
	backend := memstore.New()

	d, err := New(Options{Config: cfg, Opener: opener, Backend: backend, Fetcher: &fakeFetcher{}})
	require.NoError(t, err)
	_, err = d.Run(context.Background())
	require.NoError(t, err)

	canonical := map[string]string{}
	for _, doc := range backend.Index(cfg.IndexDir).Documents() {
		canonical[doc.URI] = doc.CanonicalURI
	}
	assert.Equal(t, "http://dbpedia.org/resource/Alpha_EN", canonical[res+"Alpha"])
	assert.Empty(t, canonical[res+"Beta"])
}

func TestRunMissingLanguageLinksIsFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Language = "de"
	backend := memstore.New()

	d, err := New(Options{Config: cfg, Opener: dump(cfg), Backend: backend, Fetcher: &fakeFetcher{}})
	require.NoError(t, err)
	_, err = d.Run(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, LoadLanguageLinks, d.State())
	assert.False(t, backend.Index(cfg.IndexDir).IsOpen(), "index handle must be released")
}

func TestRunMissingDumpIsFatal(t *testing.T) {
	cfg := testConfig(t)
	opener := dump(cfg)
	delete(opener, cfg.Files().Labels)
	backend := memstore.New()
	fetcher := &fakeFetcher{}

	d, err := New(Options{Config: cfg, Opener: opener, Backend: backend, Fetcher: fetcher})
	require.NoError(t, err)
	_, err = d.Run(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, ResolveSurfaceForms, d.State())
	assert.False(t, backend.Exists(cfg.IndexDir), "index must not be opened")
	assert.Empty(t, fetcher.calls)
}

func TestRunLockedIndexIsFatal(t *testing.T) {
	cfg := testConfig(t)
	backend := memstore.New()
	_, err := backend.Open(context.Background(), cfg.IndexDir, store.Create, 0)
	require.NoError(t, err)

	d, err := New(Options{Config: cfg, Opener: dump(cfg), Backend: backend, Fetcher: &fakeFetcher{}})
	require.NoError(t, err)
	_, err = d.Run(context.Background())
	assert.ErrorIs(t, err, internalerr.ErrStoreUnavailable)
	assert.Equal(t, OpenIndex, d.State())
}

func TestRunParallelWorkers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers = 4
	f := cfg.Files()

	opener := triples.MemoryOpener{f.Redirects: nil, f.Disambiguations: nil}
	outcomes := map[string]fetch.Outcome{}
	for i := 0; i < 30; i++ {
		uri := fmt.Sprintf("%sEntity_%c%c", res, 'A'+i/26, 'a'+i%26)
		opener[f.Labels] = append(opener[f.Labels], triples.T(uri, label, `"x"`))
		switch {
		case i%10 == 3:
			outcomes[uri] = fetch.NoLabel
		case i%10 == 7:
			outcomes[uri] = fetch.RemoteFailure
		}
	}
	backend := memstore.New()
	sleeper := &sleepRecorder{}

	d, err := New(Options{
		Config:  cfg,
		Opener:  opener,
		Backend: backend,
		Fetcher: &fakeFetcher{outcomes: outcomes},
		Sleep:   sleeper.sleep,
	})
	require.NoError(t, err)
	_, err = d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Counters{Processed: 30, Indexed: 24, NoLabel: 3, RemoteFailures: 3}, d.Counters())
	assert.Len(t, sleeper.waits, 3)

	idx := backend.Index(cfg.IndexDir)
	assert.Equal(t, []int{10, 10, 4}, idx.Batches())
	seen := map[string]bool{}
	for _, doc := range idx.Documents() {
		assert.False(t, seen[doc.URI], "indexed twice: %s", doc.URI)
		seen[doc.URI] = true
	}
	assert.Len(t, seen, 24)
}

func TestRunStoreFailureAbortsParallelRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers = 2
	cfg.BatchSize = 1
	backend := memstore.New()
	// create the index so the failure can be injected before the run opens it
	h, _ := backend.Open(context.Background(), cfg.IndexDir, store.Create, 0)
	h.Close()
	boom := errors.New("disk full")
	backend.Index(cfg.IndexDir).FailAdd = boom

	d, err := New(Options{Config: cfg, Opener: dump(cfg), Backend: backend, Fetcher: &fakeFetcher{}})
	require.NoError(t, err)
	_, err = d.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, backend.Index(cfg.IndexDir).IsOpen())
}

func TestFilterMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.FilterOnly = true
	cfg.IndexDir = ""
	cfg.Endpoint = ""
	f := cfg.Files()

	writeFile := func(path string, ts ...triples.Triple) {
		t.Helper()
		w, err := triples.Create(path)
		require.NoError(t, err)
		for _, tr := range ts {
			require.NoError(t, w.Write(tr))
		}
		require.NoError(t, w.Close())
	}
	mem := dump(cfg)
	for _, name := range []string{f.Labels, f.Redirects, f.Disambiguations} {
		writeFile(name, mem[name]...)
	}
	// a stale side file must be regenerated even with reuse enabled
	cfg.ReuseSurfaceForms = true
	require.NoError(t, os.WriteFile(f.SurfaceForms, []byte(res+"Stale\tStale\n"), 0o644))

	d, err := New(Options{Config: cfg})
	require.NoError(t, err)
	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Done, d.State())
	assert.False(t, summary.SurfaceForms.FromCache)

	filtered, err := os.ReadFile(f.FilteredLabels)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(filtered)), "\n")
	assert.Len(t, lines, 4, "Alfa is a redirect and must be filtered out")
	assert.NotContains(t, string(filtered), "<"+res+"Alfa>")
	assert.Contains(t, string(filtered), `<`+res+`Alpha> <`+label+`> "Alpha" .`)

	sf, err := surface.ReadFile(f.SurfaceForms, surface.MaxSurfaceFormLength, nil)
	require.NoError(t, err)
	assert.NotContains(t, sf, res+"Stale")
	assert.Equal(t, []string{"Alfa", "Alpha"}, sf[res+"Alpha"].Sorted())
}

func TestNewValidates(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 0
	_, err := New(Options{Config: cfg, Backend: memstore.New()})
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)

	_, err = New(Options{Config: testConfig(t)})
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
}

func TestStateNames(t *testing.T) {
	for s := Init; s <= Done; s++ {
		assert.NotEqual(t, "unknown", s.String())
	}
	assert.Equal(t, "unknown", State(42).String())
}
