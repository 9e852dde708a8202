// Package sfindex builds a searchable entity index from a linked-data dump:
// it resolves the surface forms of every concept, fetches the concept's
// attributes from a SPARQL endpoint and writes the merged documents in
// batches to a document store.
package sfindex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/sfindex/internal/logger"
	"github.com/cognicore/sfindex/pkg/sfindex/config"
	"github.com/cognicore/sfindex/pkg/sfindex/fetch"
	"github.com/cognicore/sfindex/pkg/sfindex/index"
	"github.com/cognicore/sfindex/pkg/sfindex/internalerr"
	"github.com/cognicore/sfindex/pkg/sfindex/langlinks"
	"github.com/cognicore/sfindex/pkg/sfindex/metrics"
	"github.com/cognicore/sfindex/pkg/sfindex/sparql"
	"github.com/cognicore/sfindex/pkg/sfindex/store"
	"github.com/cognicore/sfindex/pkg/sfindex/surface"
	"github.com/cognicore/sfindex/pkg/sfindex/triples"
)

// noLabelLogEvery controls how often the no-label rate is reported.
const noLabelLogEvery = 100

// Fetcher resolves the attributes of one entity. *fetch.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, uri string, forms []string, links langlinks.Map) fetch.Result
}

// Options configures a Driver.
type Options struct {
	Config config.Config
	// Opener reads the dump files. Defaults to triples.FileOpener.
	Opener triples.Opener
	// Backend opens the index. Required unless Config.FilterOnly is set.
	Backend store.Backend
	// Fetcher defaults to a fetch.Fetcher over a sparql.Client built from Config.
	Fetcher Fetcher
	Metrics *metrics.Metrics
	// Sleep waits out the backoff after a remote failure. Defaults to a
	// context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Counters aggregate the outcomes of the entity stream.
type Counters struct {
	Processed      int
	Indexed        int
	NoLabel        int
	RemoteFailures int
}

// Summary describes a finished run.
type Summary struct {
	RunID        string
	Mode         store.Mode
	SurfaceForms surface.Stats
	Counters     Counters
	Duration     time.Duration
}

// Driver runs the indexing pipeline. A Driver runs once.
type Driver struct {
	cfg      config.Config
	opener   triples.Opener
	backend  store.Backend
	fetcher  Fetcher
	metrics  *metrics.Metrics
	sleep    func(context.Context, time.Duration) error
	now      func() time.Time
	runID    ulid.ULID
	state    atomic.Int32
	counters Counters
}

// New validates the configuration and wires the pipeline.
func New(opts Options) (*Driver, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Backend == nil && !cfg.FilterOnly {
		return nil, fmt.Errorf("%w: a store backend is required", internalerr.ErrInvalidInput)
	}

	d := &Driver{
		cfg:     cfg,
		opener:  opts.Opener,
		backend: opts.Backend,
		fetcher: opts.Fetcher,
		metrics: opts.Metrics,
		sleep:   opts.Sleep,
		now:     opts.Now,
		runID:   ulid.Make(),
	}
	if d.opener == nil {
		d.opener = triples.FileOpener{}
	}
	if d.sleep == nil {
		d.sleep = sleepContext
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.fetcher == nil && !cfg.FilterOnly {
		client := sparql.NewClient(cfg.Endpoint, cfg.HTTPTimeout, cfg.RequestsPerSecond)
		f, err := fetch.New(client, fetch.Options{
			Graph:          cfg.Graph,
			MaxAttempts:    cfg.MaxAttempts,
			RetryDelay:     cfg.RetryDelay,
			ScoreCacheSize: cfg.ScoreCacheSize,
			Metrics:        d.metrics,
		})
		if err != nil {
			return nil, err
		}
		d.fetcher = f
	}
	return d, nil
}

// State returns the current pipeline state.
func (d *Driver) State() State { return State(d.state.Load()) }

func (d *Driver) enter(s State) {
	d.state.Store(int32(s))
	logger.Debug("Pipeline state", "state", s.String(), "run", d.runID.String())
}

// Counters returns the entity counters. Call after Run returns.
func (d *Driver) Counters() Counters { return d.counters }

// RunID returns the identifier of this run.
func (d *Driver) RunID() string { return d.runID.String() }

// Run executes the pipeline. Only configuration, dump-file and storage
// failures are returned; entities that cannot be fetched are counted and
// skipped.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	started := d.now()
	summary := Summary{RunID: d.runID.String()}
	d.enter(Init)
	logger.Info("Starting run", "run", summary.RunID, "config", d.cfg.String())

	stops, err := d.cfg.Stopwords()
	if err != nil {
		return summary, err
	}
	files := d.cfg.Files()
	sf := surface.Files{
		Labels:          files.Labels,
		FilteredLabels:  files.FilteredLabels,
		Redirects:       files.Redirects,
		Disambiguations: files.Disambiguations,
		SurfaceForms:    files.SurfaceForms,
	}
	if d.cfg.FilterOnly {
		// the filtered labels file is about to be rewritten from the full one
		sf.FilteredLabels = ""
	}
	resolver := surface.NewResolver(surface.Options{
		Opener:     d.opener,
		Classifier: surface.NewClassifier(stops),
		Files:      sf,
		Reuse: d.cfg.ReuseSurfaceForms && !d.cfg.FilterOnly,
		Alias: surface.LanguageAlias(d.cfg.Language),
	})

	d.enter(ResolveSurfaceForms)
	forms, stats, err := resolver.Resolve(ctx)
	if err != nil {
		return summary, fmt.Errorf("resolve surface forms: %w", err)
	}
	summary.SurfaceForms = stats
	d.metrics.AddDecodeErrors(stats.DecodeErrors)

	if d.cfg.FilterOnly {
		d.enter(FilterAndExit)
		if err := d.writeFilteredLabels(ctx, resolver, files); err != nil {
			return summary, err
		}
		d.enter(Done)
		summary.Duration = d.now().Sub(started)
		return summary, nil
	}

	d.enter(OpenIndex)
	mode := store.Append
	if d.cfg.OverwriteIndex || !d.backend.Exists(d.cfg.IndexDir) {
		mode = store.Create
	}
	summary.Mode = mode
	st, err := d.backend.Open(ctx, d.cfg.IndexDir, mode, d.cfg.RAMBufferMB)
	if err != nil {
		return summary, fmt.Errorf("open index %s: %w", d.cfg.IndexDir, err)
	}
	ix := index.New(st, index.Options{
		BatchSize: d.cfg.BatchSize,
		Total:     len(forms),
		Metrics:   d.metrics,
	})

	d.enter(LoadLanguageLinks)
	links, err := langlinks.Load(ctx, d.opener, files.InterlanguageLinks, d.cfg.Language, d.cfg.CanonicalLanguage)
	if err != nil {
		st.Close()
		return summary, err
	}

	d.enter(StreamEntities)
	if d.cfg.Workers > 1 {
		err = d.streamParallel(ctx, forms, links, ix)
	} else {
		err = d.stream(ctx, forms, links, ix)
	}
	summary.Counters = d.counters
	if err != nil {
		st.Close()
		return summary, err
	}

	d.enter(Finalize)
	if err := ix.Commit(ctx); err != nil {
		st.Close()
		return summary, err
	}
	summary.Duration = d.now().Sub(started)
	if rec, ok := st.(store.RunRecorder); ok {
		run := store.Run{
			ID:             summary.RunID,
			Language:       d.cfg.Language,
			StartedAt:      started,
			FinishedAt:     d.now(),
			Processed:      d.counters.Processed,
			Indexed:        d.counters.Indexed,
			NoLabel:        d.counters.NoLabel,
			RemoteFailures: d.counters.RemoteFailures,
		}
		if err := rec.RecordRun(ctx, run); err != nil {
			logger.Warn("Could not record run", "run", summary.RunID, "err", err)
		}
	}
	if err := ix.Close(ctx); err != nil {
		return summary, err
	}
	d.enter(Done)

	if err := d.metrics.WriteTextfile(d.cfg.MetricsFile); err != nil {
		logger.Warn("Could not write metrics", "file", d.cfg.MetricsFile, "err", err)
	}
	logger.Info("Run finished",
		"run", summary.RunID,
		"processed", d.counters.Processed,
		"indexed", d.counters.Indexed,
		"no_label", d.counters.NoLabel,
		"remote_failures", d.counters.RemoteFailures,
		"duration", summary.Duration.Round(time.Second),
	)
	return summary, nil
}

// writeFilteredLabels copies the labels file without the triples whose
// subject is a redirect or disambiguation page.
func (d *Driver) writeFilteredLabels(ctx context.Context, resolver *surface.Resolver, files config.Files) error {
	bad, err := resolver.BadURIs(ctx)
	if err != nil {
		return err
	}

	w, err := triples.Create(files.FilteredLabels)
	if err != nil {
		return err
	}
	err = triples.Each(ctx, d.opener, files.Labels, func(t triples.Triple) error {
		if bad.Has(t.Subject.Value) {
			return nil
		}
		return w.Write(t)
	})
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write filtered labels: %w", err)
	}
	logger.Info("Wrote filtered labels", "file", files.FilteredLabels, "triples", w.Count(), "bad_uris", len(bad))
	return nil
}

// stream fetches entities one at a time.
func (d *Driver) stream(ctx context.Context, forms surface.Map, links langlinks.Map, ix *index.Indexer) error {
	for _, uri := range forms.Keys() {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := d.fetcher.Fetch(ctx, uri, forms[uri].Sorted(), links)
		if err := d.handle(ctx, uri, res, ix); err != nil {
			return err
		}
		if res.Outcome == fetch.RemoteFailure {
			if err := d.sleep(ctx, d.cfg.RemoteBackoff); err != nil {
				return err
			}
		}
	}
	return nil
}

type fetched struct {
	uri string
	res fetch.Result
}

// streamParallel fetches with a bounded pool of workers. Results funnel
// through one channel into the indexer, which stays single-writer. A worker
// backs off after a remote failure before taking its next entity.
func (d *Driver) streamParallel(ctx context.Context, forms surface.Map, links langlinks.Map, ix *index.Indexer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	jobs := make(chan string)
	results := make(chan fetched, d.cfg.Workers)

	g.Go(func() error {
		defer close(jobs)
		for _, uri := range forms.Keys() {
			select {
			case jobs <- uri:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var workers sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for uri := range jobs {
				res := d.fetcher.Fetch(gctx, uri, forms[uri].Sorted(), links)
				select {
				case results <- fetched{uri: uri, res: res}:
				case <-gctx.Done():
					return gctx.Err()
				}
				if res.Outcome == fetch.RemoteFailure {
					if err := d.sleep(gctx, d.cfg.RemoteBackoff); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	var handleErr error
	for r := range results {
		if handleErr != nil {
			continue
		}
		if err := d.handle(ctx, r.uri, r.res, ix); err != nil {
			handleErr = err
			cancel()
		}
	}

	err := g.Wait()
	if handleErr != nil {
		return handleErr
	}
	return err
}

// handle books one fetch result. Only indexing errors are returned.
func (d *Driver) handle(ctx context.Context, uri string, res fetch.Result, ix *index.Indexer) error {
	d.counters.Processed++
	d.metrics.IncProcessed()

	switch res.Outcome {
	case fetch.OK:
		ix.Accumulate(res.Document)
		d.counters.Indexed++
		if err := ix.FlushIfFull(ctx); err != nil {
			return err
		}
	case fetch.NoLabel:
		d.counters.NoLabel++
		d.metrics.IncNoLabel()
		if d.counters.NoLabel%noLabelLogEvery == 0 {
			logger.Info("Entities without label",
				"no_label", d.counters.NoLabel,
				"processed", d.counters.Processed,
				"rate", fmt.Sprintf("%.2f%%", float64(d.counters.NoLabel)*100/float64(d.counters.Processed)),
			)
		}
	case fetch.RemoteFailure:
		if errors.Is(res.Cause, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}
		d.counters.RemoteFailures++
		d.metrics.IncRemoteFailure()
		logger.Warn("Dropping entity after remote failure",
			"uri", uri,
			"attempts", res.Attempts,
			"transient", res.Transient,
			"failures", d.counters.RemoteFailures,
			"backoff", d.cfg.RemoteBackoff,
		)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
