// Package fetch resolves the descriptive attributes of an entity against a
// SPARQL endpoint.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/html"

	"github.com/cognicore/sfindex/internal/logger"
	"github.com/cognicore/sfindex/pkg/sfindex/internalerr"
	"github.com/cognicore/sfindex/pkg/sfindex/langlinks"
	"github.com/cognicore/sfindex/pkg/sfindex/metrics"
	"github.com/cognicore/sfindex/pkg/sfindex/sparql"
	"github.com/cognicore/sfindex/pkg/sfindex/store"
)

// Outcome classifies a fetch.
type Outcome int

const (
	// OK means Result.Document is ready to index.
	OK Outcome = iota
	// NoLabel means the endpoint answered but had no label for the entity.
	NoLabel
	// RemoteFailure means every query attempt failed.
	RemoteFailure
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case NoLabel:
		return "no_label"
	case RemoteFailure:
		return "remote_failure"
	default:
		return "unknown"
	}
}

// Result is the outcome of fetching one entity.
type Result struct {
	Outcome  Outcome
	Document store.Document
	Attempts int
	Cause    error
	// Transient is set on a RemoteFailure whose last error was a network
	// error or a 5xx/429 answer, i.e. the endpoint may recover.
	Transient bool
}

// Err maps a non-OK outcome onto internalerr sentinels.
func (r Result) Err() error {
	switch r.Outcome {
	case OK:
		return nil
	case NoLabel:
		return internalerr.ErrNoLabel
	default:
		if r.Cause != nil && errors.Is(r.Cause, internalerr.ErrRemoteQuery) {
			return r.Cause
		}
		return fmt.Errorf("%w: %v", internalerr.ErrRemoteQuery, r.Cause)
	}
}

// Options configures a Fetcher.
type Options struct {
	Graph       string
	MaxAttempts int
	RetryDelay  time.Duration
	// ScoreCacheSize bounds the disambiguation score cache; 0 disables it.
	ScoreCacheSize int
	Metrics        *metrics.Metrics
}

// DefaultOptions returns the production retry settings.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:    10,
		RetryDelay:     5 * time.Millisecond,
		ScoreCacheSize: 100000,
	}
}

// Fetcher builds documents from endpoint data. It is safe for concurrent use.
type Fetcher struct {
	q      sparql.Querier
	opts   Options
	scores *lru.Cache[string, float64]
}

// New creates a fetcher querying q.
func New(q sparql.Querier, opts Options) (*Fetcher, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: fetch: querier required", internalerr.ErrInvalidInput)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	f := &Fetcher{q: q, opts: opts}
	if opts.ScoreCacheSize > 0 {
		cache, err := lru.New[string, float64](opts.ScoreCacheSize)
		if err != nil {
			return nil, err
		}
		f.scores = cache
	}
	return f, nil
}

// Fetch queries the attributes of uri and assembles its document. forms
// become the document's surface forms; links supplies the canonical URI.
func (f *Fetcher) Fetch(ctx context.Context, uri string, forms []string, links langlinks.Map) Result {
	start := time.Now()
	defer func() { f.opts.Metrics.ObserveFetch(time.Since(start)) }()

	rows, attempts, err := f.selectWithRetry(ctx, uri)
	f.opts.Metrics.AddQueryAttempts(attempts)
	if err != nil {
		transient := sparql.IsTransient(err)
		logger.Warn("Attribute query failed", "uri", uri, "attempts", attempts, "transient", transient, "err", err)
		return Result{Outcome: RemoteFailure, Attempts: attempts, Cause: err, Transient: transient}
	}

	doc, ok := f.reduce(uri, rows)
	if !ok {
		return Result{Outcome: NoLabel, Attempts: attempts}
	}
	doc.CanonicalURI = links.Lookup(uri)
	doc.SurfaceForms = append([]string(nil), forms...)
	doc.DisambiguationScore = f.Score(ctx, uri)

	return Result{Outcome: OK, Document: doc, Attempts: attempts}
}

func (f *Fetcher) selectWithRetry(ctx context.Context, uri string) ([]sparql.Row, int, error) {
	query := AttributeQuery(uri, f.opts.Graph)

	var rows []sparql.Row
	attempts := 0
	op := func() error {
		attempts++
		var err error
		rows, err = f.q.Select(ctx, query, f.opts.Graph)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(f.opts.RetryDelay), uint64(f.opts.MaxAttempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		logger.Debug("Retrying attribute query", "uri", uri, "attempt", attempts, "wait", wait, "err", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, attempts, err
	}
	return rows, attempts, nil
}

// reduce builds a document from the result rows: scalars come from the first
// row and every row may add one type. ok is false when there is no label.
func (f *Fetcher) reduce(uri string, rows []sparql.Row) (store.Document, bool) {
	if len(rows) == 0 {
		return store.Document{}, false
	}
	first := rows[0]
	label, _ := first.Value("label")
	label = cleanText(label)
	if label == "" {
		return store.Document{}, false
	}

	doc := store.Document{
		URI:   decodeURI(uri),
		Label: label,
	}
	if abstract, ok := first.Value("abstract"); ok {
		doc.ShortAbstract = cleanText(abstract)
	}
	if image, ok := first.Value("imageUrl"); ok {
		doc.ImageURI = image
	}
	if raw, ok := first.Value("rank"); ok {
		rank, err := ParseRank(raw)
		if err != nil {
			f.opts.Metrics.AddDecodeErrors(1)
			logger.Debug("Unparseable rank", "uri", uri, "rank", raw, "err", err)
		}
		doc.Rank = rank
	}

	seen := make(map[string]struct{})
	for _, row := range rows {
		t, ok := row.Value("types")
		if !ok || t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		doc.Types = append(doc.Types, t)
	}
	return doc, true
}

// Score returns ln(n+1) where n is the number of triples pointing at uri.
// Failures score 0 and are not cached.
func (f *Fetcher) Score(ctx context.Context, uri string) float64 {
	if f.scores != nil {
		if v, ok := f.scores.Get(uri); ok {
			return v
		}
	}

	rows, err := f.q.Select(ctx, ScoreQuery(uri), f.opts.Graph)
	if err != nil {
		logger.Debug("Score query failed", "uri", uri, "err", err)
		return 0
	}
	var count int
	if len(rows) > 0 {
		if raw, ok := rows[0].Value("cnt"); ok {
			if count, err = ParseRank(raw); err != nil {
				logger.Debug("Unparseable count", "uri", uri, "count", raw, "err", err)
				return 0
			}
		}
	}

	score := math.Log(float64(count) + 1)
	if f.scores != nil {
		f.scores.Add(uri, score)
	}
	return score
}

// ParseRank parses an integer literal, tolerating a trailing datatype
// ("42^^http://www.w3.org/2001/XMLSchema#integer"). Empty input is 0.
func ParseRank(raw string) (int, error) {
	if i := strings.Index(raw, xsdSuffix); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: rank %q: %v", internalerr.ErrDecode, raw, err)
	}
	return n, nil
}

// decodeURI percent-decodes uri, keeping the raw form when that fails.
func decodeURI(uri string) string {
	decoded, err := url.PathUnescape(uri)
	if err != nil || !utf8.ValidString(decoded) {
		return uri
	}
	return decoded
}

// cleanText removes markup from a literal and trims it.
func cleanText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}

	var buf strings.Builder
	var extractText func(*html.Node)
	extractText = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extractText(c)
		}
	}
	extractText(doc)

	return strings.TrimSpace(buf.String())
}
