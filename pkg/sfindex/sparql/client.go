// Package sparql is a minimal SPARQL 1.1 protocol client returning JSON
// result bindings.
package sparql

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/cognicore/sfindex/pkg/sfindex/internalerr"
)

const resultsMediaType = "application/sparql-results+json"

// Binding is one bound variable of a result row.
type Binding struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
	Lang     string `json:"xml:lang,omitempty"`
}

// Row maps variable names to their bindings. Unbound variables are absent.
type Row map[string]Binding

// Value returns the value bound to name and whether it was bound.
func (r Row) Value(name string) (string, bool) {
	b, ok := r[name]
	return b.Value, ok
}

type resultsDocument struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []Row `json:"bindings"`
	} `json:"results"`
}

// Querier runs SELECT queries. *Client implements it.
type Querier interface {
	Select(ctx context.Context, query, graph string) ([]Row, error)
}

// Client calls a SPARQL endpoint over HTTP GET.
type Client struct {
	Endpoint string

	HTTPClient *http.Client
	// Limiter, when set, bounds the request rate against the endpoint.
	Limiter *rate.Limiter
}

// NewClient creates a client. rps <= 0 disables rate limiting.
func NewClient(endpoint string, timeout time.Duration, rps float64) *Client {
	c := &Client{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if rps > 0 {
		c.Limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return c
}

// Select runs query with graph as the default graph (omitted when empty)
// and returns the result rows.
func (c *Client) Select(ctx context.Context, query, graph string) ([]Row, error) {
	if c.Endpoint == "" {
		return nil, fmt.Errorf("sparql: endpoint required")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params := url.Values{}
	params.Set("query", query)
	if graph != "" {
		params.Set("default-graph-uri", graph)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", resultsMediaType)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewTransientError(fmt.Errorf("%w: %v", internalerr.ErrRemoteQuery, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%w: status %d: %s", internalerr.ErrRemoteQuery, resp.StatusCode, body)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, NewTransientError(err)
		}
		return nil, err
	}

	var doc resultsDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: sparql results: %v", internalerr.ErrDecode, err)
	}
	return doc.Results.Bindings, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}
