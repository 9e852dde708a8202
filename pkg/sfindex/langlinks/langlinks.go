// Package langlinks loads the mapping from localized entity URIs to their
// canonical cross-language URIs.
package langlinks

import (
	"context"
	"fmt"
	"strings"

	"github.com/cognicore/sfindex/internal/logger"
	"github.com/cognicore/sfindex/pkg/sfindex/triples"
)

// CanonicalPrefix is the URI prefix of the canonical (English) knowledge base.
const CanonicalPrefix = "http://dbpedia.org"

// Map associates a localized entity URI with its canonical URI.
type Map map[string]string

// Lookup returns the canonical URI of uri, or "".
func (m Map) Lookup(uri string) string {
	if m == nil {
		return ""
	}
	return m[uri]
}

// Load reads the inter-language links file. Only links pointing into the
// canonical knowledge base are kept, and the first link of a subject wins.
// When language is the canonical language the file is not read and an
// empty map is returned.
func Load(ctx context.Context, opener triples.Opener, name, language, canonical string) (Map, error) {
	m := make(Map)
	if language == canonical {
		return m, nil
	}

	err := triples.Each(ctx, opener, name, func(t triples.Triple) error {
		target := t.Object.Value
		if !strings.HasPrefix(target, CanonicalPrefix) {
			return nil
		}
		if _, seen := m[t.Subject.Value]; !seen {
			m[t.Subject.Value] = target
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load language links %s: %w", name, err)
	}

	logger.Info("Loaded language links", "file", name, "links", len(m))
	return m, nil
}
