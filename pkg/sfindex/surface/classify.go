// Package surface discovers the alternate names ("surface forms") of the
// canonical concepts in a linked-data dump.
package surface

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cognicore/sfindex/internal/logger"
	"github.com/cognicore/sfindex/pkg/sfindex/stoplist"
)

// MaxSurfaceFormLength is the maximum length of a surface form in characters.
const MaxSurfaceFormLength = 50

// badURIMarkers mark list pages, disambiguation pages and fragment or
// sub-page URIs, which are navigational rather than entities.
var badURIMarkers = []string{
	"Liste_",
	"(Begriffsklärung)",
	"List_of_",
	"(Disambiguation)",
	"/",
	"%23",
}

// Classifier decides which URIs denote concepts and which strings are usable names.
type Classifier struct {
	stops  *stoplist.Manager
	maxLen int
}

// NewClassifier creates a classifier backed by the given stoplist. A nil
// stoplist falls back to stoplist.Default.
func NewClassifier(stops *stoplist.Manager) *Classifier {
	if stops == nil {
		stops = stoplist.NewDefault()
	}
	return &Classifier{stops: stops, maxLen: MaxSurfaceFormLength}
}

// MaxLength returns the maximum accepted surface form length in characters.
func (c *Classifier) MaxLength() int { return c.maxLen }

// IsGoodURI reports whether a local name (the last path segment of a URI)
// looks like a genuine concept.
func (c *Classifier) IsGoodURI(localName string) bool {
	for _, marker := range badURIMarkers {
		if strings.Contains(localName, marker) {
			logger.Debug("Rejected uri", "local_name", localName, "marker", marker)
			return false
		}
	}
	if !hasLetter(localName) {
		logger.Debug("Rejected uri", "local_name", localName, "reason", "no letters")
		return false
	}
	return true
}

// IsGoodSurfaceForm reports whether name is short enough, contains letters
// and has at least one token that is not a stopword.
func (c *Classifier) IsGoodSurfaceForm(name string) bool {
	if utf8.RuneCountInString(name) > c.maxLen {
		logger.Debug("Rejected surface form", "form", name, "reason", "too long")
		return false
	}
	if !hasLetter(name) {
		logger.Debug("Rejected surface form", "form", name, "reason", "no letters")
		return false
	}
	if c.stops.OnlyStops(strings.Fields(strings.ToLower(name))) {
		logger.Debug("Rejected surface form", "form", name, "reason", "only stopwords")
		return false
	}
	return true
}

// hasLetter reports whether s contains at least one letter. Strings made
// only of digits, punctuation, symbols and spaces have none.
func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// LocalName returns the part of uri after its last slash.
func LocalName(uri string) string {
	return uri[strings.LastIndexByte(uri, '/')+1:]
}
