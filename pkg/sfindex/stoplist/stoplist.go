package stoplist

import (
	"sort"
	"strings"
)

// Default is the built-in list of function words and punctuation tokens
// that never count as the meaningful part of a surface form.
var Default = []string{
	"but", "i", "a", "about", "an", "and", "are", "as", "at", "be", "by",
	"com", "for", "from", "how", "in", "is", "it", "of", "on", "or", "that",
	"the", "this", "to", "what", "when", "where", "who", "will", "with",
	"www", "before", ",", "after", ";", "like", "such",
}

// Manager holds a lower-cased stopword set.
type Manager struct {
	stops map[string]struct{}
}

// NewManager creates a stoplist from the given words. Words are lower-cased.
func NewManager(initialStops []string) *Manager {
	stops := make(map[string]struct{}, len(initialStops))
	for _, s := range initialStops {
		stops[strings.ToLower(s)] = struct{}{}
	}
	return &Manager{stops: stops}
}

// NewDefault creates a stoplist from Default plus any extra words.
func NewDefault(extra ...string) *Manager {
	m := NewManager(Default)
	for _, s := range extra {
		m.Add(s)
	}
	return m
}

// IsStop checks if a token is a stopword. The token must already be lower-cased.
func (m *Manager) IsStop(token string) bool {
	_, ok := m.stops[token]
	return ok
}

// OnlyStops reports whether every token is a stopword. An empty token list
// counts as only stopwords.
func (m *Manager) OnlyStops(tokens []string) bool {
	for _, tok := range tokens {
		if !m.IsStop(tok) {
			return false
		}
	}
	return true
}

// Add adds a token to the stoplist
func (m *Manager) Add(token string) {
	m.stops[strings.ToLower(token)] = struct{}{}
}

// Remove removes a token from the stoplist
func (m *Manager) Remove(token string) {
	delete(m.stops, strings.ToLower(token))
}

// Len returns the number of stopwords.
func (m *Manager) Len() int {
	return len(m.stops)
}

// All returns all stopwords, sorted.
func (m *Manager) All() []string {
	result := make([]string, 0, len(m.stops))
	for s := range m.stops {
		result = append(result, s)
	}
	sort.Strings(result)
	return result
}
