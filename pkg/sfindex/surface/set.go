package surface

import "sort"

// Set is a set of surface forms.
type Set map[string]struct{}

// NewSet builds a set from items.
func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Add inserts v.
func (s Set) Add(v string) { s[v] = struct{}{} }

// Has reports whether v is in the set.
func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Map associates canonical concept URIs with their surface forms.
type Map map[string]Set

// Add records form as a surface form of uri.
func (m Map) Add(uri, form string) {
	set, ok := m[uri]
	if !ok {
		set = make(Set)
		m[uri] = set
	}
	set.Add(form)
}

// Keys returns the URIs in lexical order.
func (m Map) Keys() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FormCount returns the total number of surface forms across all URIs.
func (m Map) FormCount() int {
	n := 0
	for _, set := range m {
		n += len(set)
	}
	return n
}
