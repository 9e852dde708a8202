package langlinks

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/cognicore/sfindex/pkg/sfindex/triples"
)

const sameAs = "http://www.w3.org/2002/07/owl#sameAs"

func TestLoad(t *testing.T) {
	opener := triples.MemoryOpener{
		"interlanguage_links_de.ttl": {
			triples.T("http://de.dbpedia.org/resource/Köln", sameAs, "http://fr.dbpedia.org/resource/Cologne"),
			triples.T("http://de.dbpedia.org/resource/Köln", sameAs, "http://dbpedia.org/resource/Cologne"),
			triples.T("http://de.dbpedia.org/resource/Köln", sameAs, "http://dbpedia.org/resource/Koeln"),
			triples.T("http://de.dbpedia.org/resource/Bonn", sameAs, "http://it.dbpedia.org/resource/Bonn"),
		},
	}

	m, err := Load(context.Background(), opener, "interlanguage_links_de.ttl", "de", "en")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m) != 1 {
		t.Fatalf("expected 1 link, got %d: %v", len(m), m)
	}
	if got := m.Lookup("http://de.dbpedia.org/resource/Köln"); got != "http://dbpedia.org/resource/Cologne" {
		t.Errorf("Köln -> %q", got)
	}
	if got := m.Lookup("http://de.dbpedia.org/resource/Bonn"); got != "" {
		t.Errorf("Bonn should have no canonical link, got %q", got)
	}
}

func TestLoadCanonicalLanguageSkipsFile(t *testing.T) {
	// The file does not exist; loading must not touch it.
	m, err := Load(context.Background(), triples.MemoryOpener{}, "interlanguage_links_en.ttl", "en", "en")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m) != 0 {
		t.Errorf("expected empty map, got %v", m)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), triples.MemoryOpener{}, "interlanguage_links_de.ttl", "de", "en")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestNilMapLookup(t *testing.T) {
	var m Map
	if m.Lookup("x") != "" {
		t.Error("nil map lookup should be empty")
	}
}

