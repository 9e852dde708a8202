package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/cognicore/sfindex/pkg/sfindex/internalerr"
	"github.com/cognicore/sfindex/pkg/sfindex/store"
)

func berlin() store.Document {
	return store.Document{
		URI:                 "http://dbpedia.org/resource/Berlin",
		Label:               "Berlin",
		ShortAbstract:       "Berlin is the capital of Germany.",
		ImageURI:            "http://commons.wikimedia.org/wiki/Special:FilePath/Berlin.jpg",
		Rank:                120,
		DisambiguationScore: 3.5,
		Types:               []string{"http://dbpedia.org/ontology/City", "http://dbpedia.org/ontology/Place"},
		SurfaceForms:        []string{"Berlin", "Berlin City", "Bärlin"},
	}
}

func cafe() store.Document {
	return store.Document{
		URI:          "http://de.dbpedia.org/resource/Café_Müller",
		CanonicalURI: "http://dbpedia.org/resource/Café_Müller",
		Label:        "Café Müller",
		SurfaceForms: []string{"Café Müller", "Cafe Muller"},
	}
}

// TestSQLiteIntegrationBasic tests writing, committing and reading back documents
func TestSQLiteIntegrationBasic(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")

	if (Backend{}).Exists(dir) {
		t.Fatal("index should not exist yet")
	}

	st, err := OpenSQLite(ctx, dir, store.Create, 16)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()

	if !(Backend{}).Exists(dir) {
		t.Fatal("index should exist after open")
	}

	if err := st.AddBatch(ctx, []store.Document{berlin(), cafe()}); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if err := st.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	n, err := st.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 documents, got %d", n)
	}

	got, found, err := st.Get(ctx, berlin().URI)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("Berlin should be found")
	}
	if !reflect.DeepEqual(got, berlin()) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, berlin())
	}

	got, _, err = st.Get(ctx, cafe().URI)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CanonicalURI != cafe().CanonicalURI {
		t.Errorf("canonical uri mismatch: %q", got.CanonicalURI)
	}

	if _, found, _ := st.Get(ctx, "http://dbpedia.org/resource/Nowhere"); found {
		t.Error("unknown uri should not be found")
	}
}

func TestSQLiteSearch(t *testing.T) {
	ctx := context.Background()
	st, err := OpenSQLite(ctx, t.TempDir(), store.Create, 0)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()

	if err := st.AddBatch(ctx, []store.Document{berlin(), cafe()}); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if err := st.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tests := []struct {
		field string
		query string
		want  []string
	}{
		{"", "city", []string{berlin().URI}},
		{store.FieldSurfaceForms, "muller", []string{cafe().URI}},
		{store.FieldLabel, "capital", nil},
		{store.FieldShortAbstract, "capital", []string{berlin().URI}},
	}
	for _, tt := range tests {
		got, err := st.Search(ctx, tt.field, tt.query, 10)
		if err != nil {
			t.Fatalf("Search(%q, %q): %v", tt.field, tt.query, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Search(%q, %q) = %v, want %v", tt.field, tt.query, got, tt.want)
		}
	}
}

func TestSQLiteCreateAndAppendModes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	write := func(mode store.Mode, docs ...store.Document) {
		t.Helper()
		st, err := OpenSQLite(ctx, dir, mode, 0)
		if err != nil {
			t.Fatalf("OpenSQLite(%s): %v", mode, err)
		}
		if err := st.AddBatch(ctx, docs); err != nil {
			t.Fatalf("AddBatch: %v", err)
		}
		if err := st.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		if err := st.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	count := func() int64 {
		t.Helper()
		st, err := OpenSQLite(ctx, dir, store.Append, 0)
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		defer st.Close()
		n, err := st.Count(ctx)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		return n
	}

	write(store.Create, berlin())
	write(store.Append, cafe())
	if n := count(); n != 2 {
		t.Fatalf("append should keep documents, got %d", n)
	}

	write(store.Create, cafe())
	if n := count(); n != 1 {
		t.Fatalf("create should discard documents, got %d", n)
	}
}

func TestSQLiteCloseCommitsPendingBatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st, err := OpenSQLite(ctx, dir, store.Create, 0)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := st.AddBatch(ctx, []store.Document{berlin()}); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := st.AddBatch(ctx, []store.Document{cafe()}); !errors.Is(err, internalerr.ErrStoreUnavailable) {
		t.Fatalf("AddBatch after Close should fail, got %v", err)
	}

	reopened, err := OpenSQLite(ctx, dir, store.Append, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if n, _ := reopened.Count(ctx); n != 1 {
		t.Fatalf("expected 1 document, got %d", n)
	}
}

func TestSQLiteSingleWriter(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := OpenSQLite(ctx, dir, store.Create, 0)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	if _, err := OpenSQLite(ctx, dir, store.Append, 0); !errors.Is(err, internalerr.ErrStoreUnavailable) {
		t.Fatalf("second writer should be refused, got %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, lockFileName)); !os.IsNotExist(err) {
		t.Fatalf("lock file should be removed on close: %v", err)
	}

	second, err := OpenSQLite(ctx, dir, store.Append, 0)
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	second.Close()
}

func TestSQLiteRecordRun(t *testing.T) {
	ctx := context.Background()
	st, err := OpenSQLite(ctx, t.TempDir(), store.Create, 0)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()

	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	run := store.Run{
		ID:             "01HQ0000000000000000000000",
		Language:       "de",
		StartedAt:      started,
		FinishedAt:     started.Add(time.Hour),
		Processed:      10,
		Indexed:        7,
		NoLabel:        2,
		RemoteFailures: 1,
	}
	if err := st.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	run.Indexed = 8
	if err := st.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun update: %v", err)
	}

	runs, err := st.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if !reflect.DeepEqual(runs[0], run) {
		t.Errorf("run mismatch:\n got %+v\nwant %+v", runs[0], run)
	}
}

var _ store.Backend = Backend{}
var _ store.RunRecorder = (*Store)(nil)
