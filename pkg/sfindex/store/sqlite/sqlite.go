package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/sfindex/internal/logger"
	"github.com/cognicore/sfindex/pkg/sfindex/internalerr"
	"github.com/cognicore/sfindex/pkg/sfindex/store"
)

const (
	dbFileName   = "documents.db"
	lockFileName = "write.lock"
)

// Backend opens SQLite indexes. An index location is a directory holding the
// database file and, while a writer is open, a lock file.
type Backend struct{}

// Exists implements store.Backend.
func (Backend) Exists(path string) bool {
	_, err := os.Stat(filepath.Join(path, dbFileName))
	return err == nil
}

// Open implements store.Backend.
func (Backend) Open(ctx context.Context, path string, mode store.Mode, bufferMB float64) (store.Store, error) {
	return OpenSQLite(ctx, path, mode, bufferMB)
}

// Store implements store.Store. Batches are written into one open
// transaction; Commit makes them durable and starts the next one.
type Store struct {
	mu       sync.Mutex
	db       *sql.DB
	tx       *sql.Tx
	lockPath string
	closed   bool
}

// OpenSQLite opens the index in directory path with WAL mode enabled.
// bufferMB sizes the page cache.
func OpenSQLite(ctx context.Context, path string, mode store.Mode, bufferMB float64) (*Store, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}

	lockPath := filepath.Join(path, lockFileName)
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: index %s is locked by another writer (remove %s if stale)",
				internalerr.ErrStoreUnavailable, path, lockPath)
		}
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}
	fmt.Fprintf(lock, "%d\n", os.Getpid())
	lock.Close()

	s, err := open(ctx, filepath.Join(path, dbFileName), mode, bufferMB)
	if err != nil {
		os.Remove(lockPath)
		return nil, err
	}
	s.lockPath = lockPath
	logger.Info("Opened index", "path", path, "mode", mode.String(), "buffer_mb", bufferMB)
	return s, nil
}

func open(ctx context.Context, file string, mode store.Mode, bufferMB float64) (*Store, error) {
	dsn := "file:" + file + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	if bufferMB > 0 {
		// a negative cache_size is a size in KiB
		dsn += fmt.Sprintf("&_pragma=cache_size(%d)", -int64(bufferMB*1024))
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}

	if mode == store.Create {
		if err := dropSchema(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
		}
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}
	return &Store{db: db, tx: tx}, nil
}

func dropSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
DROP TABLE IF EXISTS text_fields;
DROP TABLE IF EXISTS exact_fields;
DROP TABLE IF EXISTS documents;
`)
	return err
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS documents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uri TEXT NOT NULL,
	pagerank INTEGER NOT NULL DEFAULT 0,
	disambiguation_score REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS documents_uri ON documents(uri);

CREATE TABLE IF NOT EXISTS exact_fields (
	doc_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	value TEXT NOT NULL,
	FOREIGN KEY(doc_id) REFERENCES documents(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS exact_fields_value ON exact_fields(name, value);

CREATE VIRTUAL TABLE IF NOT EXISTS text_fields USING fts5(
	doc_id UNINDEXED,
	name UNINDEXED,
	value
);

CREATE TABLE IF NOT EXISTS index_runs (
	id TEXT PRIMARY KEY,
	language TEXT,
	started_at TEXT,
	finished_at TEXT,
	processed INTEGER NOT NULL DEFAULT 0,
	indexed INTEGER NOT NULL DEFAULT 0,
	no_label INTEGER NOT NULL DEFAULT 0,
	remote_failures INTEGER NOT NULL DEFAULT 0
);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// AddBatch writes docs into the open transaction.
func (s *Store) AddBatch(ctx context.Context, docs []store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: store closed", internalerr.ErrStoreUnavailable)
	}

	docStmt, err := s.tx.PrepareContext(ctx,
		`INSERT INTO documents (uri, pagerank, disambiguation_score) VALUES (?, ?, ?) RETURNING id`)
	if err != nil {
		return err
	}
	defer docStmt.Close()
	exactStmt, err := s.tx.PrepareContext(ctx, `INSERT INTO exact_fields (doc_id, name, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer exactStmt.Close()
	textStmt, err := s.tx.PrepareContext(ctx, `INSERT INTO text_fields (doc_id, name, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer textStmt.Close()

	for _, d := range docs {
		var docID int64
		if err := docStmt.QueryRowContext(ctx, d.URI, d.Rank, d.DisambiguationScore).Scan(&docID); err != nil {
			return fmt.Errorf("insert document %s: %w", d.URI, err)
		}
		for _, f := range d.Fields() {
			switch f.Kind {
			case store.Exact:
				if f.Name == store.FieldURI {
					continue
				}
				_, err = exactStmt.ExecContext(ctx, docID, f.Name, f.Value)
			case store.Text:
				_, err = textStmt.ExecContext(ctx, docID, f.Name, f.Value)
			default:
				// numeric fields live on the documents row
				continue
			}
			if err != nil {
				return fmt.Errorf("insert field %s of %s: %w", f.Name, d.URI, err)
			}
		}
	}
	return nil
}

// Commit makes all added batches durable.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: store closed", internalerr.ErrStoreUnavailable)
	}
	if err := s.tx.Commit(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	s.tx = tx
	return nil
}

// Close commits outstanding work, closes the database and releases the lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.tx.Commit(); err != nil {
		errs = append(errs, err)
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.lockPath != "" {
		if err := os.Remove(s.lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordRun stores the summary of a run. It is written outside the batch
// transaction so it survives even when the run's last batch does not.
func (s *Store) RecordRun(ctx context.Context, run store.Run) error {
	const stmt = `
INSERT INTO index_runs (id, language, started_at, finished_at, processed, indexed, no_label, remote_failures)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	finished_at=excluded.finished_at,
	processed=excluded.processed,
	indexed=excluded.indexed,
	no_label=excluded.no_label,
	remote_failures=excluded.remote_failures;
`
	_, err := s.db.ExecContext(ctx, stmt,
		run.ID,
		run.Language,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.FinishedAt.UTC().Format(time.RFC3339),
		run.Processed,
		run.Indexed,
		run.NoLabel,
		run.RemoteFailures,
	)
	return err
}

// Runs returns the recorded runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]store.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, language, started_at, finished_at, processed, indexed, no_label, remote_failures
FROM index_runs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var r store.Run
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Language, &started, &finished,
			&r.Processed, &r.Indexed, &r.NoLabel, &r.RemoteFailures); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Count returns the number of committed documents.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// Search runs a full-text query over the analyzed fields and returns the
// URIs of matching committed documents, most ambiguous first. A non-empty
// field restricts matching to that field.
func (s *Store) Search(ctx context.Context, field, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	inner := `SELECT doc_id FROM text_fields WHERE text_fields MATCH ?`
	args := []interface{}{query}
	if field != "" {
		inner += ` AND name = ?`
		args = append(args, field)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
SELECT uri FROM documents
WHERE id IN (`+inner+`)
ORDER BY disambiguation_score DESC, uri
LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// Get loads the first committed document with the given URI.
func (s *Store) Get(ctx context.Context, uri string) (store.Document, bool, error) {
	var (
		id    int64
		rank  int64
		score float64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, pagerank, disambiguation_score FROM documents WHERE uri = ? ORDER BY id LIMIT 1`, uri,
	).Scan(&id, &rank, &score)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, false, nil
	}
	if err != nil {
		return store.Document{}, false, err
	}

	fields := []store.Field{
		{Name: store.FieldURI, Kind: store.Exact, Value: uri},
		{Name: store.FieldRank, Kind: store.Int, Int: rank},
		{Name: store.FieldDisambiguationScore, Kind: store.Float, Float: score},
	}
	for _, q := range []struct {
		kind  store.FieldKind
		query string
	}{
		{store.Exact, `SELECT name, value FROM exact_fields WHERE doc_id = ? ORDER BY rowid`},
		{store.Text, `SELECT name, value FROM text_fields WHERE doc_id = ? ORDER BY rowid`},
	} {
		rows, err := s.db.QueryContext(ctx, q.query, id)
		if err != nil {
			return store.Document{}, false, err
		}
		for rows.Next() {
			f := store.Field{Kind: q.kind}
			if err := rows.Scan(&f.Name, &f.Value); err != nil {
				rows.Close()
				return store.Document{}, false, err
			}
			fields = append(fields, f)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return store.Document{}, false, err
		}
	}
	return store.Assemble(fields), true, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
