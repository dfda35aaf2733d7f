package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS orchestration_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	document TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

// SQLiteStore keeps the state document in a single-row SQLite table.
// Transact runs the whole read-modify-write cycle inside BEGIN IMMEDIATE, so
// concurrent hook processes serialise instead of overwriting each other.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	clock func() time.Time
}

// OpenSQLiteStore opens (and migrates) the database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("state: create database directory: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: migrate database: %w", err)
	}
	return &SQLiteStore{db: db, path: path, clock: time.Now}, nil
}

// Path returns the database file.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Load reads the stored document.
func (s *SQLiteStore) Load(ctx context.Context) (State, error) {
	return s.load(ctx, s.db)
}

// Save upserts the document.
func (s *SQLiteStore) Save(ctx context.Context, st State) error {
	return s.save(ctx, s.db, st)
}

// Transact loads, mutates and saves under an exclusive write lock.
func (s *SQLiteStore) Transact(ctx context.Context, mutate func(*State)) Outcome {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return s.unlocked(mutate, fmt.Errorf("state: acquire connection: %w", err))
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return s.unlocked(mutate, fmt.Errorf("state: begin: %w", err))
	}

	st, loadErr := s.load(ctx, conn)
	if loadErr != nil {
		st = New()
	}
	if mutate != nil {
		mutate(&st)
	}
	st.Normalize()

	if err := s.save(ctx, conn, st); err != nil {
		_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		return Outcome{State: st, LoadErr: loadErr, SaveErr: err}
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		return Outcome{State: st, LoadErr: loadErr, SaveErr: fmt.Errorf("state: commit: %w", err)}
	}
	return Outcome{State: st, LoadErr: loadErr}
}

// unlocked still computes the mutation so callers get a decision, but
// reports that nothing was persisted.
func (s *SQLiteStore) unlocked(mutate func(*State), cause error) Outcome {
	st := New()
	if mutate != nil {
		mutate(&st)
	}
	st.Normalize()
	return Outcome{State: st, LoadErr: cause, SaveErr: fmt.Errorf("state: not persisted: %w", cause)}
}

func (s *SQLiteStore) load(ctx context.Context, q queryer) (State, error) {
	var document string
	err := q.QueryRowContext(ctx, `SELECT document FROM orchestration_state WHERE id = 1`).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return New(), nil
	}
	if err != nil {
		return New(), fmt.Errorf("state: query: %w", err)
	}
	st, err := Decode([]byte(document))
	if err != nil {
		return st, fmt.Errorf("state: %s: %w", s.path, err)
	}
	return st, nil
}

func (s *SQLiteStore) save(ctx context.Context, q queryer, st State) error {
	encoded, err := Encode(st)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
INSERT INTO orchestration_state (id, document, updated_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		string(encoded), s.clock().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("state: upsert: %w", err)
	}
	return nil
}
