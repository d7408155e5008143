package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/lyrebird/internal/model"
)

const (
	schemaVersion  = 1
	schemaChecksum = "lb-v1-runs-json-audit"
)

// SQLite keeps runs as JSON documents in a single table. Stage, version and
// updated_at are duplicated into columns for listing and retention. The
// run_audit table receives the audit journal mirror when the serve command
// wires it.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("store: sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db}
	if err := s.configurePragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Driver() string { return DriverSQLite }

func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) configurePragmas(ctx context.Context) error {
	for _, q := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;"} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			stage TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			body TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_updated_at ON runs(updated_at);`,
		`CREATE TABLE IF NOT EXISTS run_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at INTEGER NOT NULL,
			kind TEXT NOT NULL,
			run_id TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, schemaVersion).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, checksum) VALUES (?, ?);`, schemaVersion, schemaChecksum); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema checksum: %w", err)
	case existing != schemaChecksum:
		return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", schemaVersion, existing, schemaChecksum)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*model.Run, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM runs WHERE id = ?;`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	var run model.Run
	if err := json.Unmarshal([]byte(body), &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &run, nil
}

func (s *SQLite) Set(ctx context.Context, run *model.Run) error {
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO runs (id, stage, version, updated_at, body) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				stage = excluded.stage,
				version = excluded.version,
				updated_at = excluded.updated_at,
				body = excluded.body;`,
			run.ID, string(run.Stage), run.Version, run.UpdatedAt.UnixNano(), string(body))
		if err != nil {
			return fmt.Errorf("set run %s: %w", run.ID, err)
		}
		return nil
	})
}

func (s *SQLite) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?;`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists run %s: %w", id, err)
	}
	return true, nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context) ([]model.RunState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM runs ORDER BY updated_at DESC, id ASC;`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	states := []model.RunState{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var run model.Run
		if err := json.Unmarshal([]byte(body), &run); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		states = append(states, run.State())
	}
	return states, rows.Err()
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

func (s *SQLite) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE updated_at < ?;`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// retryOnBusy retries f while SQLite reports BUSY or LOCKED, backing off
// exponentially from 50ms up to 500ms with jitter.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil || !isSQLiteBusy(err) || attempt == maxRetries {
			return err
		}
		delay := min(baseDelay<<uint(attempt), maxDelay)
		delay = delay - delay/4 + time.Duration(rand.IntN(int(delay/2)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
