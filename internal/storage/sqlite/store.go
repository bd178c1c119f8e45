// Package sqlite implements the store protocol on a single-file SQLite
// database with write-ahead logging.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/ratecurve/cashpipe/internal/storage"
)

// querier is satisfied by *sql.DB and *sql.Conn so the same data-access
// helpers serve both auto-commit and transactional paths.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite-backed store handle.
type Store struct {
	ops
	db   *sql.DB
	path string
}

var _ storage.Store = (*Store)(nil)

// New opens (creating if necessary) the database at dbPath, applies pragmas,
// the schema, and all migrations.
func New(ctx context.Context, dbPath string) (*Store, error) {
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{ops: ops{q: db}, db: db, path: dbPath}, nil
}

// InTransaction runs fn against a transaction-scoped Ops. BEGIN IMMEDIATE
// acquires the write lock early so competing writers serialize instead of
// deadlocking; SQLITE_BUSY is retried with backoff.
func (s *Store) InTransaction(ctx context.Context, fn func(storage.Ops) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn, 5, 10*time.Millisecond); err != nil {
		return fmt.Errorf("failed to begin immediate transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(&txOps{ops{q: conn}}); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// txOps is the transaction-scoped Ops implementation.
type txOps struct{ ops }

var _ storage.Ops = (*txOps)(nil)

// CheckpointWAL truncates the write-ahead log back into the main file.
func (s *Store) CheckpointWAL(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("wal checkpoint failed: %w", err)
	}
	return nil
}

// UnderlyingDB exposes the raw handle for health checks and tests.
func (s *Store) UnderlyingDB() *sql.DB { return s.db }

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// beginImmediateWithRetry handles SQLITE_BUSY with exponential backoff.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn, attempts int, initial time.Duration) error {
	delay := initial
	var lastErr error
	for i := 0; i < attempts; i++ {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		lastErr = err
		if !isBusyError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
