// Package store is the durable sqlite state of the check engine: checks,
// the queue, checkpoints, non-mutual results and the platform session.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitemigration"
	"zombiezen.com/go/sqlite/sqlitex"

	"igmutual/pkg/logger"
)

// ErrNotFound is returned by updates that match no row
var ErrNotFound = errors.New("not found")

// Store owns a single sqlite connection guarded by a mutex.
// Cross-process safety comes from immediate transactions and busy_timeout.
type Store struct {
	mu     sync.Mutex
	conn   *sqlite.Conn
	logger logger.Logger
	now    func() time.Time
}

// Open opens (creating if needed) and migrates the database at path.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sqlite.OpenConn(path, sqlite.OpenCreate|sqlite.OpenReadWrite|sqlite.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := sqlitex.ExecuteScript(conn, `
		PRAGMA busy_timeout = 5000;
		PRAGMA foreign_keys = ON;
	`, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if err := sqlitemigration.Migrate(ctx, conn, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	s := &Store{
		conn:   conn,
		logger: log.WithField("component", "store"),
		now:    time.Now,
	}
	s.logger.DebugWithFields("Database opened", map[string]interface{}{"path": path})
	return s, nil
}

// Close closes the connection
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// SetClock replaces the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// withConn runs fn with exclusive use of the connection, interruptible by ctx
// and retried while the database is busy.
func (s *Store) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn.SetInterrupt(ctx.Done())
	defer s.conn.SetInterrupt(nil)

	return retryOperation(ctx, func() error {
		return fn(s.conn)
	})
}

// withTx runs fn inside an immediate transaction so the write lock is taken
// before any read.
func (s *Store) withTx(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		endFn, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endFn(&err)
		return fn(conn)
	})
}

func execute(conn *sqlite.Conn, query string, resultFn func(stmt *sqlite.Stmt) error, args ...any) error {
	return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args:       args,
		ResultFunc: resultFn,
	})
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func nullMillis(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func columnTime(stmt *sqlite.Stmt, name string) *time.Time {
	col := stmt.ColumnIndex(name)
	if col < 0 || stmt.ColumnType(col) == sqlite.TypeNull {
		return nil
	}
	t := time.UnixMilli(stmt.ColumnInt64(col))
	return &t
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
