package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

// Store is the durable persistence layer for the incident lifecycle engine.
// Mutations that run through WriteTx (incident creation and lifecycle
// changes, claims, participants, sessions, events, notification enqueue)
// are serialized through writerMu. The single-statement writes for
// companies, groups, departments, memberships, users, pinned message ids and
// notification status run directly against s.db and do not take writerMu.
// Reads run against s.db directly and may proceed concurrently with each
// other.
type Store struct {
	db       *sql.DB
	writerMu sync.Mutex
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, letting read helpers run
// either inside a write transaction or standalone against the pool.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens (creating if necessary) the sqlite-backed store at path,
// applies the schema, runs best-effort migrations, and seeds default
// departments for any legacy company missing one.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1 << 4)

	s := &Store{db: db}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := s.applyMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	if err := s.migrateLegacyTierSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate legacy schema: %w", err)
	}
	if err := s.seedDefaultDepartments(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed default departments: %w", err)
	}

	return s, nil
}

// DB exposes the underlying handle for callers (migrate CLI, tests) that
// need raw access.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// WriteTx acquires the process-wide writer lock, runs fn inside a single
// transaction, and commits on success or rolls back on error/panic. No
// adapter I/O may happen inside fn — only store mutations, per spec.md §5's
// "no business-logic function holds the writer lock across adapter I/O".
func (s *Store) WriteTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("rollback failed after write error")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isDuplicateColumnErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate column name") || strings.Contains(msg, "already exists")
}
