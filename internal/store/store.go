// Package store provides the embedded, WAL-mode SQLite lead store shared
// by every write path in the platform (leads, wallets, ledgers, webhooks).
// It centralizes the BEGIN IMMEDIATE transaction discipline spec.md §4.5
// and §9 require: every writer serializes through a single advisory lock
// equivalent, while readers proceed concurrently against the WAL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a *sql.DB opened against a single SQLite file in WAL mode.
type Store struct {
	DB *sql.DB
}

// Open opens (creating if absent) the SQLite file at path with the pragmas
// spec.md §4.5 requires: durable writes (WAL), foreign-key enforcement,
// and a bounded busy-wait on writer contention.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(2000)&_pragma=synchronous(NORMAL)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	// SQLite permits exactly one writer; cap the pool so readers don't
	// queue behind connections SQLite itself would serialize anyway.
	db.SetMaxOpenConns(8)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Tx runs fn inside a BEGIN IMMEDIATE transaction: the write lock is
// acquired up front rather than optimistically on first write, which is
// what spec.md §4.5 and §4.7 call "immediate-lock semantics" — the literal
// mechanism that makes the founders-cap claim and the wallet unlock
// algorithm race-free under SQLite's single-writer model.
//
// database/sql's own *sql.Tx has no portable way to request BEGIN
// IMMEDIATE, so Tx pins a single physical connection (*sql.Conn) and
// issues the literal SQL itself; fn runs all its statements against that
// same connection. fn's error (if any) rolls the transaction back,
// otherwise it commits.
func (s *Store) Tx(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin immediate: %w", err)
	}

	if err := fn(conn); err != nil {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// TxTimeout is the default ceiling for a single write transaction, per
// spec.md §5 ("database transactions ≤ 2s with retry").
const TxTimeout = 2 * time.Second
