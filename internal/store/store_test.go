package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leads.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	var before int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM statute_authority").Scan(&before); err != nil {
		t.Fatalf("count statute_authority: %v", err)
	}

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	var after int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM statute_authority").Scan(&after); err != nil {
		t.Fatalf("count statute_authority after re-migrate: %v", err)
	}
	if before != after {
		t.Fatalf("re-running migrations changed row count: %d -> %d", before, after)
	}

	var n int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	if n != len(migrations) {
		t.Fatalf("schema_migrations has %d rows, want %d", n, len(migrations))
	}
}

func TestTxCommitsOnSuccess(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	err := s.Tx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			"INSERT INTO users (id, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			"u1", "a@example.com", "hash", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z")
		return err
	})
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}

	var n int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE id = 'u1'").Scan(&n); err != nil {
		t.Fatalf("count users: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected committed row, got count %d", n)
	}
}

func TestTxRollsBackOnError(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	wantErr := context.DeadlineExceeded
	err := s.Tx(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx,
			"INSERT INTO users (id, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			"u2", "b@example.com", "hash", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z"); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("Tx error = %v, want %v", err, wantErr)
	}

	var n int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE id = 'u2'").Scan(&n); err != nil {
		t.Fatalf("count users: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected rollback, but row is present (count %d)", n)
	}
}

// TestTxSerializesWriters exercises the property the founders-cap claim
// and wallet unlock depend on: concurrent BEGIN IMMEDIATE writers never
// interleave, so a count-then-insert pattern is race-free.
func TestTxSerializesWriters(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	const founderCap = 3
	const attempts = 10
	var wg sync.WaitGroup
	claimed := make([]bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Tx(ctx, func(conn *sql.Conn) error {
				var n int
				if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM founders_slots").Scan(&n); err != nil {
					return err
				}
				if n >= founderCap {
					return nil
				}
				userID := "u-founder-" + time.Now().Format("150405.000000000") + "-" + strconv.Itoa(i)
				if _, err := conn.ExecContext(ctx,
					"INSERT INTO users (id, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
					userID, userID+"@example.com", "hash", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z"); err != nil {
					return err
				}
				if _, err := conn.ExecContext(ctx,
					"INSERT INTO founders_slots (user_id, claimed_at) VALUES (?, ?)",
					userID, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
					return err
				}
				claimed[i] = true
				return nil
			})
		}(i)
	}
	wg.Wait()

	var n int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM founders_slots").Scan(&n); err != nil {
		t.Fatalf("count founders_slots: %v", err)
	}
	if n != founderCap {
		t.Fatalf("founders_slots count = %d, want exactly %d under concurrent claims", n, founderCap)
	}
}
