// cmd/migrate applies every pending schema migration against the SQLite
// lead store, recording each applied version in schema_migrations so
// re-running is a no-op.
//
// Usage:
//
//	go run ./cmd/migrate
//	STORE_PATH=./data/surplustrust.db go run ./cmd/migrate
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/surplustrust/platform/internal/store"
)

const defaultStorePath = "surplustrust.db"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	path := os.Getenv("STORE_PATH")
	if path == "" {
		path = defaultStorePath
	}

	st, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	fmt.Printf("connected to %s\n", path)

	before, err := countApplied(st.DB)
	if err != nil {
		return fmt.Errorf("count applied migrations: %w", err)
	}

	if err := st.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	after, err := countApplied(st.DB)
	if err != nil {
		return fmt.Errorf("count applied migrations: %w", err)
	}

	if after == before {
		fmt.Println("nothing to migrate — already up to date")
	} else {
		fmt.Printf("applied %d migration(s)\n", after-before)
	}
	return nil
}

func countApplied(db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(context.Background(), `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name = 'schema_migrations'`).Scan(&n)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
