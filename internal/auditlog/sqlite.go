package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// conn is the minimal surface SQLiteLog needs from either *sql.DB or the
// pinned *sql.Conn a store.Store.Tx hands to callers.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// txRunner matches store.Store.Tx's signature without importing the store
// package, keeping auditlog free of a dependency cycle.
type txRunner func(ctx context.Context, fn func(c *sql.Conn) error) error

// SQLiteLog persists the hash-chained pipeline_events table.
type SQLiteLog struct {
	db     conn
	withTx txRunner
	logger *zap.Logger
}

// NewSQLiteLog creates a SQLiteLog. db is used for reads; withTx must run
// fn inside a BEGIN IMMEDIATE (or stronger) write transaction — pass
// (*store.Store).Tx.
func NewSQLiteLog(db conn, withTx txRunner, logger *zap.Logger) (*SQLiteLog, error) {
	l := &SQLiteLog{db: db, withTx: withTx, logger: logger}
	if err := l.ensureGenesis(context.Background()); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLog) ensureGenesis(ctx context.Context) error {
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pipeline_events").Scan(&n); err != nil {
		return fmt.Errorf("count pipeline_events: %w", err)
	}
	if n > 0 {
		return nil
	}
	now := time.Now().UTC()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO pipeline_events (idx, timestamp, target_id, type, old, new, actor, reason, meta_hash, prev_hash, hash)
		VALUES (0, ?, '', 'genesis', '', '', 'system', '', ?, ?, ?)`,
		now.Format(time.RFC3339Nano), GenesisHash, GenesisHash, GenesisHash,
	)
	if err != nil {
		return fmt.Errorf("insert genesis entry: %w", err)
	}
	return nil
}

// Append implements Log.
func (l *SQLiteLog) Append(ctx context.Context, targetID, typ, old, new, actor, reason string, meta any) (*Entry, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}
	metaHash := sha256Sum(metaJSON)

	var out *Entry
	err = l.withTx(ctx, func(c *sql.Conn) error {
		var prevIdx int
		var prevHash string
		if err := c.QueryRowContext(ctx,
			"SELECT idx, hash FROM pipeline_events ORDER BY idx DESC LIMIT 1",
		).Scan(&prevIdx, &prevHash); err != nil {
			return fmt.Errorf("read chain tail: %w", err)
		}

		entry := &Entry{
			Index:     prevIdx + 1,
			Timestamp: time.Now().UTC(),
			TargetID:  targetID,
			Type:      typ,
			Old:       old,
			New:       new,
			Actor:     actor,
			Reason:    reason,
			MetaHash:  metaHash,
			PrevHash:  prevHash,
		}
		entry.Hash = hashEntry(entry)

		if _, err := c.ExecContext(ctx, `
			INSERT INTO pipeline_events (idx, timestamp, target_id, type, old, new, actor, reason, meta_hash, prev_hash, hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.Index, entry.Timestamp.Format(time.RFC3339Nano), entry.TargetID, entry.Type,
			entry.Old, entry.New, entry.Actor, entry.Reason, entry.MetaHash, entry.PrevHash, entry.Hash,
		); err != nil {
			return fmt.Errorf("insert pipeline_event: %w", err)
		}

		out = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Debug("pipeline event appended",
		zap.Int("idx", out.Index), zap.String("type", out.Type), zap.String("target_id", out.TargetID))
	return out, nil
}

// Get implements Log.
func (l *SQLiteLog) Get(ctx context.Context, index int) (*Entry, error) {
	return l.scanOne(l.db.QueryRowContext(ctx, selectEntryCols+" WHERE idx = ?", index))
}

// Len implements Log.
func (l *SQLiteLog) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pipeline_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count pipeline_events: %w", err)
	}
	return n, nil
}

// ForTarget implements Log.
func (l *SQLiteLog) ForTarget(ctx context.Context, targetID string) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, selectEntryCols+" WHERE target_id = ? ORDER BY idx ASC", targetID)
	if err != nil {
		return nil, fmt.Errorf("query pipeline_events: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Verify implements Log.
func (l *SQLiteLog) Verify(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx, selectEntryCols+" ORDER BY idx ASC")
	if err != nil {
		return fmt.Errorf("query pipeline_events: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if prev == nil {
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			prev = curr
			continue
		}
		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.Hash != hashEntry(curr) {
			return fmt.Errorf("entry %d has invalid hash", curr.Index)
		}
		prev = curr
	}
	return rows.Err()
}

// Root implements Log.
func (l *SQLiteLog) Root(ctx context.Context) (string, error) {
	var hash string
	if err := l.db.QueryRowContext(ctx,
		"SELECT hash FROM pipeline_events ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get chain root: %w", err)
	}
	return hash, nil
}

const selectEntryCols = `
	SELECT idx, timestamp, target_id, type, old, new, actor, reason, meta_hash, prev_hash, hash
	FROM pipeline_events`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*Entry, error) {
	e := &Entry{}
	var ts string
	if err := r.Scan(&e.Index, &ts, &e.TargetID, &e.Type, &e.Old, &e.New,
		&e.Actor, &e.Reason, &e.MetaHash, &e.PrevHash, &e.Hash); err != nil {
		return nil, fmt.Errorf("scan pipeline_event: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	e.Timestamp = t
	return e, nil
}

func (l *SQLiteLog) scanOne(row *sql.Row) (*Entry, error) {
	return scanEntry(row)
}
