package auditlog

import "context"

// Log is the interface for the append-only, hash-chained PipelineEvent
// audit log. SQLiteLog is the durable implementation; MemoryLog exists
// for tests.
type Log interface {
	// Append adds a new entry chained to the previous one. meta is
	// JSON-marshalled and its SHA-256 recorded as MetaHash.
	Append(ctx context.Context, targetID, typ, old, new, actor, reason string, meta any) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// Len returns the total number of entries, including genesis.
	Len(ctx context.Context) (int, error)

	// ForTarget returns all entries recorded against targetID, oldest first.
	ForTarget(ctx context.Context, targetID string) ([]*Entry, error)

	// Verify walks the entire chain and checks hash consistency.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent entry (the chain tip).
	Root(ctx context.Context) (string, error)
}
