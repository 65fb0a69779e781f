package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryLog is an in-process Log implementation for tests; it never
// touches the database.
type MemoryLog struct {
	mu      sync.Mutex
	entries []*Entry
}

// NewMemoryLog returns a MemoryLog seeded with the genesis entry.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: []*Entry{{
		Index: 0, Timestamp: time.Unix(0, 0).UTC(), Type: "genesis",
		Actor: "system", Hash: GenesisHash, PrevHash: GenesisHash, MetaHash: GenesisHash,
	}}}
}

// Append implements Log.
func (m *MemoryLog) Append(ctx context.Context, targetID, typ, old, new, actor, reason string, meta any) (*Entry, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.entries[len(m.entries)-1]
	entry := &Entry{
		Index:     prev.Index + 1,
		Timestamp: time.Now().UTC(),
		TargetID:  targetID,
		Type:      typ,
		Old:       old,
		New:       new,
		Actor:     actor,
		Reason:    reason,
		MetaHash:  sha256Sum(metaJSON),
		PrevHash:  prev.Hash,
	}
	entry.Hash = hashEntry(entry)
	m.entries = append(m.entries, entry)
	return entry, nil
}

// Get implements Log.
func (m *MemoryLog) Get(ctx context.Context, index int) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Index == index {
			return e, nil
		}
	}
	return nil, fmt.Errorf("entry %d not found", index)
}

// Len implements Log.
func (m *MemoryLog) Len(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

// ForTarget implements Log.
func (m *MemoryLog) ForTarget(ctx context.Context, targetID string) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Entry
	for _, e := range m.entries {
		if e.TargetID == targetID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Verify implements Log.
func (m *MemoryLog) Verify(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 1; i < len(m.entries); i++ {
		if m.entries[i].PrevHash != m.entries[i-1].Hash {
			return fmt.Errorf("hash chain broken at index %d", m.entries[i].Index)
		}
		if m.entries[i].Hash != hashEntry(m.entries[i]) {
			return fmt.Errorf("entry %d has invalid hash", m.entries[i].Index)
		}
	}
	return nil
}

// Root implements Log.
func (m *MemoryLog) Root(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1].Hash, nil
}
