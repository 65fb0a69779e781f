package statute_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/surplustrust/platform/internal/statute"
	"github.com/surplustrust/platform/internal/store"
)

func TestLookupGet(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "leads.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	lookup := statute.NewLookup(s.DB)

	a, err := lookup.Get(context.Background(), "CO", "residential")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a.StatuteYears != 5.0 {
		t.Errorf("CO residential statute_years = %v, want 5.0", a.StatuteYears)
	}
	if a.Citation != "C.R.S. 38-38-111" {
		t.Errorf("citation = %q", a.Citation)
	}

	_, err = lookup.Get(context.Background(), "ZZ", "residential")
	if !errors.Is(err, statute.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown jurisdiction, got %v", err)
	}
}
