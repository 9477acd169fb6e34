package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *TrainingStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data")
	store, err := NewTrainingStore(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTrainingStore: %v", err)
	}
	return store
}

// TestTrainingStoreLoadMissingFileIsEmpty verifies a missing data file
// is not an error and yields an empty point set.
func TestTrainingStoreLoadMissingFileIsEmpty(t *testing.T) {
	store := newTestStore(t)
	if err := store.Load(); err != nil {
		t.Fatalf("Load() on missing file: %v", err)
	}
	if len(store.Points()) != 0 {
		t.Fatalf("expected empty set, got %v", store.Points())
	}
}

// TestTrainingStoreRoundTrip verifies Insert persists points that
// Load can read back in a fresh store instance.
func TestTrainingStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	store, err := NewTrainingStore(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTrainingStore: %v", err)
	}
	store.Insert(Point{Lux: 10, Luma: 20, Backlight: 30})
	store.Insert(Point{Lux: 900, Luma: 80, Backlight: 90})

	reopened, err := NewTrainingStore(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTrainingStore (reopen): %v", err)
	}
	if err := reopened.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := reopened.Points()
	if len(got) != 2 {
		t.Fatalf("got %d points after reload, want 2: %v", len(got), got)
	}
}

// TestTrainingStoreMalformedLineStartsEmpty verifies a corrupt record
// logs a warning and leaves the in-memory set empty without touching
// the file on disk.
func TestTrainingStoreMalformedLineStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not a record\n"), 0600); err != nil {
		t.Fatal(err)
	}

	store, err := NewTrainingStore(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTrainingStore: %v", err)
	}
	if err := store.Load(); err != nil {
		t.Fatalf("Load() on malformed file: %v", err)
	}
	if len(store.Points()) != 0 {
		t.Fatalf("expected empty set after malformed line, got %v", store.Points())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "not a record\n" {
		t.Fatal("malformed file should be left untouched on disk")
	}
}

// TestTrainingStoreInsertPrunesDominated verifies Insert prunes before
// appending, so a fully-dominated older point does not survive.
func TestTrainingStoreInsertPrunesDominated(t *testing.T) {
	store := newTestStore(t)
	store.Insert(Point{Lux: 100, Luma: 50, Backlight: 30})
	store.Insert(Point{Lux: 50, Luma: 50, Backlight: 80})

	got := store.Points()
	if len(got) != 1 {
		t.Fatalf("expected the older point pruned, got %v", got)
	}
	if got[0].Lux != 50 {
		t.Fatalf("expected the newer point to survive, got %v", got[0])
	}
}

// TestTrainingStoreMaxLux verifies MaxLux tracks the largest lux among
// loaded points, and 0 for an empty store.
func TestTrainingStoreMaxLux(t *testing.T) {
	store := newTestStore(t)
	if got := store.MaxLux(); got != 0 {
		t.Fatalf("MaxLux() on empty store = %d, want 0", got)
	}
	store.Insert(Point{Lux: 300, Luma: 10, Backlight: 10})
	store.Insert(Point{Lux: 100, Luma: 90, Backlight: 5})
	if got := store.MaxLux(); got != 300 {
		t.Fatalf("MaxLux() = %d, want 300", got)
	}
}
