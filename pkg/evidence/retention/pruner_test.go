package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/warden/pkg/evidence"
	"mercator-hq/warden/pkg/evidence/storage"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func seed(t *testing.T, store evidence.Storage, ages ...time.Duration) {
	t.Helper()
	for i, age := range ages {
		r := &evidence.Record{
			ID:          fmt.Sprintf("rec-%02d", i),
			RequestID:   fmt.Sprintf("req-%02d", i),
			RequestTime: testNow.Add(-age),
			Policy:      "default",
			Model:       "gpt-4o",
			Outcome:     evidence.OutcomeServed,
		}
		if err := store.Store(context.Background(), r); err != nil {
			t.Fatalf("Store() failed: %v", err)
		}
	}
}

const day = 24 * time.Hour

func TestPruner_PruneByAge(t *testing.T) {
	store := storage.NewMemoryStorage()
	seed(t, store, 10*day, 8*day, 5*day, 3*day)

	pruner := NewPruner(store, Config{RetentionDays: 7, Clock: fixedClock})
	deleted, err := pruner.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", deleted)
	}
	if store.GetByID("rec-00") != nil || store.GetByID("rec-01") != nil {
		t.Error("Old records should be gone")
	}
	if store.GetByID("rec-02") == nil || store.GetByID("rec-03") == nil {
		t.Error("Recent records should remain")
	}
}

func TestPruner_RetentionDisabled(t *testing.T) {
	tests := []struct {
		name string
		days int
	}{
		{"zero", 0},
		{"keep everything", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStorage()
			seed(t, store, 1000*day, 1*day)

			pruner := NewPruner(store, Config{RetentionDays: tt.days, Clock: fixedClock})
			deleted, err := pruner.Prune(context.Background())
			if err != nil {
				t.Fatalf("Prune() failed: %v", err)
			}
			if deleted != 0 || store.Size() != 2 {
				t.Errorf("Expected nothing pruned, deleted %d, size %d", deleted, store.Size())
			}
		})
	}
}

func TestPruner_PruneByCount(t *testing.T) {
	store := storage.NewMemoryStorage()
	seed(t, store, 5*time.Hour, 4*time.Hour, 3*time.Hour, 2*time.Hour, 1*time.Hour)

	pruner := NewPruner(store, Config{MaxRecords: 3, Clock: fixedClock})
	deleted, err := pruner.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", deleted)
	}
	if store.Size() != 3 {
		t.Errorf("Expected 3 remaining, got %d", store.Size())
	}
	if store.GetByID("rec-00") != nil || store.GetByID("rec-01") != nil {
		t.Error("The oldest records should go first")
	}

	// Already within the limit.
	deleted, err = pruner.Prune(context.Background())
	if err != nil || deleted != 0 {
		t.Errorf("Expected no-op, got %d, %v", deleted, err)
	}
}

func TestPruner_BothAgeAndCount(t *testing.T) {
	store := storage.NewMemoryStorage()
	seed(t, store, 40*day, 20*day, 3*day, 2*day, 1*day)

	pruner := NewPruner(store, Config{RetentionDays: 30, MaxRecords: 2, Clock: fixedClock})
	deleted, err := pruner.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("Expected 3 deleted, got %d", deleted)
	}
	if store.GetByID("rec-03") == nil || store.GetByID("rec-04") == nil {
		t.Error("The two newest records should remain")
	}
}

func TestPruner_Archive(t *testing.T) {
	store := storage.NewMemoryStorage()
	seed(t, store, 10*day, 9*day, 1*day)
	dir := filepath.Join(t.TempDir(), "nested", "archive")

	pruner := NewPruner(store, Config{RetentionDays: 7, ArchivePath: dir, Clock: fixedClock})
	deleted, err := pruner.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("Expected 2 deleted, got %d", deleted)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Archive directory not created: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 archive file, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "evidence-age-") {
		t.Errorf("Unexpected archive name %q", entries[0].Name())
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"rec-00", "rec-01"} {
		if !strings.Contains(string(data), id) {
			t.Errorf("Archive missing %s", id)
		}
	}
	if strings.Contains(string(data), "rec-02") {
		t.Error("Archive should not contain retained records")
	}
}

func TestPruner_NoArchiveWhenNothingToDelete(t *testing.T) {
	store := storage.NewMemoryStorage()
	seed(t, store, 1*day)
	dir := filepath.Join(t.TempDir(), "archive")

	pruner := NewPruner(store, Config{RetentionDays: 7, ArchivePath: dir, Clock: fixedClock})
	if _, err := pruner.Prune(context.Background()); err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("No archive directory should be created when nothing is pruned")
	}
}

func TestPruner_EmptyStorage(t *testing.T) {
	pruner := NewPruner(storage.NewMemoryStorage(), Config{RetentionDays: 1, MaxRecords: 1})
	deleted, err := pruner.Prune(context.Background())
	if err != nil || deleted != 0 {
		t.Errorf("Expected 0, nil; got %d, %v", deleted, err)
	}
}

func BenchmarkPruner_Prune(b *testing.B) {
	ctx := context.Background()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		store := storage.NewMemoryStorage()
		for j := 0; j < 1000; j++ {
			_ = store.Store(ctx, &evidence.Record{
				ID:          fmt.Sprintf("rec-%d", j),
				RequestTime: testNow.Add(-time.Duration(j) * time.Hour),
			})
		}
		pruner := NewPruner(store, Config{RetentionDays: 14, MaxRecords: 200, Clock: fixedClock})
		b.StartTimer()

		if _, err := pruner.Prune(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
