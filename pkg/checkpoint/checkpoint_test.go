package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"igmutual/pkg/logger"
	"igmutual/pkg/models"
)

func ids(handles ...string) []models.Identity {
	out := make([]models.Identity, len(handles))
	for i, h := range handles {
		out[i] = models.Identity{ExternalID: "id-" + h, Handle: h}
	}
	return out
}

func TestCheckpointAdvance(t *testing.T) {
	cp := New("check-1", "following")

	cp.Advance(ids("a", "b"), "cursor-1", true)
	if cp.Pages != 1 || cp.Cursor != "cursor-1" || cp.Done() {
		t.Errorf("Unexpected state after first page: %+v", cp)
	}

	cp.Advance(ids("c"), "", false)
	if cp.Pages != 2 || !cp.Done() || cp.Cursor != "" {
		t.Errorf("Unexpected state after last page: %+v", cp)
	}
	if len(cp.Identities) != 3 || cp.Identities[2].Handle != "c" {
		t.Errorf("Expected identities in fetch order, got %+v", cp.Identities)
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	t.Run("LoadMissing", func(t *testing.T) {
		cp, err := store.Load(ctx, "missing", "following")
		if err != nil || cp != nil {
			t.Errorf("Expected nil, nil for missing checkpoint, got %v, %v", cp, err)
		}
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		cp := New("check-1", "following")
		cp.Advance(ids("a", "b"), "cursor-1", true)
		if err := store.Save(ctx, cp); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}

		loaded, err := store.Load(ctx, "check-1", "following")
		if err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if loaded.Cursor != "cursor-1" || loaded.Pages != 1 || len(loaded.Identities) != 2 {
			t.Errorf("Loaded checkpoint mismatch: %+v", loaded)
		}
		if loaded.Version != CurrentVersion {
			t.Errorf("Expected version %d, got %d", CurrentVersion, loaded.Version)
		}
	})

	t.Run("RejectsBackwardsSave", func(t *testing.T) {
		cp := New("check-2", "followers")
		cp.Advance(ids("a"), "c1", true)
		cp.Advance(ids("b"), "c2", true)
		if err := store.Save(ctx, cp); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}

		older := New("check-2", "followers")
		older.Advance(ids("a"), "c1", true)
		if err := store.Save(ctx, older); !errors.Is(err, ErrStaleCheckpoint) {
			t.Errorf("Expected ErrStaleCheckpoint, got %v", err)
		}
	})

	t.Run("DeleteRemovesAllRelations", func(t *testing.T) {
		for _, rel := range []string{"following", "followers"} {
			if err := store.Save(ctx, New("check-3", rel)); err != nil {
				t.Fatalf("Failed to save: %v", err)
			}
		}
		if err := store.Delete(ctx, "check-3"); err != nil {
			t.Fatalf("Failed to delete: %v", err)
		}
		for _, rel := range []string{"following", "followers"} {
			if cp, _ := store.Load(ctx, "check-3", rel); cp != nil {
				t.Errorf("Expected %s checkpoint removed", rel)
			}
		}
		// Other checks are untouched
		if cp, _ := store.Load(ctx, "check-1", "following"); cp == nil {
			t.Error("Delete removed another check's checkpoint")
		}
	})
}

func TestFileStorePurge(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Save(ctx, New("fresh", "following")); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	// Write an old checkpoint directly since Save stamps UpdatedAt
	old := New("old", "following")
	old.UpdatedAt = time.Now().Add(-8 * 24 * time.Hour)
	data, _ := json.Marshal(old)
	if err := os.WriteFile(filepath.Join(dir, "old.following.checkpoint.json"), data, 0644); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	removed, err := store.Purge(ctx, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 purged checkpoint, got %d", removed)
	}
	if cp, _ := store.Load(ctx, "fresh", "following"); cp == nil {
		t.Error("Fresh checkpoint was purged")
	}
}
