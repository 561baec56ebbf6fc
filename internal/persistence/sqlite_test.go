package persistence

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "checkpoint.db"), logger)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRiskCheckpointRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)

	payload := map[string]interface{}{
		"level":                "ELEVATED",
		"consecutive_failures": 2,
	}
	if err := store.WriteRiskCheckpoint(payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := store.LoadLatestCheckpoint()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var loaded map[string]interface{}
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded["level"] != "ELEVATED" {
		t.Errorf("expected latest checkpoint back, got %v", loaded)
	}
}

func TestLatestCheckpointWins(t *testing.T) {
	store := newTestSQLiteStore(t)

	store.WriteRiskCheckpoint(map[string]string{"level": "NORMAL"})
	store.WriteRiskCheckpoint(map[string]string{"level": "HALTED"})

	data, err := store.LoadLatestCheckpoint()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var loaded map[string]string
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded["level"] != "HALTED" {
		t.Errorf("expected most recent checkpoint, got %v", loaded)
	}
}

func TestEmptyCheckpointStore(t *testing.T) {
	store := newTestSQLiteStore(t)

	data, err := store.LoadLatestCheckpoint()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data != nil {
		t.Errorf("expected nil for empty store, got %q", data)
	}
}

func TestBreakerSnapshotWrite(t *testing.T) {
	store := newTestSQLiteStore(t)

	if err := store.WriteBreakerSnapshot("OPEN", "daily_loss_limit", 0, "120.50"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM breaker_snapshots").Scan(&count); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 snapshot, got %d", count)
	}
}
