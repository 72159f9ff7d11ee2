package metadata

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "meta", "files.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreContract(t *testing.T) {
	testStoreContract(t, newTestSQLiteStore(t))
}

func TestSQLiteSchemaVersion(t *testing.T) {
	store := newTestSQLiteStore(t)
	var version int
	if err := store.DB().QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("schema version = %d, want %d", version, SchemaVersion)
	}
}

func TestSQLiteReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "files.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	stored, err := first.PutFile(ctx, testRecord("persisted"))
	if err != nil {
		t.Fatalf("PutFile failed: %v", err)
	}
	first.Close()

	second, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore (reopen) failed: %v", err)
	}
	defer second.Close()
	got, err := second.GetFile(ctx, "persisted")
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if got.ID != stored.ID {
		t.Errorf("ID = %d, want %d", got.ID, stored.ID)
	}
}
