package metadata

import (
	"context"
	"errors"
	"strings"
	"testing"

	fserr "github.com/bleepstore/filestorage/internal/errors"
	"github.com/bleepstore/filestorage/internal/file"
	"github.com/bleepstore/filestorage/internal/orchestrator"
	"github.com/bleepstore/filestorage/internal/pathbuilder"
	"github.com/bleepstore/filestorage/internal/storage"
)

func TestAttachPersistsLifecycle(t *testing.T) {
	ctx := context.Background()
	mem, err := storage.NewMemoryBackend(storage.MemoryOptions{})
	if err != nil {
		t.Fatalf("NewMemoryBackend failed: %v", err)
	}
	reg := storage.NewRegistry()
	reg.Register("local", mem)

	builder, err := pathbuilder.NewTemplate("{model}/{strippedId}/{filename}")
	if err != nil {
		t.Fatalf("NewTemplate failed: %v", err)
	}
	o := orchestrator.New(reg, builder)
	store := NewMemoryStore()
	if err := Attach(o, store); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	f, err := file.FromReader("notes.txt", "local", strings.NewReader("hello"), 5)
	if err != nil {
		t.Fatalf("FromReader failed: %v", err)
	}
	stored, err := o.Store(ctx, f.BelongsToModel("User", "3"))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if stored.ID() == 0 {
		t.Error("stored file has no ID")
	}

	rec, err := store.GetFile(ctx, stored.UUID())
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	path, _ := stored.Path()
	if rec.Path != path || rec.ID != stored.ID() || rec.Model != "User" {
		t.Errorf("record = %+v", rec)
	}

	if _, err := o.Remove(ctx, stored); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := store.GetFile(ctx, stored.UUID()); !errors.Is(err, fserr.ErrFileNotFound) {
		t.Errorf("GetFile after remove error = %v, want ErrFileNotFound", err)
	}
}

type failingStore struct {
	*MemoryStore
}

func (failingStore) PutFile(ctx context.Context, rec *FileRecord) (*FileRecord, error) {
	return nil, errors.New("database is locked")
}

func TestSaveHookError(t *testing.T) {
	f, _ := file.Create(file.Attributes{Filename: "a.txt", Storage: "local"})
	if _, err := SaveHook(failingStore{NewMemoryStore()})(context.Background(), f); err == nil {
		t.Error("SaveHook should surface store errors")
	}
}
