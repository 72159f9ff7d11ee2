package metadata

import (
	"context"
	"fmt"

	"github.com/bleepstore/filestorage/internal/file"
	"github.com/bleepstore/filestorage/internal/orchestrator"
)

// SaveHook persists the stored file and returns it with its assigned ID.
func SaveHook(store Store) orchestrator.Hook {
	return func(ctx context.Context, f *file.File) (*file.File, error) {
		rec, err := store.PutFile(ctx, ToRecord(f))
		if err != nil {
			return nil, fmt.Errorf("saving file record: %w", err)
		}
		return f.WithID(rec.ID), nil
	}
}

// RemoveHook deletes the record of a removed file.
func RemoveHook(store Store) orchestrator.Hook {
	return func(ctx context.Context, f *file.File) (*file.File, error) {
		if err := store.DeleteFile(ctx, f.UUID()); err != nil {
			return nil, fmt.Errorf("deleting file record: %w", err)
		}
		return f, nil
	}
}

// Attach registers SaveHook after save and RemoveHook after remove.
func Attach(o *orchestrator.Orchestrator, store Store) error {
	if err := o.AddHook(orchestrator.AfterSave, SaveHook(store)); err != nil {
		return err
	}
	return o.AddHook(orchestrator.AfterRemove, RemoveHook(store))
}
