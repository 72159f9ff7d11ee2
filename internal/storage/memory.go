package storage

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	fserr "github.com/bleepstore/filestorage/internal/errors"
)

// memObject holds the raw data and content type of an in-memory file.
type memObject struct {
	Data        []byte
	ContentType string
}

// MemoryOptions configure a MemoryBackend.
type MemoryOptions struct {
	// MaxSizeBytes caps the total stored bytes. Zero means unlimited.
	MaxSizeBytes int64
	// Persistence is "none" or "snapshot".
	Persistence string
	// SnapshotPath is the SQLite file snapshots are written to.
	SnapshotPath string
	// SnapshotInterval is how often a snapshot is written. Zero disables
	// periodic snapshots; a final one is still written on Close.
	SnapshotInterval time.Duration
}

// MemoryBackend implements StorageBackend using an in-memory map. It
// optionally supports snapshot persistence to a SQLite file so that data
// survives restarts.
type MemoryBackend struct {
	mu          sync.RWMutex
	objects     map[string]memObject
	currentSize int64
	opts        MemoryOptions

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMemoryBackend creates a new MemoryBackend. With snapshot persistence it
// loads any existing snapshot and starts a background goroutine that writes
// periodic snapshots.
func NewMemoryBackend(opts MemoryOptions) (*MemoryBackend, error) {
	b := &MemoryBackend{
		objects: make(map[string]memObject),
		opts:    opts,
		stopCh:  make(chan struct{}),
	}

	if b.snapshotting() {
		if err := b.loadSnapshot(); err != nil {
			return nil, fmt.Errorf("loading snapshot: %w", err)
		}

		if opts.SnapshotInterval > 0 {
			b.wg.Add(1)
			go b.snapshotLoop()
		}
	}

	return b, nil
}

func (b *MemoryBackend) snapshotting() bool {
	return b.opts.Persistence == "snapshot" && b.opts.SnapshotPath != ""
}

// WriteStream reads all data from r and stores it in memory.
func (b *MemoryBackend) WriteStream(ctx context.Context, path string, r io.Reader, opts WriteOptions) error {
	data, err := io.ReadAll(contextReader{ctx: ctx, r: r})
	if err != nil {
		return fmt.Errorf("reading file data: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Account for size change if replacing an existing file.
	delta := int64(len(data))
	if existing, found := b.objects[path]; found {
		delta -= int64(len(existing.Data))
	}

	if b.opts.MaxSizeBytes > 0 && b.currentSize+delta > b.opts.MaxSizeBytes {
		return fmt.Errorf("memory limit exceeded: current=%d, delta=%d, max=%d", b.currentSize, delta, b.opts.MaxSizeBytes)
	}

	b.objects[path] = memObject{Data: data, ContentType: opts.ContentType}
	b.currentSize += delta
	return nil
}

// Read returns a reader over a copy of the stored data.
func (b *MemoryBackend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, found := b.objects[path]
	if !found {
		return nil, fserr.ErrFileNotFound.WithMessage("file not found: %s", path)
	}

	// Return a copy of the data so callers cannot mutate the stored slice.
	dataCopy := make([]byte, len(obj.Data))
	copy(dataCopy, obj.Data)
	return io.NopCloser(bytes.NewReader(dataCopy)), nil
}

// Delete removes the file from memory. Deleting a missing file is not an error.
func (b *MemoryBackend) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if obj, found := b.objects[path]; found {
		b.currentSize -= int64(len(obj.Data))
		delete(b.objects, path)
	}
	return nil
}

// Exists reports whether a file is stored at path.
func (b *MemoryBackend) Exists(ctx context.Context, path string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, found := b.objects[path]
	return found, nil
}

// Paths returns all stored paths in sorted order.
func (b *MemoryBackend) Paths() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	paths := make([]string, 0, len(b.objects))
	for p := range b.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Size returns the total number of stored bytes.
func (b *MemoryBackend) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentSize
}

// HealthCheck always succeeds.
func (b *MemoryBackend) HealthCheck(ctx context.Context) error {
	return nil
}

// Close stops the snapshot goroutine and writes a final snapshot when
// snapshot persistence is enabled.
func (b *MemoryBackend) Close() error {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()

	if b.snapshotting() {
		if err := b.writeSnapshot(); err != nil {
			return fmt.Errorf("writing final snapshot: %w", err)
		}
	}
	return nil
}

// snapshotLoop periodically writes snapshots at the configured interval.
func (b *MemoryBackend) snapshotLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.opts.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			if err := b.writeSnapshot(); err != nil {
				slog.Error("Memory backend snapshot failed", "error", err)
			}
		}
	}
}

// loadSnapshot restores the in-memory state from a SQLite snapshot file.
// A missing file is a fresh start.
func (b *MemoryBackend) loadSnapshot() error {
	if _, err := os.Stat(b.opts.SnapshotPath); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", b.opts.SnapshotPath)
	if err != nil {
		return fmt.Errorf("opening snapshot database: %w", err)
	}
	defer db.Close()

	var tableCount int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name = 'file_snapshots'`).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("checking snapshot tables: %w", err)
	}
	if tableCount == 0 {
		return nil
	}

	rows, err := db.Query("SELECT path, data, content_type FROM file_snapshots")
	if err != nil {
		return fmt.Errorf("querying file snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var path, contentType string
		var data []byte
		if err := rows.Scan(&path, &data, &contentType); err != nil {
			return fmt.Errorf("scanning file snapshot row: %w", err)
		}
		b.objects[path] = memObject{Data: data, ContentType: contentType}
		b.currentSize += int64(len(data))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating file snapshot rows: %w", err)
	}
	return nil
}

// writeSnapshot writes the current state to a temp SQLite file and renames
// it over the snapshot path.
func (b *MemoryBackend) writeSnapshot() error {
	b.mu.RLock()
	objectsCopy := make(map[string]memObject, len(b.objects))
	for k, v := range b.objects {
		objectsCopy[k] = v
	}
	b.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(b.opts.SnapshotPath), 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	tmpPath := b.opts.SnapshotPath + ".tmp"
	os.Remove(tmpPath)

	if err := writeSnapshotFile(tmpPath, objectsCopy); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, b.opts.SnapshotPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming snapshot file: %w", err)
	}

	// WAL and SHM files of the temp database may linger after the rename.
	os.Remove(tmpPath + "-wal")
	os.Remove(tmpPath + "-shm")
	return nil
}

func writeSnapshotFile(path string, objects map[string]memObject) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("creating temp snapshot database: %w", err)
	}
	defer db.Close()

	schema := `
		PRAGMA synchronous = FULL;

		CREATE TABLE file_snapshots (
			path         TEXT PRIMARY KEY,
			data         BLOB NOT NULL,
			content_type TEXT NOT NULL DEFAULT ''
		);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating snapshot schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO file_snapshots (path, data, content_type) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing file insert: %w", err)
	}
	defer stmt.Close()

	// Sort paths for deterministic output.
	paths := make([]string, 0, len(objects))
	for p := range objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		obj := objects[p]
		if _, err := stmt.Exec(p, obj.Data, obj.ContentType); err != nil {
			return fmt.Errorf("inserting file snapshot for %q: %w", p, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot transaction: %w", err)
	}
	return db.Close()
}

// Ensure MemoryBackend implements StorageBackend at compile time.
var _ StorageBackend = (*MemoryBackend)(nil)
