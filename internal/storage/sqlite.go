package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	fserr "github.com/bleepstore/filestorage/internal/errors"
)

// SQLiteBackend implements StorageBackend using SQLite as the underlying data
// store. File data is stored as BLOBs keyed by path, which suits small files
// in single-node or embedded deployments.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens the database at dbPath, applies performance PRAGMAs
// and creates the required table.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite storage database: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite storage database: %w", err)
	}
	return b, nil
}

// initDB applies PRAGMAs and creates the required tables.
func (b *SQLiteBackend) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := b.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS file_data (
			path         TEXT PRIMARY KEY,
			data         BLOB NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			updated_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return fmt.Errorf("creating storage schema: %w", err)
	}
	return nil
}

// Close closes the underlying SQLite database connection.
func (b *SQLiteBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// WriteStream reads all data from r and stores it as a BLOB. Uses INSERT OR
// REPLACE so that re-uploads overwrite the existing row.
func (b *SQLiteBackend) WriteStream(ctx context.Context, path string, r io.Reader, opts WriteOptions) error {
	data, err := io.ReadAll(contextReader{ctx: ctx, r: r})
	if err != nil {
		return fmt.Errorf("reading file data: %w", err)
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO file_data (path, data, content_type) VALUES (?, ?, ?)`,
		path, data, opts.ContentType,
	)
	if err != nil {
		return fmt.Errorf("writing file %q: %w", path, err)
	}
	return nil
}

// Read returns a reader over the stored BLOB.
func (b *SQLiteBackend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT data FROM file_data WHERE path = ?`, path,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fserr.ErrFileNotFound.WithMessage("file not found: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file %q: %w", path, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the row for path. Deleting a missing path is not an error.
func (b *SQLiteBackend) Delete(ctx context.Context, path string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM file_data WHERE path = ?`, path); err != nil {
		return fmt.Errorf("deleting file %q: %w", path, err)
	}
	return nil
}

// Exists checks whether a row for path exists.
func (b *SQLiteBackend) Exists(ctx context.Context, path string) (bool, error) {
	var count int
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM file_data WHERE path = ?`, path,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking file existence %q: %w", path, err)
	}
	return count > 0, nil
}

// HealthCheck verifies that the SQLite storage database is operational by
// executing a simple query.
func (b *SQLiteBackend) HealthCheck(ctx context.Context) error {
	var n int
	return b.db.QueryRowContext(ctx, `SELECT 1`).Scan(&n)
}

// Ensure SQLiteBackend implements StorageBackend at compile time.
var _ StorageBackend = (*SQLiteBackend)(nil)
