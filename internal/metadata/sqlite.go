package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	fserr "github.com/bleepstore/filestorage/internal/errors"
	"github.com/bleepstore/filestorage/internal/file"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

const (
	// timeFormat is the ISO 8601 format used for all timestamps in SQLite.
	timeFormat = "2006-01-02T15:04:05.000Z"

	// SchemaVersion is the current version of the files schema.
	SchemaVersion = 1
)

// SQLiteStore implements Store using SQLite as the backing database. It
// provides durable, ACID-compliant storage suitable for single-node
// deployments.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at dsn and initializes the schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite database: %w", err)
	}
	return s, nil
}

// initDB applies PRAGMAs and creates the required tables and indexes.
// This is safe to call multiple times (idempotent via IF NOT EXISTS).
func (s *SQLiteStore) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS files (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid        TEXT NOT NULL UNIQUE,
			filename    TEXT NOT NULL,
			filesize    INTEGER NOT NULL DEFAULT 0,
			mime_type   TEXT NOT NULL DEFAULT '',
			extension   TEXT NOT NULL DEFAULT '',
			path        TEXT NOT NULL DEFAULT '',
			storage     TEXT NOT NULL,
			collection  TEXT NOT NULL DEFAULT '',
			model       TEXT NOT NULL DEFAULT '',
			model_id    TEXT NOT NULL DEFAULT '',
			variants    TEXT NOT NULL DEFAULT '{}',
			metadata    TEXT NOT NULL DEFAULT '{}',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_files_model ON files(model, model_id);
		CREATE INDEX IF NOT EXISTS idx_files_storage ON files(storage);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)",
		SchemaVersion, time.Now().UTC().Format(timeFormat),
	)
	return err
}

// DB returns the underlying database handle.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const fileColumns = "id, uuid, filename, filesize, mime_type, extension, path, storage, collection, model, model_id, variants, metadata, created_at, updated_at"

func (s *SQLiteStore) PutFile(ctx context.Context, rec *FileRecord) (*FileRecord, error) {
	variants, err := marshalJSONColumn(rec.Variants)
	if err != nil {
		return nil, fmt.Errorf("encoding variants: %w", err)
	}
	metadata, err := marshalJSONColumn(rec.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	now := nowUTC()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}

	// An existing row keeps its id and created_at.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO files (id, uuid, filename, filesize, mime_type, extension, path, storage,
			collection, model, model_id, variants, metadata, created_at, updated_at)
		VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			filename = excluded.filename,
			filesize = excluded.filesize,
			mime_type = excluded.mime_type,
			extension = excluded.extension,
			path = excluded.path,
			storage = excluded.storage,
			collection = excluded.collection,
			model = excluded.model,
			model_id = excluded.model_id,
			variants = excluded.variants,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		rec.ID, rec.UUID, rec.Filename, rec.Filesize, rec.MimeType, rec.Extension, rec.Path, rec.Storage,
		rec.Collection, rec.Model, rec.ModelID, variants, metadata,
		created.UTC().Format(timeFormat), now.Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("putting file record: %w", err)
	}
	return s.GetFile(ctx, rec.UUID)
}

func (s *SQLiteStore) GetFile(ctx context.Context, uuid string) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+fileColumns+" FROM files WHERE uuid = ?", uuid)
	rec, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fserr.ErrFileNotFound.WithMessage("File %s does not exist", uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("getting file record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) DeleteFile(ctx context.Context, uuid string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE uuid = ?", uuid); err != nil {
		return fmt.Errorf("deleting file record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListFiles(ctx context.Context, opts ListOptions) ([]FileRecord, error) {
	var (
		where []string
		args  []any
	)
	where = append(where, "id > ?")
	args = append(args, opts.AfterID)
	for col, val := range map[string]string{
		"storage":    opts.Storage,
		"model":      opts.Model,
		"model_id":   opts.ModelID,
		"collection": opts.Collection,
	} {
		if val != "" {
			where = append(where, col+" = ?")
			args = append(args, val)
		}
	}

	query := "SELECT " + fileColumns + " FROM files WHERE " + strings.Join(where, " AND ") + " ORDER BY id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing file records: %w", err)
	}
	defer rows.Close()

	result := make([]FileRecord, 0)
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file record: %w", err)
		}
		result = append(result, *rec)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (*FileRecord, error) {
	var (
		rec                  FileRecord
		variants, metadata   string
		createdAt, updatedAt string
	)
	err := row.Scan(&rec.ID, &rec.UUID, &rec.Filename, &rec.Filesize, &rec.MimeType, &rec.Extension,
		&rec.Path, &rec.Storage, &rec.Collection, &rec.Model, &rec.ModelID,
		&variants, &metadata, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalVariants(variants, &rec); err != nil {
		return nil, err
	}
	if err := unmarshalMetadata(metadata, &rec); err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	rec.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &rec, nil
}

func unmarshalVariants(data string, rec *FileRecord) error {
	var variants map[string]file.Variant
	if err := json.Unmarshal([]byte(data), &variants); err != nil {
		return fmt.Errorf("decoding variants: %w", err)
	}
	if len(variants) > 0 {
		rec.Variants = variants
	}
	return nil
}

func unmarshalMetadata(data string, rec *FileRecord) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), &rec.Metadata); err != nil {
		return fmt.Errorf("decoding metadata: %w", err)
	}
	if len(rec.Metadata) == 0 {
		rec.Metadata = nil
	}
	return nil
}

func marshalJSONColumn[T any](m map[string]T) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
