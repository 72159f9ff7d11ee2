// Package metadata persists file records: the attributes, variants and
// metadata of stored files, keyed by UUID, together with the numeric ID
// assigned on first save.
package metadata

import (
	"context"
	"time"

	"github.com/bleepstore/filestorage/internal/file"
)

// FileRecord is the persisted form of a file.
type FileRecord struct {
	ID         int64                   `json:"id"`
	UUID       string                  `json:"uuid"`
	Filename   string                  `json:"filename"`
	Filesize   int64                   `json:"filesize"`
	MimeType   string                  `json:"mime_type"`
	Extension  string                  `json:"extension,omitempty"`
	Path       string                  `json:"path,omitempty"`
	Storage    string                  `json:"storage"`
	Collection string                  `json:"collection,omitempty"`
	Model      string                  `json:"model,omitempty"`
	ModelID    string                  `json:"model_id,omitempty"`
	Variants   map[string]file.Variant `json:"variants,omitempty"`
	Metadata   map[string]any          `json:"metadata,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// ToRecord converts f to a record. Timestamps are left for the store to set.
func ToRecord(f *file.File) *FileRecord {
	ext, _ := f.Extension()
	path, _ := f.Path()
	return &FileRecord{
		ID:         f.ID(),
		UUID:       f.UUID(),
		Filename:   f.Filename(),
		Filesize:   f.Filesize(),
		MimeType:   f.MimeType(),
		Extension:  ext,
		Path:       path,
		Storage:    f.Storage(),
		Collection: f.Collection(),
		Model:      f.Model(),
		ModelID:    f.ModelID(),
		Variants:   f.Variants(),
		Metadata:   f.Metadata(),
	}
}

// File rebuilds the file entity described by r. The file has no stream.
func (r *FileRecord) File() (*file.File, error) {
	f, err := file.Create(file.Attributes{
		Filename:   r.Filename,
		Filesize:   r.Filesize,
		MimeType:   r.MimeType,
		Storage:    r.Storage,
		Collection: r.Collection,
		Model:      r.Model,
		ModelID:    r.ModelID,
		Metadata:   r.Metadata,
		Variants:   r.Variants,
	})
	if err != nil {
		return nil, err
	}
	f = f.WithUUID(r.UUID).WithID(r.ID)
	if r.Path != "" {
		f = f.WithPath(r.Path)
	}
	return f, nil
}

// ListOptions filters and paginates ListFiles. Empty fields match anything.
type ListOptions struct {
	Storage    string
	Model      string
	ModelID    string
	Collection string
	// AfterID returns only records with an ID greater than this value.
	AfterID int64
	// Limit caps the number of records; zero means no limit.
	Limit int
}

func (o ListOptions) match(r *FileRecord) bool {
	if o.Storage != "" && r.Storage != o.Storage {
		return false
	}
	if o.Model != "" && r.Model != o.Model {
		return false
	}
	if o.ModelID != "" && r.ModelID != o.ModelID {
		return false
	}
	if o.Collection != "" && r.Collection != o.Collection {
		return false
	}
	return r.ID > o.AfterID
}

// Store persists file records.
type Store interface {
	// Ping checks connectivity to the underlying store.
	Ping(ctx context.Context) error
	// Close releases resources held by the store.
	Close() error

	// PutFile inserts or replaces the record with rec.UUID. A new record
	// without an ID is assigned the next ID; an existing record keeps its ID
	// and creation time. The stored record is returned.
	PutFile(ctx context.Context, rec *FileRecord) (*FileRecord, error)
	// GetFile returns the record for uuid, or ErrFileNotFound.
	GetFile(ctx context.Context, uuid string) (*FileRecord, error)
	// DeleteFile removes the record for uuid. Missing records are ignored.
	DeleteFile(ctx context.Context, uuid string) error
	// ListFiles returns matching records ordered by ID.
	ListFiles(ctx context.Context, opts ListOptions) ([]FileRecord, error)
}

// cloneRecord returns a deep copy of r.
func cloneRecord(r *FileRecord) *FileRecord {
	cp := *r
	if r.Variants != nil {
		cp.Variants = file.CloneVariants(r.Variants)
	}
	if r.Metadata != nil {
		cp.Metadata = file.CloneMap(r.Metadata)
	}
	return &cp
}

// nowUTC is the record clock, truncated to milliseconds to match the stored
// timestamp precision.
func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
