// Package serialization handles file record export and import between a
// metadata store and a versioned JSON document.
package serialization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	fserr "github.com/bleepstore/filestorage/internal/errors"
	"github.com/bleepstore/filestorage/internal/metadata"
)

const (
	Version       = "0.1.0"
	ExportVersion = 1

	envelopeKey = "filestorage_export"
	pageSize    = 500
)

// Envelope describes an export document.
type Envelope struct {
	Version       int    `json:"version"`
	ExportedAt    string `json:"exported_at"`
	SchemaVersion int    `json:"schema_version"`
	Source        string `json:"source"`
}

// Document is the exported JSON shape.
type Document struct {
	Envelope Envelope              `json:"filestorage_export"`
	Files    []metadata.FileRecord `json:"files"`
}

// ExportOptions configures what to export.
type ExportOptions struct {
	// Filter restricts the exported records. AfterID and Limit are ignored.
	Filter metadata.ListOptions
}

// ImportOptions configures how to import.
type ImportOptions struct {
	// Replace deletes every existing record before importing. Otherwise
	// records whose UUID already exists are skipped.
	Replace bool
}

// ImportResult holds the result of an import operation.
type ImportResult struct {
	Imported int
	Skipped  int
	Deleted  int
	Warnings []string
}

// Export writes every matching record of store to w as indented JSON.
func Export(ctx context.Context, store metadata.Store, w io.Writer, opts *ExportOptions) error {
	if opts == nil {
		opts = &ExportOptions{}
	}

	files, err := listAll(ctx, store, opts.Filter)
	if err != nil {
		return err
	}

	doc := Document{
		Envelope: Envelope{
			Version:       ExportVersion,
			ExportedAt:    time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
			SchemaVersion: metadata.SchemaVersion,
			Source:        "go/" + Version,
		},
		Files: files,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}
	return nil
}

// listAll pages through ListFiles so large stores are read in batches.
func listAll(ctx context.Context, store metadata.Store, filter metadata.ListOptions) ([]metadata.FileRecord, error) {
	all := make([]metadata.FileRecord, 0)
	filter.Limit = pageSize
	filter.AfterID = 0
	for {
		page, err := store.ListFiles(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("listing files: %w", err)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
		filter.AfterID = page[len(page)-1].ID
	}
}

// Import reads an export document from r into store.
func Import(ctx context.Context, store metadata.Store, r io.Reader, opts *ImportOptions) (*ImportResult, error) {
	if opts == nil {
		opts = &ImportOptions{}
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	var envelope Envelope
	if data, ok := raw[envelopeKey]; ok {
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, fmt.Errorf("parsing export envelope: %w", err)
		}
	}
	if envelope.Version < 1 || envelope.Version > ExportVersion {
		return nil, fmt.Errorf("unsupported export version: %v", envelope.Version)
	}

	var files []metadata.FileRecord
	if data, ok := raw["files"]; ok {
		if err := json.Unmarshal(data, &files); err != nil {
			return nil, fmt.Errorf("parsing files: %w", err)
		}
	}

	result := &ImportResult{}

	if opts.Replace {
		existing, err := listAll(ctx, store, metadata.ListOptions{})
		if err != nil {
			return nil, err
		}
		for _, rec := range existing {
			if err := store.DeleteFile(ctx, rec.UUID); err != nil {
				return nil, fmt.Errorf("deleting %s: %w", rec.UUID, err)
			}
			result.Deleted++
		}
	}

	for i := range files {
		rec := &files[i]
		if rec.UUID == "" || rec.Storage == "" {
			result.Skipped++
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Skipped file #%d: uuid and storage are required", i))
			continue
		}

		if !opts.Replace {
			_, err := store.GetFile(ctx, rec.UUID)
			if err == nil {
				result.Skipped++
				continue
			}
			if !errors.Is(err, fserr.ErrFileNotFound) {
				return nil, fmt.Errorf("checking %s: %w", rec.UUID, err)
			}
		}

		if _, err := store.PutFile(ctx, rec); err != nil {
			result.Skipped++
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Skipped file %s: %v", rec.UUID, err))
			continue
		}
		result.Imported++
	}

	return result, nil
}
