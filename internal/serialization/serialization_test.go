package serialization

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bleepstore/filestorage/internal/file"
	"github.com/bleepstore/filestorage/internal/metadata"
)

func seed(t *testing.T, store metadata.Store, uuids ...string) {
	t.Helper()
	for _, uuid := range uuids {
		_, err := store.PutFile(context.Background(), &metadata.FileRecord{
			UUID:     uuid,
			Filename: uuid + ".png",
			Filesize: 10,
			MimeType: "image/png",
			Path:     "img/" + uuid + ".png",
			Storage:  "local",
			Model:    "User",
			Variants: map[string]file.Variant{"thumb": {"path": "img/" + uuid + ".thumb.png"}},
		})
		if err != nil {
			t.Fatalf("PutFile failed: %v", err)
		}
	}
}

func TestExportEnvelope(t *testing.T) {
	store := metadata.NewMemoryStore()
	seed(t, store, "a", "b")

	var buf bytes.Buffer
	if err := Export(context.Background(), store, &buf, nil); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	var doc Document
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if doc.Envelope.Version != ExportVersion {
		t.Errorf("version = %d, want %d", doc.Envelope.Version, ExportVersion)
	}
	if doc.Envelope.Source != "go/"+Version {
		t.Errorf("source = %q", doc.Envelope.Source)
	}
	if len(doc.Files) != 2 || doc.Files[0].UUID != "a" || doc.Files[1].UUID != "b" {
		t.Errorf("files = %+v", doc.Files)
	}
}

func TestExportFilter(t *testing.T) {
	store := metadata.NewMemoryStore()
	seed(t, store, "a")
	store.PutFile(context.Background(), &metadata.FileRecord{UUID: "p", Filename: "p.txt", Storage: "local", Model: "Post"})

	var buf bytes.Buffer
	if err := Export(context.Background(), store, &buf, &ExportOptions{Filter: metadata.ListOptions{Model: "Post"}}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	var doc Document
	json.Unmarshal(buf.Bytes(), &doc)
	if len(doc.Files) != 1 || doc.Files[0].UUID != "p" {
		t.Errorf("files = %+v", doc.Files)
	}
}

func TestRoundTripAcrossEngines(t *testing.T) {
	ctx := context.Background()
	src := metadata.NewMemoryStore()
	seed(t, src, "a", "b", "c")

	var buf bytes.Buffer
	if err := Export(ctx, src, &buf, nil); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	dst, err := metadata.NewSQLiteStore(filepath.Join(t.TempDir(), "dst.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer dst.Close()

	result, err := Import(ctx, dst, &buf, nil)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Imported != 3 || result.Skipped != 0 {
		t.Errorf("result = %+v, want 3 imported", result)
	}

	want, _ := src.GetFile(ctx, "b")
	got, err := dst.GetFile(ctx, "b")
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if got.ID != want.ID || got.Path != want.Path || !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("imported = %+v, want %+v", got, want)
	}
	if p, _ := got.Variants["thumb"].Path(); p != "img/b.thumb.png" {
		t.Errorf("thumb path = %q", p)
	}
}

func TestImportSkipsExisting(t *testing.T) {
	ctx := context.Background()
	src := metadata.NewMemoryStore()
	seed(t, src, "a", "b")
	var buf bytes.Buffer
	Export(ctx, src, &buf, nil)

	dst := metadata.NewMemoryStore()
	dst.PutFile(ctx, &metadata.FileRecord{UUID: "a", Filename: "kept.txt", Storage: "local"})

	result, err := Import(ctx, dst, bytes.NewReader(buf.Bytes()), nil)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Imported != 1 || result.Skipped != 1 {
		t.Errorf("result = %+v, want 1 imported and 1 skipped", result)
	}
	if got, _ := dst.GetFile(ctx, "a"); got.Filename != "kept.txt" {
		t.Errorf("existing record overwritten: %+v", got)
	}
}

func TestImportReplace(t *testing.T) {
	ctx := context.Background()
	src := metadata.NewMemoryStore()
	seed(t, src, "a")
	var buf bytes.Buffer
	Export(ctx, src, &buf, nil)

	dst := metadata.NewMemoryStore()
	seed(t, dst, "stale")

	result, err := Import(ctx, dst, &buf, &ImportOptions{Replace: true})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Deleted != 1 || result.Imported != 1 {
		t.Errorf("result = %+v", result)
	}
	all, _ := dst.ListFiles(ctx, metadata.ListOptions{})
	if len(all) != 1 || all[0].UUID != "a" {
		t.Errorf("records = %+v, want only a", all)
	}
}

func TestImportRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", "{"},
		{"missing envelope", `{"files": []}`},
		{"future version", `{"filestorage_export": {"version": 99}, "files": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Import(context.Background(), metadata.NewMemoryStore(), strings.NewReader(tt.doc), nil); err == nil {
				t.Error("Import should fail")
			}
		})
	}
}

func TestImportWarnsOnInvalidRecords(t *testing.T) {
	doc := `{"filestorage_export": {"version": 1}, "files": [{"uuid": "", "storage": "local"}, {"uuid": "ok", "filename": "a", "storage": "local"}]}`
	result, err := Import(context.Background(), metadata.NewMemoryStore(), strings.NewReader(doc), nil)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Imported != 1 || result.Skipped != 1 || len(result.Warnings) != 1 {
		t.Errorf("result = %+v", result)
	}
}
