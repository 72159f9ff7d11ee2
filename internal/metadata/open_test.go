package metadata

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/bleepstore/filestorage/internal/config"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  config.MetadataConfig
		want string
	}{
		{"sqlite", config.MetadataConfig{Engine: "sqlite", SQLite: config.SQLiteConfig{Path: filepath.Join(dir, "m.db")}}, "*metadata.SQLiteStore"},
		{"memory", config.MetadataConfig{Engine: "memory"}, "*metadata.MemoryStore"},
		{"local", config.MetadataConfig{Engine: "local", Local: config.LocalMetaConfig{RootDir: filepath.Join(dir, "jsonl")}}, "*metadata.LocalStore"},
		{"cosmos", config.MetadataConfig{Engine: "cosmos", Cosmos: config.CosmosConfig{
			Endpoint:  "https://localhost:8081",
			MasterKey: "c2VjcmV0LWtleS1mb3ItdGVzdHM=",
			Database:  "filestorage",
			Container: "files",
		}}, "*metadata.CosmosStore"},
		{"cached", config.MetadataConfig{Engine: "memory", Cache: config.CacheConfig{Size: 8, TTLSeconds: 60}}, "*metadata.Cached"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(context.Background(), tt.cfg)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer store.Close()
			if got := reflect.TypeOf(store).String(); got != tt.want {
				t.Errorf("Open type = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := Open(context.Background(), config.MetadataConfig{Engine: "mongo"}); err == nil {
		t.Error("Open should reject an unknown engine")
	}
}
