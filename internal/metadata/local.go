package metadata

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bleepstore/filestorage/internal/config"
)

const localFilesLog = "files.jsonl"

type jsonlEntry struct {
	Type    string          `json:"type"`
	UUID    string          `json:"uuid"`
	Data    json.RawMessage `json:"data,omitempty"`
	Deleted bool            `json:"_deleted,omitempty"`
}

// LocalStore keeps file records in memory and appends every change to a
// JSON lines log under its root directory. The log is replayed on startup;
// later entries supersede earlier ones.
type LocalStore struct {
	mu      sync.Mutex
	rootDir string
	mem     *MemoryStore
}

var _ Store = (*LocalStore)(nil)

func NewLocalStore(cfg config.LocalMetaConfig) (*LocalStore, error) {
	if cfg.RootDir == "" {
		cfg.RootDir = "./data/metadata"
	}
	if err := os.MkdirAll(cfg.RootDir, 0755); err != nil {
		return nil, fmt.Errorf("creating metadata directory: %w", err)
	}

	s := &LocalStore{rootDir: cfg.RootDir, mem: NewMemoryStore()}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("loading metadata: %w", err)
	}
	if cfg.CompactOnStartup {
		if err := s.compact(); err != nil {
			return nil, fmt.Errorf("compacting metadata: %w", err)
		}
	}
	return s, nil
}

func (s *LocalStore) logPath() string {
	return filepath.Join(s.rootDir, localFilesLog)
}

func (s *LocalStore) load() error {
	f, err := os.Open(s.logPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry jsonlEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			// A torn final line from a crash is skipped.
			continue
		}
		if entry.Deleted {
			delete(s.mem.files, entry.UUID)
			continue
		}
		var rec FileRecord
		if err := json.Unmarshal(entry.Data, &rec); err != nil {
			return err
		}
		s.mem.files[rec.UUID] = &rec
		if rec.ID > s.mem.lastID {
			s.mem.lastID = rec.ID
		}
	}
	return scanner.Err()
}

func (s *LocalStore) appendEntry(entry jsonlEntry) error {
	f, err := os.OpenFile(s.logPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// compact rewrites the log with one entry per live record.
func (s *LocalStore) compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	uuids := make([]string, 0, len(s.mem.files))
	for uuid := range s.mem.files {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)

	tmp := s.logPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, uuid := range uuids {
		entry, err := fileEntry(s.mem.files[uuid])
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		w.Write(append(data, '\n'))
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.logPath())
}

func fileEntry(rec *FileRecord) (jsonlEntry, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return jsonlEntry{}, err
	}
	return jsonlEntry{Type: "file", UUID: rec.UUID, Data: data}, nil
}

func (s *LocalStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.rootDir)
	return err
}

func (s *LocalStore) Close() error {
	return nil
}

func (s *LocalStore) PutFile(ctx context.Context, rec *FileRecord) (*FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mem.mu.Lock()
	stored := s.mem.putLocked(rec)
	s.mem.mu.Unlock()

	entry, err := fileEntry(stored)
	if err != nil {
		return nil, fmt.Errorf("encoding file record: %w", err)
	}
	if err := s.appendEntry(entry); err != nil {
		return nil, fmt.Errorf("appending file record: %w", err)
	}
	return stored, nil
}

func (s *LocalStore) GetFile(ctx context.Context, uuid string) (*FileRecord, error) {
	return s.mem.GetFile(ctx, uuid)
}

func (s *LocalStore) DeleteFile(ctx context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mem.mu.Lock()
	_, ok := s.mem.files[uuid]
	delete(s.mem.files, uuid)
	s.mem.mu.Unlock()

	if !ok {
		return nil
	}
	if err := s.appendEntry(jsonlEntry{Type: "file", UUID: uuid, Deleted: true}); err != nil {
		return fmt.Errorf("appending delete marker: %w", err)
	}
	return nil
}

func (s *LocalStore) ListFiles(ctx context.Context, opts ListOptions) ([]FileRecord, error) {
	return s.mem.ListFiles(ctx, opts)
}
