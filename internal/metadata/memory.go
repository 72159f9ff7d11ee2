package metadata

import (
	"context"
	"sort"
	"sync"

	fserr "github.com/bleepstore/filestorage/internal/errors"
)

// MemoryStore keeps file records in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	files  map[string]*FileRecord
	lastID int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string]*FileRecord)}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) PutFile(ctx context.Context, rec *FileRecord) (*FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(rec), nil
}

// putLocked stores a copy of rec and returns another copy. The caller holds mu.
func (s *MemoryStore) putLocked(rec *FileRecord) *FileRecord {
	stored := cloneRecord(rec)
	now := nowUTC()
	if existing, ok := s.files[rec.UUID]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else {
		if stored.ID == 0 {
			stored.ID = s.lastID + 1
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
	}
	if stored.ID > s.lastID {
		s.lastID = stored.ID
	}
	stored.UpdatedAt = now
	s.files[rec.UUID] = stored
	return cloneRecord(stored)
}

func (s *MemoryStore) GetFile(ctx context.Context, uuid string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.files[uuid]
	if !ok {
		return nil, fserr.ErrFileNotFound.WithMessage("File %s does not exist", uuid)
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) DeleteFile(ctx context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, uuid)
	return nil
}

func (s *MemoryStore) ListFiles(ctx context.Context, opts ListOptions) ([]FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSorted(s.files, opts), nil
}

// listSorted filters records, orders them by ID and applies the limit.
func listSorted(files map[string]*FileRecord, opts ListOptions) []FileRecord {
	result := make([]FileRecord, 0)
	for _, rec := range files {
		if opts.match(rec) {
			result = append(result, *cloneRecord(rec))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result
}
