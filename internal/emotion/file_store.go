package emotion

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileEntryStore keeps the full entry set in memory and mirrors every mutation
// to a JSON snapshot file, for local-only setups without a database.
type FileEntryStore struct {
	path string
	mem  *MemoryEntryStore
}

func NewFileEntryStore(path string) (*FileEntryStore, error) {
	return NewFileEntryStoreWithOptions(path, MemoryStoreOptions{})
}

func NewFileEntryStoreWithOptions(path string, opts MemoryStoreOptions) (*FileEntryStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	store := &FileEntryStore{
		path: path,
		mem:  NewMemoryEntryStoreWithOptions(opts),
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *FileEntryStore) SaveBatch(ctx context.Context, items []WriteIntent) (int, []EmotionEntry, error) {
	saved, created, err := s.mem.SaveBatch(ctx, items)
	if err != nil {
		return saved, created, err
	}
	if err := s.save(); err != nil {
		return saved, created, err
	}
	return saved, created, nil
}

func (s *FileEntryStore) ListEntries(ctx context.Context, cursor string, limit int) (FeedPage, error) {
	return s.mem.ListEntries(ctx, cursor, limit)
}

func (s *FileEntryStore) Close() error {
	return nil
}

func (s *FileEntryStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot memorySnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	s.mem.restore(snapshot)
	return nil
}

func (s *FileEntryStore) save() error {
	s.mem.mu.RLock()
	snapshot := s.mem.snapshotLocked()
	s.mem.mu.RUnlock()
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp-" + time.Now().UTC().Format("20060102150405.000000000")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
