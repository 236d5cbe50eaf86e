/*
entrystore.go - Byte-level storage for cache entries

PURPOSE:
  UpdateManager works against this narrow interface so tests can inject
  failing writes and the backing medium can change without touching the
  backup/rollback logic.

IMPLEMENTATIONS:
  - FileEntryStore: cache/<district>/<date>.json on disk
  - MemoryEntryStore: in-memory, for tests
*/
package cache

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/warp/district-engine/district"
)

// EntryStore reads and writes raw cache entry bytes. Read returns (nil, nil)
// when no entry exists for the key.
type EntryStore interface {
	Read(did district.DistrictID, date string) ([]byte, error)
	Write(did district.DistrictID, date string, data []byte) error
}

// =============================================================================
// FILE ENTRY STORE
// =============================================================================

// FileEntryStore keeps one JSON file per (district, date) under a root dir.
type FileEntryStore struct {
	root string
}

func NewFileEntryStore(root string) *FileEntryStore {
	return &FileEntryStore{root: root}
}

func (f *FileEntryStore) path(did district.DistrictID, date string) string {
	return filepath.Join(f.root, string(did), date+".json")
}

func (f *FileEntryStore) Read(did district.DistrictID, date string) ([]byte, error) {
	data, err := os.ReadFile(f.path(did, date))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

func (f *FileEntryStore) Write(did district.DistrictID, date string, data []byte) error {
	path := f.path(did, date)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// =============================================================================
// MEMORY ENTRY STORE
// =============================================================================

// MemoryEntryStore is an in-memory EntryStore for tests and dev.
type MemoryEntryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte

	// FailNextWrite makes the next Write call fail; used to exercise the
	// rollback path in tests.
	FailNextWrite error
}

func NewMemoryEntryStore() *MemoryEntryStore {
	return &MemoryEntryStore{entries: make(map[string][]byte)}
}

func (m *MemoryEntryStore) Read(did district.DistrictID, date string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.entries[entryKey(did, date)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryEntryStore) Write(did district.DistrictID, date string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNextWrite != nil {
		err := m.FailNextWrite
		m.FailNextWrite = nil
		return err
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m.entries[entryKey(did, date)] = stored
	return nil
}
