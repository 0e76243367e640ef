package store

import (
	"sync"

	"licensed/internal/license"
)

// memoryEntry serializes writers on write while readers only contend on mu
// for the instant a committed record is swapped in.
type memoryEntry struct {
	write sync.Mutex
	mu    sync.RWMutex
	lic   license.License
}

func (e *memoryEntry) snapshot() license.License {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lic.Clone()
}

// MemoryStore keeps records in process memory. The index lock only guards
// the key set; each record has its own locks.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	order   []string
}

func NewMemory() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) entry(key string) (*memoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[license.NormalizeKey(key)]
	return e, ok
}

func (s *MemoryStore) Get(key string) (license.License, error) {
	e, ok := s.entry(key)
	if !ok {
		return license.License{}, ErrNotFound
	}
	return e.snapshot(), nil
}

func (s *MemoryStore) List() ([]license.License, error) {
	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.order))
	for _, key := range s.order {
		entries = append(entries, s.entries[key])
	}
	s.mu.RUnlock()

	out := make([]license.License, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	return out, nil
}

func (s *MemoryStore) WithLicense(key string, fn func(*license.License) error) (license.License, error) {
	e, ok := s.entry(key)
	if !ok {
		return license.License{}, ErrNotFound
	}
	e.write.Lock()
	defer e.write.Unlock()

	work := e.snapshot()
	stored := work.Key
	if err := fn(&work); err != nil {
		return license.License{}, err
	}
	work.Key = stored

	e.mu.Lock()
	e.lic = work.Clone()
	e.mu.Unlock()
	return work, nil
}

func (s *MemoryStore) Insert(lic license.License) error {
	lic.Key = license.NormalizeKey(lic.Key)
	lic.EverActivated = lic.EverActivated || len(lic.Activations) > 0
	if err := lic.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[lic.Key]; ok {
		return ErrExists
	}
	s.entries[lic.Key] = &memoryEntry{lic: lic.Clone()}
	s.order = append(s.order, lic.Key)
	return nil
}
