package store

import (
	"context"
	"sort"
	"sync"
)

type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{partitions: map[string]map[string]Entry{}}
}

func (s *MemoryStore) Open(ctx context.Context, name string) (Partition, error) {
	if name == "" {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	if _, ok := s.partitions[name]; !ok {
		s.partitions[name] = map[string]Entry{}
	}
	s.mu.Unlock()
	return &memoryPartition{store: s, name: name}, nil
}

func (s *MemoryStore) ListPartitions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) DeletePartition(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[name]; !ok {
		return false, nil
	}
	delete(s.partitions, name)
	return true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

type memoryPartition struct {
	store *MemoryStore
	name  string
}

func (p *memoryPartition) Name() string { return p.name }

func (p *memoryPartition) Get(ctx context.Context, key string) (Entry, error) {
	p.store.mu.RLock()
	defer p.store.mu.RUnlock()
	entries, ok := p.store.partitions[p.name]
	if !ok {
		return Entry{}, ErrNotFound
	}
	entry, ok := entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (p *memoryPartition) Put(ctx context.Context, key string, entry Entry) error {
	if key == "" {
		return ErrInvalidInput
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	entries, ok := p.store.partitions[p.name]
	if !ok {
		entries = map[string]Entry{}
		p.store.partitions[p.name] = entries
	}
	entries[key] = entry
	return nil
}

func (p *memoryPartition) Delete(ctx context.Context, key string) (bool, error) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	entries, ok := p.store.partitions[p.name]
	if !ok {
		return false, nil
	}
	if _, ok := entries[key]; !ok {
		return false, nil
	}
	delete(entries, key)
	return true, nil
}

func (p *memoryPartition) Keys(ctx context.Context) ([]string, error) {
	p.store.mu.RLock()
	defer p.store.mu.RUnlock()
	entries, ok := p.store.partitions[p.name]
	if !ok {
		return []string{}, nil
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
