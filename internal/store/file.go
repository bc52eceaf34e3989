package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
)

const fileStoreLockName = ".offlinesync.lock"

// FileStore keeps one JSON file per partition under a directory. The
// directory is guarded by a flock so two agent processes cannot interleave
// writes. Every mutation rewrites the partition file atomically.
type FileStore struct {
	dir  string
	lock *flock.Flock
	mu   sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	lock := flock.New(filepath.Join(dir, fileStoreLockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: store directory %s is locked by another process", ErrUnavailable, dir)
	}
	return &FileStore{dir: dir, lock: lock}, nil
}

func (s *FileStore) Open(ctx context.Context, name string) (Partition, error) {
	if name == "" {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.partitionPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.writePartitionLocked(name, map[string]Entry{}); err != nil {
			return nil, err
		}
	}
	return &filePartition{store: s, name: name}, nil
}

func (s *FileStore) ListPartitions(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		name, err := url.PathUnescape(strings.TrimSuffix(de.Name(), ".json"))
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) DeletePartition(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.partitionPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}

func (s *FileStore) Close() error {
	if s.lock != nil {
		return s.lock.Unlock()
	}
	return nil
}

func (s *FileStore) partitionPath(name string) string {
	return filepath.Join(s.dir, url.PathEscape(name)+".json")
}

func (s *FileStore) readPartitionLocked(name string) (map[string]Entry, error) {
	data, err := os.ReadFile(s.partitionPath(name))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	entries := map[string]Entry{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return entries, nil
}

func (s *FileStore) writePartitionLocked(name string, entries map[string]Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := atomic.WriteFile(s.partitionPath(name), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

type filePartition struct {
	store *FileStore
	name  string
}

func (p *filePartition) Name() string { return p.name }

func (p *filePartition) Get(ctx context.Context, key string) (Entry, error) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	entries, err := p.store.readPartitionLocked(p.name)
	if err != nil {
		return Entry{}, err
	}
	entry, ok := entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (p *filePartition) Put(ctx context.Context, key string, entry Entry) error {
	if key == "" {
		return ErrInvalidInput
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	entries, err := p.store.readPartitionLocked(p.name)
	if err == ErrNotFound {
		entries = map[string]Entry{}
	} else if err != nil {
		return err
	}
	entries[key] = entry
	return p.store.writePartitionLocked(p.name, entries)
}

func (p *filePartition) Delete(ctx context.Context, key string) (bool, error) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	entries, err := p.store.readPartitionLocked(p.name)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, ok := entries[key]; !ok {
		return false, nil
	}
	delete(entries, key)
	if err := p.store.writePartitionLocked(p.name, entries); err != nil {
		return false, err
	}
	return true, nil
}

func (p *filePartition) Keys(ctx context.Context) ([]string, error) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	entries, err := p.store.readPartitionLocked(p.name)
	if err == ErrNotFound {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
