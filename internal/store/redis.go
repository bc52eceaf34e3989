package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "offlinesync:"

// RedisStore lays each partition out as a hash keyed by
// offlinesync:p:<name>, with the partition registry in a set so
// opened-but-empty partitions survive enumeration.
type RedisStore struct {
	mu      sync.Mutex
	client  *redis.Client
	options *redis.Options
	log     *slog.Logger
}

func NewRedisStore(opts *redis.Options, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{
		client:  redis.NewClient(opts),
		options: opts,
		log:     log,
	}
}

func (s *RedisStore) ensureConnection(ctx context.Context) {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.log.Warn("reconnecting to redis", "error", err)
		s.mu.Lock()
		s.client = redis.NewClient(s.options)
		s.mu.Unlock()
	}
}

func (s *RedisStore) Open(ctx context.Context, name string) (Partition, error) {
	if name == "" {
		return nil, ErrInvalidInput
	}
	s.ensureConnection(ctx)
	if err := s.client.SAdd(ctx, redisKeyPrefix+"partitions", name).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &redisPartition{store: s, name: name}, nil
}

func (s *RedisStore) ListPartitions(ctx context.Context) ([]string, error) {
	s.ensureConnection(ctx)
	names, err := s.client.SMembers(ctx, redisKeyPrefix+"partitions").Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *RedisStore) DeletePartition(ctx context.Context, name string) (bool, error) {
	s.ensureConnection(ctx)
	removed, err := s.client.SRem(ctx, redisKeyPrefix+"partitions", name).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := s.client.Del(ctx, redisPartitionKey(name)).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return removed > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func redisPartitionKey(name string) string {
	return redisKeyPrefix + "p:" + name
}

type redisPartition struct {
	store *RedisStore
	name  string
}

func (p *redisPartition) Name() string { return p.name }

func (p *redisPartition) Get(ctx context.Context, key string) (Entry, error) {
	p.store.ensureConnection(ctx)
	payload, err := p.store.client.HGet(ctx, redisPartitionKey(p.name), key).Result()
	if err == redis.Nil {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return entry, nil
}

func (p *redisPartition) Put(ctx context.Context, key string, entry Entry) error {
	if key == "" {
		return ErrInvalidInput
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	p.store.ensureConnection(ctx)
	if err := p.store.client.HSet(ctx, redisPartitionKey(p.name), key, string(payload)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *redisPartition) Delete(ctx context.Context, key string) (bool, error) {
	p.store.ensureConnection(ctx)
	removed, err := p.store.client.HDel(ctx, redisPartitionKey(p.name), key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return removed > 0, nil
}

func (p *redisPartition) Keys(ctx context.Context) ([]string, error) {
	p.store.ensureConnection(ctx)
	keys, err := p.store.client.HKeys(ctx, redisPartitionKey(p.name)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sort.Strings(keys)
	return keys, nil
}
