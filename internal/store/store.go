package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrUnavailable  = errors.New("store unavailable")
	ErrNotFound     = errors.New("entry not found")
	ErrInvalidInput = errors.New("invalid input")
)

// ResponseSnapshot is a stored copy of an upstream response. Presence of a
// snapshot never implies freshness; the strategy layer decides that.
type ResponseSnapshot struct {
	Status    int         `json:"status"`
	Header    http.Header `json:"header,omitempty"`
	Body      []byte      `json:"body,omitempty"`
	FetchedAt time.Time   `json:"fetchedAt"`
}

func (s *ResponseSnapshot) OK() bool {
	return s != nil && s.Status >= 200 && s.Status < 300
}

// Entry is one stored value inside a partition: either a response snapshot
// keyed by request identity, or an arbitrary JSON document under a synthetic
// key.
type Entry struct {
	Response   *ResponseSnapshot `json:"response,omitempty"`
	Document   json.RawMessage   `json:"document,omitempty"`
	InsertedAt time.Time         `json:"insertedAt"`
}

func ResponseEntry(snap *ResponseSnapshot) Entry {
	return Entry{Response: snap, InsertedAt: time.Now().UTC()}
}

func DocumentEntry(v any) (Entry, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return Entry{Document: raw, InsertedAt: time.Now().UTC()}, nil
}

// Partition is a handle to one named logical store. All operations are a
// single atomic get/put against the backend; retry policy belongs to the
// callers.
type Partition interface {
	Name() string
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, key string, entry Entry) error
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// Store opens partitions and manages their lifetime. Open creates the
// partition if it does not exist yet; an opened-but-empty partition is
// visible to ListPartitions so the activation sweep can account for it.
type Store interface {
	Open(ctx context.Context, name string) (Partition, error)
	ListPartitions(ctx context.Context) ([]string, error)
	DeletePartition(ctx context.Context, name string) (bool, error)
	Close() error
}
