package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/toolhub/offlinesync/internal/fetch"
	"github.com/toolhub/offlinesync/internal/store"
)

var ErrMalformedEntry = errors.New("malformed queue entry")

const malformedMarkerPrefix = "malformed/"

// QueuedWrite is the durable record of a write that failed on the network.
// The ULID token is timestamp-plus-randomness, so lexicographic key order is
// insertion order.
type QueuedWrite struct {
	Token      string        `json:"token"`
	Request    fetch.Request `json:"request"`
	InsertedAt time.Time     `json:"insertedAt"`
}

type DrainResult struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
	Purged    []string `json:"purged,omitempty"`
}

// ReplayFunc re-executes one queued write against the network. A nil return
// confirms the replay; anything else leaves the entry for the next drain.
type ReplayFunc func(ctx context.Context, req fetch.Request) error

type OfflineQueue struct {
	store     store.Store
	partition string
	log       *slog.Logger
}

func New(st store.Store, partitionName string, log *slog.Logger) *OfflineQueue {
	if log == nil {
		log = slog.Default()
	}
	return &OfflineQueue{store: st, partition: partitionName, log: log}
}

func (q *OfflineQueue) Enqueue(ctx context.Context, req fetch.Request) (string, error) {
	part, err := q.store.Open(ctx, q.partition)
	if err != nil {
		return "", err
	}
	token := ulid.Make().String()
	entry, err := store.DocumentEntry(QueuedWrite{
		Token:      token,
		Request:    req,
		InsertedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	if err := part.Put(ctx, token, entry); err != nil {
		return "", err
	}
	q.log.Info("queued offline write", "token", token, "method", req.Method, "path", req.Path)
	return token, nil
}

func (q *OfflineQueue) Depth(ctx context.Context) (int, error) {
	part, err := q.store.Open(ctx, q.partition)
	if err != nil {
		return 0, err
	}
	keys, err := part.Keys(ctx)
	if err != nil {
		return 0, err
	}
	depth := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, malformedMarkerPrefix) {
			depth++
		}
	}
	return depth, nil
}

// Drain attempts each queued write exactly once, in insertion order. An
// entry is deleted only after its replay returns nil; one item's failure
// never blocks the rest of the batch. An entry that cannot be decoded is
// kept for one more drain (marked), then purged.
func (q *OfflineQueue) Drain(ctx context.Context, replay ReplayFunc) (DrainResult, error) {
	result := DrainResult{Succeeded: []string{}, Failed: []string{}, Purged: []string{}}
	part, err := q.store.Open(ctx, q.partition)
	if err != nil {
		return result, err
	}
	keys, err := part.Keys(ctx)
	if err != nil {
		return result, err
	}
	for _, token := range keys {
		if strings.HasPrefix(token, malformedMarkerPrefix) {
			continue
		}
		entry, err := part.Get(ctx, token)
		if err != nil {
			q.log.Warn("queued write unreadable, leaving in place", "token", token, "error", err)
			result.Failed = append(result.Failed, token)
			continue
		}
		write, decodeErr := decodeQueuedWrite(entry)
		if decodeErr != nil {
			if q.handleMalformed(ctx, part, token, decodeErr) {
				result.Purged = append(result.Purged, token)
			} else {
				result.Failed = append(result.Failed, token)
			}
			continue
		}
		if err := replay(ctx, write.Request); err != nil {
			q.log.Info("replay failed, keeping entry", "token", token, "error", err)
			result.Failed = append(result.Failed, token)
			continue
		}
		if _, err := part.Delete(ctx, token); err != nil {
			// The write reached the network but the delete failed; the entry
			// stays and the next replay is idempotent upstream's problem to
			// absorb. Losing it silently would break the queue invariant.
			q.log.Warn("replayed entry could not be deleted", "token", token, "error", err)
		}
		_, _ = part.Delete(ctx, malformedMarkerPrefix+token)
		result.Succeeded = append(result.Succeeded, token)
	}
	return result, nil
}

// handleMalformed implements retry-once-then-purge: the first failed decode
// leaves a marker next to the entry, the second deletes both. Reports
// whether the entry was purged.
func (q *OfflineQueue) handleMalformed(ctx context.Context, part store.Partition, token string, cause error) bool {
	marker := malformedMarkerPrefix + token
	if _, err := part.Get(ctx, marker); err == nil {
		_, _ = part.Delete(ctx, token)
		_, _ = part.Delete(ctx, marker)
		q.log.Warn("purging malformed queued write", "token", token, "error", cause)
		return true
	}
	entry, err := store.DocumentEntry(map[string]string{"error": cause.Error()})
	if err == nil {
		if putErr := part.Put(ctx, marker, entry); putErr != nil {
			q.log.Warn("could not mark malformed queued write", "token", token, "error", putErr)
		}
	}
	q.log.Warn("malformed queued write, will retry once", "token", token, "error", cause)
	return false
}

func decodeQueuedWrite(entry store.Entry) (QueuedWrite, error) {
	if len(entry.Document) == 0 {
		return QueuedWrite{}, ErrMalformedEntry
	}
	var write QueuedWrite
	if err := json.Unmarshal(entry.Document, &write); err != nil {
		return QueuedWrite{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	if write.Request.Path == "" {
		return QueuedWrite{}, fmt.Errorf("%w: missing request path", ErrMalformedEntry)
	}
	return write, nil
}
