package bgsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toolhub/offlinesync/internal/fetch"
	"github.com/toolhub/offlinesync/internal/queue"
	"github.com/toolhub/offlinesync/internal/store"
)

func TestRegisterRunsOpportunisticDrain(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	names := store.Names{Version: "v1"}
	q := queue.New(st, names.OfflineQueue(), nil)
	_, err := q.Enqueue(ctx, fetch.Request{Method: "POST", Path: "/api/tools"})
	require.NoError(t, err)

	replayed := 0
	processor := NewProcessor(ProcessorOptions{
		Store: st,
		Names: names,
		Queue: q,
		Replay: func(ctx context.Context, req fetch.Request) error {
			replayed++
			return nil
		},
	})
	scheduler := NewScheduler(SchedulerOptions{
		Processor:  processor,
		Background: func(fn func()) { fn() },
	})

	scheduler.Register(TagOfflineQueue)
	require.Equal(t, 1, replayed)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)

	// Re-registration only retriggers the opportunistic run.
	scheduler.Register(TagOfflineQueue)
	require.Equal(t, 1, replayed, "empty queue drains without replays")
}

func TestRegisterEmptyTagIsIgnored(t *testing.T) {
	ran := false
	scheduler := NewScheduler(SchedulerOptions{
		Processor:  NewProcessor(ProcessorOptions{Store: store.NewMemoryStore(), Names: store.Names{Version: "v1"}}),
		Background: func(fn func()) { ran = true },
	})
	scheduler.Register("")
	require.False(t, ran)
}
