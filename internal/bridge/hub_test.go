package bridge

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/toolhub/offlinesync/internal/lifecycle"
	"github.com/toolhub/offlinesync/internal/store"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	st := store.NewMemoryStore()
	names := store.Names{Version: "v1"}
	manager := lifecycle.NewManager(lifecycle.ManagerOptions{
		Store:   st,
		Names:   names,
		Fetcher: &fakeFetcher{},
	})
	hub := NewHub(nil, nil)
	hub.SetDispatcher(NewDispatcher(DispatcherOptions{
		Store:     st,
		Names:     names,
		Lifecycle: manager,
	}))
	return hub
}

func dialTestHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+server.URL[len("http"):], nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestHubAnswersCacheStatusOverWebsocket(t *testing.T) {
	hub := newTestHub(t)
	conn := dialTestHub(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, Message{Type: "GET_CACHE_STATUS"}))

	var reply map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	require.Equal(t, "v1", reply["version"])
	require.NotNil(t, reply["caches"])
}

func TestHubIgnoresUnknownMessages(t *testing.T) {
	hub := newTestHub(t)
	conn := dialTestHub(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, Message{Type: "MYSTERY"}))
	require.NoError(t, wsjson.Write(ctx, conn, Message{Type: "GET_CACHE_STATUS"}))

	// The first answer to arrive is the cache status; the unknown message
	// produced no reply.
	var reply map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	require.Equal(t, "v1", reply["version"])
}

func TestHubBroadcastReachesConnectedClients(t *testing.T) {
	hub := newTestHub(t)
	conn := dialTestHub(t, hub)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Broadcast("SW_UPDATED", map[string]any{"version": "v2"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var msg map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.Equal(t, "SW_UPDATED", msg["type"])
	require.Equal(t, "v2", msg["version"])
}

func TestHubBroadcastWrapsNonMapPayloads(t *testing.T) {
	hub := newTestHub(t)
	conn := dialTestHub(t, hub)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Broadcast("OFFLINE_SYNC_SUCCESS", []string{"a", "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var msg map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.Equal(t, "OFFLINE_SYNC_SUCCESS", msg["type"])
	require.Equal(t, []any{"a", "b"}, msg["payload"])
}
