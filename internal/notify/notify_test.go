package notify

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toolhub/offlinesync/internal/store"
)

type recordingPresenter struct {
	mu    sync.Mutex
	shown []Notification
}

func (p *recordingPresenter) Present(ctx context.Context, n Notification) error {
	p.mu.Lock()
	p.shown = append(p.shown, n)
	p.mu.Unlock()
	return nil
}

type recordingBridge struct {
	mu       sync.Mutex
	messages []map[string]any
}

func (b *recordingBridge) Broadcast(msgType string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg := map[string]any{"type": msgType}
	if m, ok := payload.(map[string]any); ok {
		for k, v := range m {
			msg[k] = v
		}
	}
	b.messages = append(b.messages, msg)
}

type recordingRegistrar struct {
	mu   sync.Mutex
	tags []string
}

func (r *recordingRegistrar) Register(tag string) {
	r.mu.Lock()
	r.tags = append(r.tags, tag)
	r.mu.Unlock()
}

func seedTemplate(t *testing.T, st store.Store, names store.Names, key string, tpl Template) {
	t.Helper()
	ctx := context.Background()
	part, err := st.Open(ctx, names.Notifications())
	require.NoError(t, err)
	entry, err := store.DocumentEntry(tpl)
	require.NoError(t, err)
	require.NoError(t, part.Put(ctx, TemplateKeyPrefix+key, entry))
}

func TestShowRendersTemplate(t *testing.T) {
	st := store.NewMemoryStore()
	names := store.Names{Version: "v1"}
	presenter := &recordingPresenter{}
	seedTemplate(t, st, names, "timer.complete", Template{Title: "Timer done", Body: "Your timer finished"})

	d := NewDispatcher(DispatcherOptions{
		Store:      st,
		Names:      names,
		Presenter:  presenter,
		Permission: func() bool { return true },
	})
	require.NoError(t, d.Show(context.Background(), "timer", "complete", nil))
	require.Len(t, presenter.shown, 1)
	require.Equal(t, "Timer done", presenter.shown[0].Title)
}

func TestShowAppliesBodyOverride(t *testing.T) {
	st := store.NewMemoryStore()
	names := store.Names{Version: "v1"}
	presenter := &recordingPresenter{}
	seedTemplate(t, st, names, "timer.complete", Template{Title: "Timer done", Body: "default"})

	d := NewDispatcher(DispatcherOptions{
		Store:      st,
		Names:      names,
		Presenter:  presenter,
		Permission: func() bool { return true },
	})
	require.NoError(t, d.Show(context.Background(), "timer", "complete", &Overrides{Body: "custom message"}))
	require.Equal(t, "custom message", presenter.shown[0].Body)
}

func TestShowFallsBackToDomainCompleteTemplate(t *testing.T) {
	st := store.NewMemoryStore()
	names := store.Names{Version: "v1"}
	presenter := &recordingPresenter{}
	seedTemplate(t, st, names, "timer.complete", Template{Title: "Timer done"})

	d := NewDispatcher(DispatcherOptions{
		Store:      st,
		Names:      names,
		Presenter:  presenter,
		Permission: func() bool { return true },
	})
	require.NoError(t, d.Show(context.Background(), "timer", "interval-elapsed", nil))
	require.Len(t, presenter.shown, 1)
	require.Equal(t, "interval-elapsed", presenter.shown[0].Event)
	require.Equal(t, "Timer done", presenter.shown[0].Title)
}

func TestShowWithoutPermissionIsSilentNoop(t *testing.T) {
	st := store.NewMemoryStore()
	names := store.Names{Version: "v1"}
	presenter := &recordingPresenter{}
	seedTemplate(t, st, names, "timer.complete", Template{Title: "Timer done"})

	d := NewDispatcher(DispatcherOptions{
		Store:      st,
		Names:      names,
		Presenter:  presenter,
		Permission: func() bool { return false },
	})
	require.NoError(t, d.Show(context.Background(), "timer", "complete", nil))
	require.Empty(t, presenter.shown)
}

func TestShowMissingTemplateIsNotAnError(t *testing.T) {
	st := store.NewMemoryStore()
	d := NewDispatcher(DispatcherOptions{
		Store:      st,
		Names:      store.Names{Version: "v1"},
		Presenter:  &recordingPresenter{},
		Permission: func() bool { return true },
	})
	require.NoError(t, d.Show(context.Background(), "unknown", "complete", nil))
}

func TestHandleClickBroadcastsAndRecordsAnalytics(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	names := store.Names{Version: "v1"}
	bridge := &recordingBridge{}
	registrar := &recordingRegistrar{}

	d := NewDispatcher(DispatcherOptions{
		Store:      st,
		Names:      names,
		Bridge:     bridge,
		Registrar:  registrar,
		DomainURLs: map[string]string{"timer": "/timer"},
	})
	d.HandleClick(ctx, "open", "timer")

	require.Len(t, bridge.messages, 1)
	require.Equal(t, "NOTIFICATION_CLICK", bridge.messages[0]["type"])
	require.Equal(t, "/timer", bridge.messages[0]["url"])
	require.Equal(t, "timer", bridge.messages[0]["timerType"])

	part, err := st.Open(ctx, names.BackgroundSync())
	require.NoError(t, err)
	keys, err := part.Keys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.True(t, strings.HasPrefix(keys[0], "analytics/"))

	require.Equal(t, []string{AnalyticsSyncTag}, registrar.tags)
}

func TestHandleClickUnknownDomainDefaultsToRoot(t *testing.T) {
	bridge := &recordingBridge{}
	d := NewDispatcher(DispatcherOptions{
		Store:  store.NewMemoryStore(),
		Names:  store.Names{Version: "v1"},
		Bridge: bridge,
	})
	d.HandleClick(context.Background(), "open", "mystery")
	require.Equal(t, "/", bridge.messages[0]["url"])
}
