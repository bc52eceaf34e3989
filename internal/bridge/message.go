package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/toolhub/offlinesync/internal/bgsync"
	"github.com/toolhub/offlinesync/internal/lifecycle"
	"github.com/toolhub/offlinesync/internal/store"
)

// Message is the typed command protocol between the foreground application
// and the agent. Unknown types are ignored, never an error.
type Message struct {
	Type             string                `json:"type"`
	CacheName        string                `json:"cacheName,omitempty"`
	NotificationData *NotificationData     `json:"notificationData,omitempty"`
	Preferences      json.RawMessage       `json:"preferences,omitempty"`
	AnalyticsData    *bgsync.AnalyticsEvent `json:"analyticsData,omitempty"`
}

type NotificationData struct {
	Type          string `json:"type"`
	TimerType     string `json:"timerType"`
	DurationMs    int64  `json:"duration,omitempty"`
	CustomMessage string `json:"customMessage,omitempty"`
}

type CacheInfo struct {
	Size int      `json:"size"`
	Keys []string `json:"keys"`
}

type CacheStatus struct {
	Caches    map[string]CacheInfo `json:"caches"`
	Version   string               `json:"version"`
	ToolPages []string             `json:"toolPages"`
	Features  []string             `json:"features"`
}

type ClearCacheResult struct {
	Success bool `json:"success"`
}

type TriggerRegistrar interface {
	Register(tag string)
}

type DispatcherOptions struct {
	Store     store.Store
	Names     store.Names
	Lifecycle *lifecycle.Manager
	Registrar TriggerRegistrar
	Logger    *slog.Logger
	Now       func() time.Time
}

type Dispatcher struct {
	store     store.Store
	names     store.Names
	lifecycle *lifecycle.Manager
	registrar TriggerRegistrar
	log       *slog.Logger
	now       func() time.Time
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Dispatcher{
		store:     opts.Store,
		names:     opts.Names,
		lifecycle: opts.Lifecycle,
		registrar: opts.Registrar,
		log:       log,
		now:       now,
	}
}

// Dispatch executes one client message. The returned reply is nil for
// fire-and-forget message types.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) any {
	switch msg.Type {
	case "SKIP_WAITING":
		if err := d.lifecycle.SkipWaiting(ctx); err != nil {
			d.log.Error("skip waiting failed", "error", err)
		}
		return nil
	case "GET_CACHE_STATUS":
		return d.cacheStatus(ctx)
	case "CLEAR_CACHE":
		return d.clearCache(ctx, msg.CacheName)
	case "SCHEDULE_TIMER_NOTIFICATION":
		d.scheduleNotification(ctx, msg.NotificationData)
		return nil
	case "SYNC_USER_PREFERENCES":
		d.syncPreferences(ctx, msg.Preferences)
		return nil
	case "TRACK_ANALYTICS":
		d.trackAnalytics(ctx, msg.AnalyticsData)
		return nil
	default:
		d.log.Debug("ignoring unknown message type", "type", msg.Type)
		return nil
	}
}

func (d *Dispatcher) cacheStatus(ctx context.Context) CacheStatus {
	status := CacheStatus{
		Caches:    map[string]CacheInfo{},
		Version:   d.lifecycle.Version(),
		ToolPages: d.lifecycle.ToolPages(),
		Features:  d.lifecycle.Features(),
	}
	names, err := d.store.ListPartitions(ctx)
	if err != nil {
		d.log.Warn("could not enumerate partitions", "error", err)
		return status
	}
	for _, name := range names {
		part, err := d.store.Open(ctx, name)
		if err != nil {
			continue
		}
		keys, err := part.Keys(ctx)
		if err != nil {
			continue
		}
		status.Caches[name] = CacheInfo{Size: len(keys), Keys: keys}
	}
	return status
}

func (d *Dispatcher) clearCache(ctx context.Context, cacheName string) ClearCacheResult {
	if cacheName == "" {
		return ClearCacheResult{Success: false}
	}
	if cacheName == "all" {
		names, err := d.store.ListPartitions(ctx)
		if err != nil {
			return ClearCacheResult{Success: false}
		}
		success := true
		for _, name := range names {
			if _, err := d.store.DeletePartition(ctx, name); err != nil {
				d.log.Warn("partition not cleared", "partition", name, "error", err)
				success = false
			}
		}
		return ClearCacheResult{Success: success}
	}
	deleted, err := d.store.DeletePartition(ctx, cacheName)
	if err != nil {
		d.log.Warn("partition not cleared", "partition", cacheName, "error", err)
		return ClearCacheResult{Success: false}
	}
	return ClearCacheResult{Success: deleted}
}

func (d *Dispatcher) scheduleNotification(ctx context.Context, data *NotificationData) {
	if data == nil || data.TimerType == "" {
		return
	}
	part, err := d.store.Open(ctx, d.names.Notifications())
	if err != nil {
		d.log.Warn("could not open notifications partition", "error", err)
		return
	}
	reg := bgsync.NotificationRegistration{
		Type:          data.Type,
		TimerType:     data.TimerType,
		CustomMessage: data.CustomMessage,
		RegisteredAt:  d.now(),
	}
	if data.DurationMs > 0 {
		reg.NotBefore = d.now().Add(time.Duration(data.DurationMs) * time.Millisecond)
	}
	entry, err := store.DocumentEntry(reg)
	if err != nil {
		return
	}
	if err := part.Put(ctx, bgsync.NotificationPendingPrefix+ulid.Make().String(), entry); err != nil {
		d.log.Warn("could not register notification", "error", err)
		return
	}
	d.register(bgsync.TagTimerNotifications)
}

func (d *Dispatcher) syncPreferences(ctx context.Context, preferences json.RawMessage) {
	if len(preferences) == 0 {
		return
	}
	part, err := d.store.Open(ctx, d.names.Preferences())
	if err != nil {
		d.log.Warn("could not open preferences partition", "error", err)
		return
	}
	entry, err := store.DocumentEntry(bgsync.PreferencesRegistration{
		Preferences:  preferences,
		RegisteredAt: d.now(),
	})
	if err != nil {
		return
	}
	if err := part.Put(ctx, bgsync.PreferencesSyncKeyPrefix+ulid.Make().String(), entry); err != nil {
		d.log.Warn("could not register preference sync", "error", err)
		return
	}
	d.register(bgsync.TagPreferences)
}

func (d *Dispatcher) trackAnalytics(ctx context.Context, event *bgsync.AnalyticsEvent) {
	if event == nil || event.Event == "" {
		return
	}
	part, err := d.store.Open(ctx, d.names.BackgroundSync())
	if err != nil {
		d.log.Warn("could not open background-sync partition", "error", err)
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = d.now().Format(time.RFC3339Nano)
	}
	entry, err := store.DocumentEntry(event)
	if err != nil {
		return
	}
	if err := part.Put(ctx, bgsync.AnalyticsKeyPrefix+ulid.Make().String(), entry); err != nil {
		d.log.Warn("could not register analytics event", "error", err)
		return
	}
	d.register(bgsync.TagAnalytics)
}

func (d *Dispatcher) register(tag string) {
	if d.registrar != nil {
		d.registrar.Register(tag)
	}
}
