package bgsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/toolhub/offlinesync/internal/fetch"
	"github.com/toolhub/offlinesync/internal/notify"
	"github.com/toolhub/offlinesync/internal/queue"
	"github.com/toolhub/offlinesync/internal/store"
)

// Sync trigger tags. Each maps to one drain-and-process routine; anything
// else is ignored.
const (
	TagOfflineQueue       = "offline-queue-sync"
	TagPreferences        = "preferences-sync"
	TagAnalytics          = "analytics-sync"
	TagTimerNotifications = "timer-notifications-sync"
)

const (
	PreferencesSyncKeyPrefix  = "sync/"
	PreferencesCurrentKey     = "current"
	PreferencesSchemaKey      = "schema"
	AnalyticsKeyPrefix        = "analytics/"
	AnalyticsSummaryKey       = "analytics-summary"
	NotificationPendingPrefix = "pending/"
)

type Broadcaster interface {
	Broadcast(msgType string, payload any)
}

// PreferencesRegistration is one queued preference write from a client.
type PreferencesRegistration struct {
	Preferences  json.RawMessage `json:"preferences"`
	RegisteredAt time.Time       `json:"registeredAt"`
}

// AnalyticsEvent is one locally-recorded usage event. Nothing is ever
// transmitted anywhere external; events fold into the local summary.
type AnalyticsEvent struct {
	Event     string            `json:"event"`
	ToolID    string            `json:"toolId,omitempty"`
	Duration  int64             `json:"duration,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type AnalyticsSummary struct {
	TotalEvents        int64            `json:"totalEvents"`
	Counts             map[string]int64 `json:"counts"`
	ToolCounts         map[string]int64 `json:"toolCounts"`
	MostUsedTool       string           `json:"mostUsedTool,omitempty"`
	EstimatedTimeSaved int64            `json:"estimatedTimeSavedMs"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}

// NotificationRegistration is a scheduled timer notification. NotBefore in
// the future leaves the registration for a later drain.
type NotificationRegistration struct {
	Type          string    `json:"type"`
	TimerType     string    `json:"timerType"`
	CustomMessage string    `json:"customMessage,omitempty"`
	NotBefore     time.Time `json:"notBefore,omitempty"`
	RegisteredAt  time.Time `json:"registeredAt"`
}

type ProcessorOptions struct {
	Store    store.Store
	Names    store.Names
	Queue    *queue.OfflineQueue
	Replay   queue.ReplayFunc
	Bridge   Broadcaster
	Notifier *notify.Dispatcher
	Logger   *slog.Logger
	Now      func() time.Time
}

type Processor struct {
	store    store.Store
	names    store.Names
	queue    *queue.OfflineQueue
	replay   queue.ReplayFunc
	bridge   Broadcaster
	notifier *notify.Dispatcher
	log      *slog.Logger
	now      func() time.Time

	schemaMu sync.Mutex
	schema   *jsonschema.Schema
}

func NewProcessor(opts ProcessorOptions) *Processor {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Processor{
		store:    opts.Store,
		names:    opts.Names,
		queue:    opts.Queue,
		replay:   opts.Replay,
		bridge:   opts.Bridge,
		notifier: opts.Notifier,
		log:      log,
		now:      now,
	}
}

// SetNotifier installs the notification dispatcher after construction. The
// dispatcher registers tags through the scheduler, which wraps this
// processor, so one of the two must be wired late.
func (p *Processor) SetNotifier(n *notify.Dispatcher) {
	p.notifier = n
}

// NewNetworkReplay builds the replay function for queued writes: a replay
// succeeds once the request reaches the network and any HTTP response comes
// back; only transport failure keeps the entry queued.
func NewNetworkReplay(fetcher fetch.Fetcher) queue.ReplayFunc {
	return func(ctx context.Context, req fetch.Request) error {
		_, err := fetcher.Do(ctx, req)
		return err
	}
}

// Handle maps a trigger tag to its routine. Unknown tags are ignored, never
// an error.
func (p *Processor) Handle(ctx context.Context, tag string) error {
	switch tag {
	case TagOfflineQueue:
		return p.drainOfflineQueue(ctx)
	case TagPreferences:
		return p.syncPreferences(ctx)
	case TagAnalytics:
		return p.syncAnalytics(ctx)
	case TagTimerNotifications:
		return p.syncTimerNotifications(ctx)
	default:
		p.log.Debug("ignoring unknown sync tag", "tag", tag)
		return nil
	}
}

func (p *Processor) drainOfflineQueue(ctx context.Context) error {
	if p.queue == nil || p.replay == nil {
		return nil
	}
	result, err := p.queue.Drain(ctx, func(ctx context.Context, req fetch.Request) error {
		if err := p.replay(ctx, req); err != nil {
			return err
		}
		p.broadcast("OFFLINE_SYNC_SUCCESS", map[string]any{"request": req})
		return nil
	})
	if err != nil {
		return err
	}
	if len(result.Succeeded) > 0 || len(result.Failed) > 0 || len(result.Purged) > 0 {
		p.log.Info("offline queue drained",
			"succeeded", len(result.Succeeded), "failed", len(result.Failed), "purged", len(result.Purged))
	}
	return nil
}

func (p *Processor) syncPreferences(ctx context.Context) error {
	part, err := p.store.Open(ctx, p.names.Preferences())
	if err != nil {
		return err
	}
	keys, err := part.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if !strings.HasPrefix(key, PreferencesSyncKeyPrefix) {
			continue
		}
		if err := p.applyPreferenceRegistration(ctx, part, key); err != nil {
			// One bad registration must not abort the batch.
			p.log.Warn("preference sync item failed", "key", key, "error", err)
		}
	}
	return nil
}

func (p *Processor) applyPreferenceRegistration(ctx context.Context, part store.Partition, key string) error {
	entry, err := part.Get(ctx, key)
	if err != nil {
		return err
	}
	var reg PreferencesRegistration
	if err := json.Unmarshal(entry.Document, &reg); err != nil {
		return fmt.Errorf("decode registration: %w", err)
	}
	if err := p.validatePreferences(ctx, part, reg.Preferences); err != nil {
		return fmt.Errorf("payload rejected by schema: %w", err)
	}

	merged := map[string]any{}
	if current, err := part.Get(ctx, PreferencesCurrentKey); err == nil && len(current.Document) > 0 {
		_ = json.Unmarshal(current.Document, &merged)
	}
	var incoming map[string]any
	if err := json.Unmarshal(reg.Preferences, &incoming); err != nil {
		return fmt.Errorf("decode preferences payload: %w", err)
	}
	for k, v := range incoming {
		merged[k] = v
	}
	merged["lastSync"] = p.now().Format(time.RFC3339Nano)

	mergedEntry, err := store.DocumentEntry(merged)
	if err != nil {
		return err
	}
	if err := part.Put(ctx, PreferencesCurrentKey, mergedEntry); err != nil {
		return err
	}
	if _, err := part.Delete(ctx, key); err != nil {
		return err
	}
	p.broadcast("PREFERENCES_SYNC_SUCCESS", map[string]any{"data": merged})
	return nil
}

// validatePreferences checks a payload against the seeded preferences
// schema. A missing or uncompilable schema disables validation rather than
// blocking sync.
func (p *Processor) validatePreferences(ctx context.Context, part store.Partition, payload json.RawMessage) error {
	schema := p.loadSchema(ctx, part)
	if schema == nil {
		return nil
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	return schema.Validate(inst)
}

func (p *Processor) loadSchema(ctx context.Context, part store.Partition) *jsonschema.Schema {
	p.schemaMu.Lock()
	defer p.schemaMu.Unlock()
	if p.schema != nil {
		return p.schema
	}
	entry, err := part.Get(ctx, PreferencesSchemaKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.log.Warn("preferences schema unavailable", "error", err)
		}
		return nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(entry.Document))
	if err != nil {
		p.log.Warn("preferences schema unreadable", "error", err)
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("preferences.json", doc); err != nil {
		p.log.Warn("preferences schema rejected", "error", err)
		return nil
	}
	schema, err := compiler.Compile("preferences.json")
	if err != nil {
		p.log.Warn("preferences schema does not compile", "error", err)
		return nil
	}
	p.schema = schema
	return schema
}

func (p *Processor) syncAnalytics(ctx context.Context) error {
	part, err := p.store.Open(ctx, p.names.BackgroundSync())
	if err != nil {
		return err
	}
	keys, err := part.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if !strings.HasPrefix(key, AnalyticsKeyPrefix) {
			continue
		}
		if err := p.applyAnalyticsEvent(ctx, part, key); err != nil {
			p.log.Warn("analytics sync item failed", "key", key, "error", err)
		}
	}
	return nil
}

func (p *Processor) applyAnalyticsEvent(ctx context.Context, part store.Partition, key string) error {
	entry, err := part.Get(ctx, key)
	if err != nil {
		return err
	}
	var event AnalyticsEvent
	if err := json.Unmarshal(entry.Document, &event); err != nil {
		return fmt.Errorf("decode analytics event: %w", err)
	}

	summary := AnalyticsSummary{Counts: map[string]int64{}, ToolCounts: map[string]int64{}}
	if existing, err := part.Get(ctx, AnalyticsSummaryKey); err == nil && len(existing.Document) > 0 {
		_ = json.Unmarshal(existing.Document, &summary)
	}
	if summary.Counts == nil {
		summary.Counts = map[string]int64{}
	}
	if summary.ToolCounts == nil {
		summary.ToolCounts = map[string]int64{}
	}
	summary.TotalEvents++
	if event.Event != "" {
		summary.Counts[event.Event]++
	}
	if event.ToolID != "" {
		summary.ToolCounts[event.ToolID]++
		if summary.ToolCounts[event.ToolID] >= summary.ToolCounts[summary.MostUsedTool] {
			summary.MostUsedTool = event.ToolID
		}
	}
	if event.Duration > 0 {
		summary.EstimatedTimeSaved += event.Duration
	}
	summary.UpdatedAt = p.now()

	summaryEntry, err := store.DocumentEntry(summary)
	if err != nil {
		return err
	}
	if err := part.Put(ctx, AnalyticsSummaryKey, summaryEntry); err != nil {
		return err
	}
	if _, err := part.Delete(ctx, key); err != nil {
		return err
	}
	p.broadcast("ANALYTICS_SYNC_SUCCESS", map[string]any{"data": event})
	return nil
}

func (p *Processor) syncTimerNotifications(ctx context.Context) error {
	part, err := p.store.Open(ctx, p.names.Notifications())
	if err != nil {
		return err
	}
	keys, err := part.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if !strings.HasPrefix(key, NotificationPendingPrefix) {
			continue
		}
		if err := p.fireNotification(ctx, part, key); err != nil {
			p.log.Warn("notification sync item failed", "key", key, "error", err)
		}
	}
	return nil
}

func (p *Processor) fireNotification(ctx context.Context, part store.Partition, key string) error {
	entry, err := part.Get(ctx, key)
	if err != nil {
		return err
	}
	var reg NotificationRegistration
	if err := json.Unmarshal(entry.Document, &reg); err != nil {
		return fmt.Errorf("decode notification registration: %w", err)
	}
	if !reg.NotBefore.IsZero() && p.now().Before(reg.NotBefore) {
		return nil
	}
	if p.notifier != nil {
		var overrides *notify.Overrides
		if reg.CustomMessage != "" {
			overrides = &notify.Overrides{Body: reg.CustomMessage}
		}
		// A denied permission silently skips the notification; the
		// registration is consumed either way.
		if err := p.notifier.Show(ctx, reg.TimerType, reg.Type, overrides); err != nil {
			p.log.Warn("notification could not be shown", "key", key, "error", err)
		}
	}
	if _, err := part.Delete(ctx, key); err != nil {
		return err
	}
	return nil
}

func (p *Processor) broadcast(msgType string, payload any) {
	if p.bridge != nil {
		p.bridge.Broadcast(msgType, payload)
	}
}
