package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/toolhub/offlinesync/internal/fetch"
	"github.com/toolhub/offlinesync/internal/notify"
	"github.com/toolhub/offlinesync/internal/store"
)

type State string

const (
	StateInstalling State = "installing"
	StateWaiting    State = "waiting"
	StateActivating State = "activating"
	StateActive     State = "active"
	StateSuperseded State = "superseded"
)

const ManifestKey = "manifest"

type Broadcaster interface {
	Broadcast(msgType string, payload any)
}

// SeedData is everything install-time seeding writes into the fresh
// partitions: the asset list to bulk-fetch plus the read-only documents.
type SeedData struct {
	StaticAssets          []string                   `json:"staticAssets"`
	ToolPages             []string                   `json:"toolPages"`
	Features              []string                   `json:"features"`
	PreferencesSchema     json.RawMessage            `json:"preferencesSchema,omitempty"`
	NotificationTemplates map[string]notify.Template `json:"notificationTemplates,omitempty"`
}

type Manifest struct {
	Version     string    `json:"version"`
	ToolPages   []string  `json:"toolPages"`
	Features    []string  `json:"features"`
	GeneratedAt time.Time `json:"generatedAt"`
}

type ManagerOptions struct {
	Store   store.Store
	Names   store.Names
	Fetcher fetch.Fetcher
	Bridge  Broadcaster
	Seed    SeedData
	Logger  *slog.Logger
}

type Manager struct {
	store   store.Store
	names   store.Names
	fetcher fetch.Fetcher
	bridge  Broadcaster
	log     *slog.Logger

	mu       sync.Mutex
	seed     SeedData
	state    State
	hadPrior bool
}

func NewManager(opts ManagerOptions) *Manager {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:   opts.Store,
		names:   opts.Names,
		fetcher: opts.Fetcher,
		bridge:  opts.Bridge,
		seed:    opts.Seed,
		log:     log,
		state:   StateInstalling,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Active() bool {
	return m.State() == StateActive
}

// UpdateWaiting reports whether an installed-but-not-yet-active version sits
// behind a previously active one, so the foreground can prompt the user.
func (m *Manager) UpdateWaiting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateWaiting && m.hadPrior
}

func (m *Manager) Version() string {
	return m.names.Version
}

func (m *Manager) Features() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.seed.Features...)
}

func (m *Manager) ToolPages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.seed.ToolPages...)
}

// Install seeds every partition for this version. Seeding is
// all-or-nothing: a single failure aborts the install and the previous
// version stays authoritative.
func (m *Manager) Install(ctx context.Context) error {
	m.mu.Lock()
	m.state = StateInstalling
	seed := m.seed
	m.mu.Unlock()

	existing, err := m.store.ListPartitions(ctx)
	if err != nil {
		return fmt.Errorf("enumerate partitions: %w", err)
	}
	hadPrior := false
	for _, name := range existing {
		if !m.names.Current(name) {
			hadPrior = true
			break
		}
	}

	if err := m.seedStatic(ctx, seed); err != nil {
		return err
	}
	if err := m.seedToolData(ctx, seed); err != nil {
		return err
	}
	if err := m.seedDocuments(ctx, seed); err != nil {
		return err
	}
	// Queue partitions are opened, never seeded: their contents belong to
	// the clients.
	for _, name := range []string{m.names.Dynamic(), m.names.OfflineQueue(), m.names.BackgroundSync()} {
		if _, err := m.store.Open(ctx, name); err != nil {
			return fmt.Errorf("open partition %s: %w", name, err)
		}
	}

	m.mu.Lock()
	m.state = StateWaiting
	m.hadPrior = hadPrior
	m.mu.Unlock()
	m.log.Info("install complete", "version", m.names.Version, "updateWaiting", hadPrior)
	return nil
}

func (m *Manager) seedStatic(ctx context.Context, seed SeedData) error {
	part, err := m.store.Open(ctx, m.names.Static())
	if err != nil {
		return fmt.Errorf("open static partition: %w", err)
	}
	paths := map[string]struct{}{"/": {}}
	for _, asset := range seed.StaticAssets {
		paths[asset] = struct{}{}
	}
	for _, page := range seed.ToolPages {
		paths[page] = struct{}{}
	}
	for path := range paths {
		snap, err := m.fetcher.Do(ctx, fetch.Request{Path: path})
		if err != nil {
			return fmt.Errorf("seed fetch %s: %w", path, err)
		}
		if !snap.OK() {
			return fmt.Errorf("seed fetch %s: unexpected status %d", path, snap.Status)
		}
		if err := part.Put(ctx, path, store.ResponseEntry(snap)); err != nil {
			return fmt.Errorf("seed store %s: %w", path, err)
		}
	}
	return nil
}

func (m *Manager) seedToolData(ctx context.Context, seed SeedData) error {
	part, err := m.store.Open(ctx, m.names.ToolData())
	if err != nil {
		return fmt.Errorf("open tool-data partition: %w", err)
	}
	entry, err := store.DocumentEntry(Manifest{
		Version:     m.names.Version,
		ToolPages:   seed.ToolPages,
		Features:    seed.Features,
		GeneratedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := part.Put(ctx, ManifestKey, entry); err != nil {
		return fmt.Errorf("seed manifest: %w", err)
	}
	return nil
}

func (m *Manager) seedDocuments(ctx context.Context, seed SeedData) error {
	prefs, err := m.store.Open(ctx, m.names.Preferences())
	if err != nil {
		return fmt.Errorf("open preferences partition: %w", err)
	}
	if len(seed.PreferencesSchema) > 0 {
		if err := prefs.Put(ctx, "schema", store.Entry{Document: seed.PreferencesSchema, InsertedAt: time.Now().UTC()}); err != nil {
			return fmt.Errorf("seed preferences schema: %w", err)
		}
	}
	notifications, err := m.store.Open(ctx, m.names.Notifications())
	if err != nil {
		return fmt.Errorf("open notifications partition: %w", err)
	}
	for key, tpl := range seed.NotificationTemplates {
		entry, err := store.DocumentEntry(tpl)
		if err != nil {
			return err
		}
		if err := notifications.Put(ctx, notify.TemplateKeyPrefix+key, entry); err != nil {
			return fmt.Errorf("seed template %s: %w", key, err)
		}
	}
	return nil
}

// Activate sweeps every partition that does not belong to this version,
// then broadcasts the update. Sweep errors are isolated per partition; a
// partition that cannot be deleted today is garbage for the next sweep, not
// a reason to stay inactive.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateWaiting && m.state != StateInstalling {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("cannot activate from state %s", state)
	}
	m.state = StateActivating
	m.mu.Unlock()

	names, err := m.store.ListPartitions(ctx)
	if err != nil {
		return fmt.Errorf("enumerate partitions: %w", err)
	}
	for _, name := range names {
		if m.names.Current(name) {
			continue
		}
		if _, err := m.store.DeletePartition(ctx, name); err != nil {
			m.log.Warn("stale partition not deleted", "partition", name, "error", err)
			continue
		}
		m.log.Info("deleted stale partition", "partition", name)
	}

	if m.bridge != nil {
		m.bridge.Broadcast("SW_UPDATED", map[string]any{
			"version":  m.names.Version,
			"features": m.Features(),
		})
	}

	m.mu.Lock()
	m.state = StateActive
	m.hadPrior = false
	m.mu.Unlock()
	m.log.Info("activated", "version", m.names.Version)
	return nil
}

// SkipWaiting forces immediate activation of a waiting version.
func (m *Manager) SkipWaiting(ctx context.Context) error {
	if m.State() != StateWaiting {
		return nil
	}
	return m.Activate(ctx)
}

// ReseedDocuments refreshes the document partitions from new seed data
// without a full install; used by the seed-directory watcher.
func (m *Manager) ReseedDocuments(ctx context.Context, seed SeedData) error {
	m.mu.Lock()
	if len(seed.StaticAssets) == 0 {
		seed.StaticAssets = m.seed.StaticAssets
	}
	if len(seed.ToolPages) == 0 {
		seed.ToolPages = m.seed.ToolPages
	}
	if len(seed.Features) == 0 {
		seed.Features = m.seed.Features
	}
	m.seed = seed
	m.mu.Unlock()
	if err := m.seedToolData(ctx, seed); err != nil {
		return err
	}
	return m.seedDocuments(ctx, seed)
}
