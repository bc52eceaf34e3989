package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/toolhub/offlinesync/internal/store"
)

const (
	TemplateKeyPrefix = "template/"
	fallbackEvent     = "complete"
	AnalyticsSyncTag  = "analytics-sync"
)

// Template is a read-only notification template seeded at install time,
// keyed by template/<domain>.<event>.
type Template struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

type Notification struct {
	Domain string `json:"domain"`
	Event  string `json:"event"`
	Template
}

type Overrides struct {
	Body string `json:"body,omitempty"`
}

// Presenter shows a rendered notification on the platform. Implementations
// must not be consulted at all when permission is absent.
type Presenter interface {
	Present(ctx context.Context, n Notification) error
}

type Broadcaster interface {
	Broadcast(msgType string, payload any)
}

type TriggerRegistrar interface {
	Register(tag string)
}

// PermissionFunc reports whether the platform granted notification
// permission. Absence is a capability gap, never an error.
type PermissionFunc func() bool

type slogPresenter struct {
	log *slog.Logger
}

func (p slogPresenter) Present(ctx context.Context, n Notification) error {
	p.log.Info("notification", "domain", n.Domain, "event", n.Event, "title", n.Title, "body", n.Body)
	return nil
}

type DispatcherOptions struct {
	Store      store.Store
	Names      store.Names
	Presenter  Presenter
	Permission PermissionFunc
	Bridge     Broadcaster
	Registrar  TriggerRegistrar
	// DomainURLs maps a notification domain to the page a click should open
	// when no client is connected.
	DomainURLs map[string]string
	Logger     *slog.Logger
}

type Dispatcher struct {
	store      store.Store
	names      store.Names
	presenter  Presenter
	permission PermissionFunc
	bridge     Broadcaster
	registrar  TriggerRegistrar
	domainURLs map[string]string
	log        *slog.Logger
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	presenter := opts.Presenter
	if presenter == nil {
		presenter = slogPresenter{log: log}
	}
	permission := opts.Permission
	if permission == nil {
		permission = func() bool { return false }
	}
	return &Dispatcher{
		store:      opts.Store,
		names:      opts.Names,
		presenter:  presenter,
		permission: permission,
		bridge:     opts.Bridge,
		registrar:  opts.Registrar,
		domainURLs: opts.DomainURLs,
		log:        log,
	}
}

// Show renders the (domain, event) template and presents it. An unknown
// event falls back to the domain's generic complete template; missing
// permission is a silent no-op.
func (d *Dispatcher) Show(ctx context.Context, domain, event string, overrides *Overrides) error {
	if !d.permission() {
		d.log.Debug("notification permission absent, skipping", "domain", domain, "event", event)
		return nil
	}
	tpl, err := d.lookupTemplate(ctx, domain, event)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			d.log.Warn("no notification template", "domain", domain, "event", event)
			return nil
		}
		return err
	}
	if overrides != nil && overrides.Body != "" {
		tpl.Body = overrides.Body
	}
	n := Notification{Domain: domain, Event: event, Template: tpl}
	if err := d.presenter.Present(ctx, n); err != nil {
		return fmt.Errorf("present notification: %w", err)
	}
	return nil
}

// HandleClick routes a user interaction back to the foreground: broadcast to
// a connected client if any (which focuses it), otherwise the payload
// carries the domain URL for opening a new one. The interaction is also
// recorded through the analytics path.
func (d *Dispatcher) HandleClick(ctx context.Context, action, domain string) {
	url := d.domainURLs[domain]
	if url == "" {
		url = "/"
	}
	if d.bridge != nil {
		d.bridge.Broadcast("NOTIFICATION_CLICK", map[string]any{
			"action":    action,
			"timerType": domain,
			"url":       url,
		})
	}
	d.recordInteraction(ctx, action, domain)
}

func (d *Dispatcher) lookupTemplate(ctx context.Context, domain, event string) (Template, error) {
	part, err := d.store.Open(ctx, d.names.Notifications())
	if err != nil {
		return Template{}, err
	}
	entry, err := part.Get(ctx, TemplateKeyPrefix+domain+"."+event)
	if errors.Is(err, store.ErrNotFound) && event != fallbackEvent {
		entry, err = part.Get(ctx, TemplateKeyPrefix+domain+"."+fallbackEvent)
	}
	if err != nil {
		return Template{}, err
	}
	var tpl Template
	if err := json.Unmarshal(entry.Document, &tpl); err != nil {
		return Template{}, fmt.Errorf("decode template %s.%s: %w", domain, event, err)
	}
	return tpl, nil
}

func (d *Dispatcher) recordInteraction(ctx context.Context, action, domain string) {
	part, err := d.store.Open(ctx, d.names.BackgroundSync())
	if err != nil {
		d.log.Warn("could not record notification interaction", "error", err)
		return
	}
	entry, err := store.DocumentEntry(map[string]any{
		"event":     "notification_click",
		"toolId":    domain,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"metadata":  map[string]string{"action": action},
	})
	if err != nil {
		return
	}
	if err := part.Put(ctx, "analytics/"+ulid.Make().String(), entry); err != nil {
		d.log.Warn("could not record notification interaction", "error", err)
		return
	}
	if d.registrar != nil {
		d.registrar.Register(AnalyticsSyncTag)
	}
}
