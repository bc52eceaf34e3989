package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/toolhub/offlinesync/internal/bgsync"
	"github.com/toolhub/offlinesync/internal/bridge"
	"github.com/toolhub/offlinesync/internal/config"
	"github.com/toolhub/offlinesync/internal/fetch"
	"github.com/toolhub/offlinesync/internal/httpapi"
	"github.com/toolhub/offlinesync/internal/lifecycle"
	"github.com/toolhub/offlinesync/internal/notify"
	"github.com/toolhub/offlinesync/internal/queue"
	"github.com/toolhub/offlinesync/internal/store"
	"github.com/toolhub/offlinesync/internal/strategy"
)

// Agent wires the whole offline-sync stack together: the partition store,
// the cache router, the lifecycle state machine, the background-sync
// scheduler and the client bridge. Background work started through Go is
// waited on at shutdown so in-flight refreshes and drains finish.
type Agent struct {
	cfg *config.Config
	log *slog.Logger

	store     store.Store
	names     store.Names
	fetcher   *fetch.Client
	queue     *queue.OfflineQueue
	hub       *bridge.Hub
	notifier  *notify.Dispatcher
	processor *bgsync.Processor
	scheduler *bgsync.Scheduler
	lifecycle *lifecycle.Manager
	router    *strategy.Router
	server    *httpapi.Server
	watcher   *lifecycle.Watcher

	wg sync.WaitGroup
}

func New(cfg *config.Config, log *slog.Logger) (*Agent, error) {
	if log == nil {
		log = slog.Default()
	}

	upstreamTimeout, err := time.ParseDuration(cfg.Upstream.Timeout)
	if err != nil {
		return nil, fmt.Errorf("upstream.timeout: %w", err)
	}
	syncTimeout, err := time.ParseDuration(cfg.Sync.Timeout)
	if err != nil {
		return nil, fmt.Errorf("sync.timeout: %w", err)
	}

	st, err := store.BuildFromDSN(cfg.Store.DSN, log)
	if err != nil {
		return nil, err
	}
	names := store.Names{Version: cfg.Cache.Version}

	fetcher, err := fetch.NewClient(cfg.Upstream.URL, upstreamTimeout)
	if err != nil {
		st.Close()
		return nil, err
	}

	seed, err := lifecycle.LoadSeedDir(cfg.Seed.Dir)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &Agent{
		cfg:     cfg,
		log:     log,
		store:   st,
		names:   names,
		fetcher: fetcher,
	}

	a.queue = queue.New(st, names.OfflineQueue(), log)
	a.hub = bridge.NewHub(nil, log)

	a.lifecycle = lifecycle.NewManager(lifecycle.ManagerOptions{
		Store:   st,
		Names:   names,
		Fetcher: fetcher,
		Bridge:  a.hub,
		Seed:    seed,
		Logger:  log,
	})

	a.processor = bgsync.NewProcessor(bgsync.ProcessorOptions{
		Store:  st,
		Names:  names,
		Queue:  a.queue,
		Replay: bgsync.NewNetworkReplay(fetcher),
		Bridge: a.hub,
		Logger: log,
	})
	a.scheduler = bgsync.NewScheduler(bgsync.SchedulerOptions{
		Processor:  a.processor,
		Schedule:   cfg.Sync.Schedule,
		Background: a.Go,
		Timeout:    syncTimeout,
		Logger:     log,
	})

	a.notifier = notify.NewDispatcher(notify.DispatcherOptions{
		Store:      st,
		Names:      names,
		Permission: func() bool { return cfg.Notifications.Enabled },
		Bridge:     a.hub,
		Registrar:  a.scheduler,
		Logger:     log,
	})
	a.processor.SetNotifier(a.notifier)

	a.router = strategy.NewRouter(strategy.RouterOptions{
		Store:      st,
		Names:      names,
		Fetcher:    fetcher,
		Classifier: strategy.NewClassifier(seed.ToolPages, cfg.Cache.APIPrefix),
		Queue:      a.queue,
		Registrar:  a.scheduler,
		Background: a.Go,
		Logger:     log,
	})

	a.hub.SetDispatcher(bridge.NewDispatcher(bridge.DispatcherOptions{
		Store:     st,
		Names:     names,
		Lifecycle: a.lifecycle,
		Registrar: a.scheduler,
		Logger:    log,
	}))

	a.server = httpapi.NewServer(httpapi.ServerOptions{
		Router:    a.router,
		WebSocket: a.hub,
		Lifecycle: a.lifecycle,
		Fetcher:   fetcher,
		Config:    httpapi.ServerConfig{MaxBodyBytes: cfg.Server.MaxBodyBytes},
		Logger:    log,
	})

	if cfg.Seed.Dir != "" && cfg.Seed.Watch {
		watcher, err := lifecycle.NewWatcher(a.lifecycle, cfg.Seed.Dir, log)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("seed watcher: %w", err)
		}
		a.watcher = watcher
	}

	return a, nil
}

// Go runs fn on a tracked goroutine; Shutdown waits for it.
func (a *Agent) Go(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Handler returns the interception surface to mount on an HTTP server.
func (a *Agent) Handler() http.Handler {
	return a.server
}

// Start installs this version and activates it unless a previously active
// version exists, in which case activation waits for a SKIP_WAITING message
// from a client.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.lifecycle.Install(ctx); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	if a.lifecycle.UpdateWaiting() {
		a.log.Info("previous version still active, waiting for skip-waiting",
			"version", a.names.Version)
	} else {
		if err := a.lifecycle.Activate(ctx); err != nil {
			return fmt.Errorf("activate: %w", err)
		}
	}

	a.scheduler.Start()
	// Persistent stores can restart with queued work; an idempotent
	// registration triggers an opportunistic drain.
	a.registerPendingWork(ctx)

	if a.watcher != nil {
		a.watcher.Start(ctx)
	}
	return nil
}

func (a *Agent) registerPendingWork(ctx context.Context) {
	pending, err := a.queue.Depth(ctx)
	if err != nil {
		a.log.Warn("could not inspect offline queue", "error", err)
		return
	}
	if pending > 0 {
		a.scheduler.Register(bgsync.TagOfflineQueue)
	}
}

func (a *Agent) Shutdown(ctx context.Context) error {
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.log.Warn("seed watcher close failed", "error", err)
		}
	}
	a.scheduler.Stop()
	a.hub.Close()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("shutdown deadline reached with background work in flight")
	}

	return a.store.Close()
}
