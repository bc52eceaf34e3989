package strategy

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/toolhub/offlinesync/internal/fetch"
	"github.com/toolhub/offlinesync/internal/queue"
	"github.com/toolhub/offlinesync/internal/store"
)

// TriggerRegistrar requests a background re-execution tag. Registration is
// idempotent and must never block request handling.
type TriggerRegistrar interface {
	Register(tag string)
}

const OfflineQueueSyncTag = "offline-queue-sync"

// Response is what the interception surface returns to the caller.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

type RouterOptions struct {
	Store      store.Store
	Names      store.Names
	Fetcher    fetch.Fetcher
	Classifier *Classifier
	Queue      *queue.OfflineQueue
	Registrar  TriggerRegistrar
	Overrides  map[Class]Strategy
	// Background runs a fire-and-forget task that must still complete after
	// the caller goes away (stale-while-revalidate refreshes). Defaults to a
	// plain goroutine; the agent installs its keep-alive runner here.
	Background func(func())
	Logger     *slog.Logger
}

type Router struct {
	store      store.Store
	names      store.Names
	fetcher    fetch.Fetcher
	classifier *Classifier
	queue      *queue.OfflineQueue
	registrar  TriggerRegistrar
	overrides  map[Class]Strategy
	background func(func())
	log        *slog.Logger
}

func NewRouter(opts RouterOptions) *Router {
	background := opts.Background
	if background == nil {
		background = func(fn func()) { go fn() }
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = NewClassifier(nil, "")
	}
	return &Router{
		store:      opts.Store,
		names:      opts.Names,
		fetcher:    opts.Fetcher,
		classifier: classifier,
		queue:      opts.Queue,
		registrar:  opts.Registrar,
		overrides:  opts.Overrides,
		background: background,
		log:        log,
	}
}

// Handle classifies an intercepted request and executes the matching
// strategy. Only GET requests participate in caching; non-GET API requests
// go to the offline queue on network failure.
func (r *Router) Handle(ctx context.Context, req fetch.Request) *Response {
	if !req.IsGET() {
		return r.handleWrite(ctx, req)
	}
	class := r.classifier.Classify(req)
	strat := StrategyFor(class, r.overrides)
	switch strat {
	case CacheFirst:
		return r.cacheFirst(ctx, req, class)
	case NetworkFirst:
		return r.networkFirst(ctx, req, class)
	case StaleWhileRevalidate:
		return r.staleWhileRevalidate(ctx, req, class)
	case NetworkOnly:
		return r.networkOnly(ctx, req, class)
	case CacheOnly:
		return r.cacheOnly(ctx, req, class)
	default:
		return r.networkFirst(ctx, req, class)
	}
}

func (r *Router) handleWrite(ctx context.Context, req fetch.Request) *Response {
	snap, err := r.fetcher.Do(ctx, req)
	if err == nil {
		return snapshotResponse(snap, "pass")
	}
	if r.classifier.IsAPI(req) && r.queue != nil {
		token, qerr := r.queue.Enqueue(ctx, req)
		if qerr != nil {
			r.log.Error("failed to queue offline write", "path", req.Path, "error", qerr)
			return offlineAPIResponse()
		}
		if r.registrar != nil {
			r.registrar.Register(OfflineQueueSyncTag)
		}
		return queuedResponse(token)
	}
	return offlineAPIResponse()
}

func (r *Router) cacheFirst(ctx context.Context, req fetch.Request, class Class) *Response {
	part := r.partitionFor(ctx, class)
	if entry, ok := r.lookup(ctx, part, req.CacheKey()); ok {
		return snapshotResponse(entry.Response, "hit")
	}
	snap, err := r.fetcher.Do(ctx, req)
	if err == nil {
		r.writeThrough(ctx, part, req.CacheKey(), snap)
		return snapshotResponse(snap, "miss")
	}
	// A concurrent fetch may have populated the entry in the meantime.
	if entry, ok := r.lookup(ctx, part, req.CacheKey()); ok {
		return snapshotResponse(entry.Response, "hit")
	}
	return r.fallback(ctx, req, class)
}

func (r *Router) networkFirst(ctx context.Context, req fetch.Request, class Class) *Response {
	part := r.partitionFor(ctx, class)
	snap, err := r.fetcher.Do(ctx, req)
	if err == nil {
		r.writeThrough(ctx, part, req.CacheKey(), snap)
		return snapshotResponse(snap, "miss")
	}
	if entry, ok := r.lookup(ctx, part, req.CacheKey()); ok {
		return snapshotResponse(entry.Response, "stale")
	}
	return r.fallback(ctx, req, class)
}

func (r *Router) staleWhileRevalidate(ctx context.Context, req fetch.Request, class Class) *Response {
	part := r.partitionFor(ctx, class)
	entry, ok := r.lookup(ctx, part, req.CacheKey())
	if !ok {
		return r.networkFirst(ctx, req, class)
	}
	r.background(func() {
		// Detached from the request context: the refresh benefits future
		// requests even if the original caller is gone.
		refreshCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		snap, err := r.fetcher.Do(refreshCtx, req)
		if err != nil {
			r.log.Debug("background revalidation failed", "path", req.Path, "error", err)
			return
		}
		r.writeThrough(refreshCtx, r.partitionFor(refreshCtx, class), req.CacheKey(), snap)
	})
	return snapshotResponse(entry.Response, "revalidate")
}

func (r *Router) networkOnly(ctx context.Context, req fetch.Request, class Class) *Response {
	snap, err := r.fetcher.Do(ctx, req)
	if err != nil {
		return r.fallback(ctx, req, class)
	}
	return snapshotResponse(snap, "pass")
}

func (r *Router) cacheOnly(ctx context.Context, req fetch.Request, class Class) *Response {
	part := r.partitionFor(ctx, class)
	if entry, ok := r.lookup(ctx, part, req.CacheKey()); ok {
		return snapshotResponse(entry.Response, "hit")
	}
	return r.fallback(ctx, req, class)
}

// fallback is the end of every strategy's failure chain. Tool pages fall
// back to the cached application shell and finally a generated offline
// document, so the shell is always servable.
func (r *Router) fallback(ctx context.Context, req fetch.Request, class Class) *Response {
	switch class {
	case ClassToolPage:
		if part := r.partitionFor(ctx, ClassToolPage); part != nil {
			if entry, ok := r.lookup(ctx, part, "/"); ok {
				return snapshotResponse(entry.Response, "shell")
			}
		}
		return offlinePageResponse()
	case ClassAPI:
		return offlineAPIResponse()
	default:
		if req.Navigation {
			if part := r.partitionFor(ctx, ClassToolPage); part != nil {
				if entry, ok := r.lookup(ctx, part, "/"); ok {
					return snapshotResponse(entry.Response, "shell")
				}
			}
			return offlinePageResponse()
		}
		return offlineAPIResponse()
	}
}

func (r *Router) partitionFor(ctx context.Context, class Class) store.Partition {
	var name string
	switch class {
	case ClassToolPage, ClassStaticAsset:
		name = r.names.Static()
	default:
		name = r.names.Dynamic()
	}
	part, err := r.store.Open(ctx, name)
	if err != nil {
		// Store trouble degrades that operation to network-only behavior.
		r.log.Warn("partition unavailable", "partition", name, "error", err)
		return nil
	}
	return part
}

func (r *Router) lookup(ctx context.Context, part store.Partition, key string) (store.Entry, bool) {
	if part == nil {
		return store.Entry{}, false
	}
	entry, err := part.Get(ctx, key)
	if err != nil {
		return store.Entry{}, false
	}
	if entry.Response == nil {
		return store.Entry{}, false
	}
	return entry, true
}

func (r *Router) writeThrough(ctx context.Context, part store.Partition, key string, snap *store.ResponseSnapshot) {
	if part == nil || !snap.OK() {
		return
	}
	if err := part.Put(ctx, key, store.ResponseEntry(snap)); err != nil {
		r.log.Warn("write-through failed", "partition", part.Name(), "key", key, "error", err)
	}
}

func snapshotResponse(snap *store.ResponseSnapshot, cacheState string) *Response {
	header := http.Header{}
	if snap.Header != nil {
		header = snap.Header.Clone()
	}
	header.Set("X-Cache", cacheState)
	return &Response{Status: snap.Status, Header: header, Body: snap.Body}
}
