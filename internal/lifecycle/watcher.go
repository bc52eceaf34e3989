package lifecycle

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reseeds the document partitions whenever a seed file changes on
// disk, so template and schema edits reach a running agent without a
// reinstall.
type Watcher struct {
	manager *Manager
	dir     string
	watcher *fsnotify.Watcher
	log     *slog.Logger
	done    chan struct{}
}

func NewWatcher(manager *Manager, dir string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}
	return &Watcher{
		manager: manager,
		dir:     dir,
		watcher: fsWatcher,
		log:     log,
		done:    make(chan struct{}),
	}, nil
}

func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	// Editors fire bursts of events per save; coalesce them.
	var pending *time.Timer
	reseed := func() {
		seed, err := LoadSeedDir(w.dir)
		if err != nil {
			w.log.Warn("seed directory unreadable, keeping current seed", "error", err)
			return
		}
		if err := w.manager.ReseedDocuments(ctx, seed); err != nil {
			w.log.Warn("reseed failed", "error", err)
			return
		}
		w.log.Info("reseeded document partitions", "dir", w.dir)
	}
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			switch filepath.Base(event.Name) {
			case seedFileName, schemaFileName, templatesFileName:
			default:
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(200*time.Millisecond, reseed)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("seed watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}
