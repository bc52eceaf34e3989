package bgsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler stands in for the platform's background-sync registration: a
// registered tag is retried on a cron cadence until its queue drains, and an
// opportunistic drain fires right away. Registration is idempotent.
type Scheduler struct {
	processor  *Processor
	cron       *cron.Cron
	schedule   string
	background func(func())
	timeout    time.Duration
	log        *slog.Logger

	mu         sync.Mutex
	registered map[string]cron.EntryID
}

type SchedulerOptions struct {
	Processor *Processor
	// Schedule is a cron spec (robfig syntax, e.g. "@every 1m") used for
	// every registered tag.
	Schedule   string
	Background func(func())
	Timeout    time.Duration
	Logger     *slog.Logger
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	schedule := opts.Schedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	background := opts.Background
	if background == nil {
		background = func(fn func()) { go fn() }
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		processor:  opts.Processor,
		cron:       cron.New(),
		schedule:   schedule,
		background: background,
		timeout:    timeout,
		log:        log,
		registered: map[string]cron.EntryID{},
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Register requests periodic processing for a tag and fires an immediate
// opportunistic run. Registering an already-registered tag only retriggers
// the opportunistic run.
func (s *Scheduler) Register(tag string) {
	if tag == "" {
		return
	}
	s.mu.Lock()
	_, already := s.registered[tag]
	if !already {
		id, err := s.cron.AddFunc(s.schedule, func() { s.run(tag) })
		if err != nil {
			s.mu.Unlock()
			s.log.Error("could not schedule sync tag", "tag", tag, "error", err)
			return
		}
		s.registered[tag] = id
	}
	s.mu.Unlock()
	s.background(func() { s.run(tag) })
}

func (s *Scheduler) run(tag string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.processor.Handle(ctx, tag); err != nil {
		s.log.Warn("sync run failed", "tag", tag, "error", err)
	}
}
