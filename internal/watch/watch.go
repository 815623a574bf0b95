// Package watch re-runs an import whenever a dump file is rewritten and on
// a cron schedule, never letting two runs overlap.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner performs one import. reason is "change", "schedule" or whatever
// was passed to Trigger.
type Runner func(ctx context.Context, reason string) error

type Options struct {
	// Paths are the dump files to watch. Their directories are watched so
	// an atomic rename over the file is seen.
	Paths []string

	// Debounce collapses a burst of writes into one run.
	Debounce time.Duration

	// Schedule is a standard five-field cron expression. Empty disables it.
	Schedule string
}

// Loop serializes runs from file events, the schedule and manual triggers.
// At most one run is queued behind the active one.
type Loop struct {
	run      Runner
	log      *zap.Logger
	paths    map[string]bool
	dirs     []string
	debounce time.Duration
	schedule cron.Schedule
	spec     string
	queue    chan string

	mu      sync.Mutex
	running bool
	lastRun time.Time
	lastErr error
	runs    int
}

func New(run Runner, log *zap.Logger, opts Options) (*Loop, error) {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Loop{
		run:      run,
		log:      log,
		paths:    make(map[string]bool),
		debounce: opts.Debounce,
		spec:     strings.TrimSpace(opts.Schedule),
		queue:    make(chan string, 1),
	}
	if l.debounce <= 0 {
		l.debounce = 500 * time.Millisecond
	}
	if l.spec != "" {
		sched, err := cron.ParseStandard(l.spec)
		if err != nil {
			return nil, fmt.Errorf("parse schedule %q: %w", l.spec, err)
		}
		l.schedule = sched
	}

	seen := make(map[string]bool)
	for _, p := range opts.Paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		l.paths[abs] = true
		if dir := filepath.Dir(abs); !seen[dir] {
			seen[dir] = true
			l.dirs = append(l.dirs, dir)
		}
	}
	return l, nil
}

// Trigger queues a run. It returns false when one is already queued.
func (l *Loop) Trigger(reason string) bool {
	select {
	case l.queue <- reason:
		return true
	default:
		l.log.Debug("run already queued, dropping trigger", zap.String("reason", reason))
		return false
	}
}

// Status describes the loop for health endpoints.
type Status struct {
	Running bool
	Runs    int
	LastRun time.Time
	LastErr error
}

func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{Running: l.running, Runs: l.runs, LastRun: l.lastRun, LastErr: l.lastErr}
}

// Run blocks until ctx is done. File watching, the schedule and the run
// worker share one errgroup; a watcher failure stops the loop.
func (l *Loop) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if len(l.dirs) > 0 {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		defer fw.Close()
		for _, dir := range l.dirs {
			if err := fw.Add(dir); err != nil {
				return fmt.Errorf("watch %s: %w", dir, err)
			}
		}
		g.Go(func() error { return l.watchFiles(ctx, fw) })
	}

	if l.schedule != nil {
		c := cron.New()
		c.Schedule(l.schedule, cron.FuncJob(func() { l.Trigger("schedule") }))
		c.Start()
		l.log.Info("import scheduler started", zap.String("cron", l.spec), zap.Time("next", l.schedule.Next(time.Now())))
		defer func() { <-c.Stop().Done() }()
	}

	g.Go(func() error { return l.worker(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (l *Loop) watchFiles(ctx context.Context, fw *fsnotify.Watcher) error {
	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !l.paths[ev.Name] || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			l.log.Debug("dump changed", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.AfterFunc(l.debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(l.debounce)
			}

		case <-fire:
			l.Trigger("change")

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			l.log.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (l *Loop) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case reason := <-l.queue:
			l.runOnce(ctx, reason)
		}
	}
}

func (l *Loop) runOnce(ctx context.Context, reason string) {
	l.mu.Lock()
	l.running = true
	l.mu.Unlock()

	start := time.Now()
	err := l.run(ctx, reason)
	elapsed := time.Since(start)

	l.mu.Lock()
	l.running = false
	l.runs++
	l.lastRun = start
	l.lastErr = err
	l.mu.Unlock()

	if err != nil {
		l.log.Error("import failed", zap.String("reason", reason), zap.Duration("duration", elapsed), zap.Error(err))
		return
	}
	l.log.Info("import completed", zap.String("reason", reason), zap.Duration("duration", elapsed))
}
