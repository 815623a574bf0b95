package main

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nagimport/ocimp/internal/config"
	"github.com/nagimport/ocimp/internal/httpapi"
	"github.com/nagimport/ocimp/internal/importer"
	"github.com/nagimport/ocimp/internal/metrics"
	"github.com/nagimport/ocimp/internal/watch"
)

var watchFlagKeys = map[string]string{
	"watch.debounce": "debounce",
	"watch.schedule": "schedule",
	"watch.listen":   "listen",
}

// resultTracker keeps the latest result per dump kind for /status.
type resultTracker struct {
	mu   sync.Mutex
	last map[importer.Mode]*importer.Result
}

func (t *resultTracker) record(results []*importer.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		t.last = make(map[importer.Mode]*importer.Result)
	}
	for _, r := range results {
		if r != nil && !r.NotNewer {
			t.last[r.Mode] = r
		}
	}
}

func (t *resultTracker) Last() map[importer.Mode]*importer.Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[importer.Mode]*importer.Result, len(t.last))
	for m, r := range t.last {
		out[m] = r
	}
	return out
}

func newWatchCmd(a *app) *cobra.Command {
	var statusLog string

	cmd := &cobra.Command{
		Use:   "watch [objects.cache]",
		Short: "Re-import dumps when they change and on a schedule",
		Long: `Watch the object cache and status log and import whichever changed since
its last successful import. Runs never overlap. With --listen an HTTP API
serves /healthz, /status, /metrics and POST /import.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := make(map[string]string, len(importFlagKeys)+len(watchFlagKeys))
			for k, v := range importFlagKeys {
				keys[k] = v
			}
			for k, v := range watchFlagKeys {
				keys[k] = v
			}
			if err := bindFlags(cmd, keys); err != nil {
				return err
			}
			a.cfg = config.Current()

			plan := importPlan{
				Cache:       a.cfg.Import.Cache,
				StatusLog:   statusLog,
				IfNewer:     true,
				MarkPending: a.cfg.Import.MarkPending,
				LockFile:    a.cfg.Import.LockFile,
			}
			if len(args) == 1 {
				plan.Cache = args[0]
			}
			if plan.StatusLog == "" && a.cfg.Import.NagiosCfg != "" {
				path, err := statusLogFromNagiosCfg(a.cfg.Import.NagiosCfg)
				if err != nil {
					return err
				}
				plan.StatusLog = path
			}

			ctx := cmd.Context()
			store, closeStore, err := a.openStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			col := metrics.New()
			tracker := &resultTracker{}
			run := func(ctx context.Context, reason string) error {
				results, err := a.runPlan(ctx, store, plan, col)
				tracker.record(results)
				if path := a.cfg.MetricsTextfile; path != "" {
					if werr := col.WriteTextfile(path); werr != nil {
						a.log.Warn("write metrics textfile", zap.String("path", path), zap.Error(werr))
					}
				}
				if err != nil {
					return err
				}
				for _, r := range results {
					if !r.OK() {
						return errPartial
					}
				}
				return nil
			}

			loop, err := watch.New(run, a.log, watch.Options{
				Paths:    []string{plan.Cache, plan.StatusLog},
				Debounce: a.cfg.Watch.Debounce,
				Schedule: a.cfg.Watch.Schedule,
			})
			if err != nil {
				return err
			}
			loop.Trigger("startup")

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return loop.Run(ctx) })
			if addr := a.cfg.Watch.Listen; addr != "" {
				srv := httpapi.New(loop, tracker, col, a.log, Version)
				g.Go(func() error { return srv.Run(ctx, addr) })
			}
			a.log.Info("watching dumps",
				zap.String("cache", plan.Cache),
				zap.String("status_log", plan.StatusLog),
				zap.String("schedule", a.cfg.Watch.Schedule))
			return g.Wait()
		},
	}

	f := cmd.Flags()
	f.String("cache", "/opt/monitor/var/objects.cache", "Object cache to import")
	f.StringVar(&statusLog, "status-log", "", "Status log to import after the object cache")
	f.String("nagios-cfg", "", "nagios.cfg to find the status log in")
	f.Bool("mark-pending", true, "Report never-checked hosts and services as pending")
	f.String("lock", "", "Lock file held for the duration of each import")
	f.String("metrics-textfile", "", "Write Prometheus metrics to this node-exporter textfile")
	f.Duration("debounce", 2*time.Second, "Quiet period after a dump changes before importing")
	f.String("schedule", "", "Cron expression for periodic imports, e.g. \"*/5 * * * *\"")
	f.String("listen", "", "Serve the HTTP status API on this address")
	addDBFlags(cmd)
	return cmd
}
