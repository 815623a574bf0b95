package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nagimport/ocimp/internal/config"
	"github.com/nagimport/ocimp/internal/debug"
	"github.com/nagimport/ocimp/internal/dump"
	"github.com/nagimport/ocimp/internal/importer"
	"github.com/nagimport/ocimp/internal/metrics"
	"github.com/nagimport/ocimp/internal/storage"
	"github.com/nagimport/ocimp/internal/ui"
)

var importFlagKeys = map[string]string{
	"cache":            "cache",
	"nagios-cfg":       "nagios-cfg",
	"mark-pending":     "mark-pending",
	"lock-file":        "lock",
	"metrics.textfile": "metrics-textfile",
}

// importPlan is one invocation: the object cache first, then the status log
// when there is one.
type importPlan struct {
	Cache       string
	StatusLog   string
	IfNewer     bool
	DryRun      bool
	MarkPending bool
	LockFile    string

	// Interactive draws progress bars on a terminal.
	Interactive bool
}

func newImportCmd(a *app) *cobra.Command {
	var statusLog string
	var ifNewer, dryRun bool

	cmd := &cobra.Command{
		Use:   "import [objects.cache]",
		Short: "Import an object cache, then the status log",
		Long: `Import the object cache (default /opt/monitor/var/objects.cache) and,
when --status-log is given or nagios.cfg names one, the status log after it.
Objects missing from the cache are deleted from the database.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(cmd, importFlagKeys); err != nil {
				return err
			}
			a.cfg = config.Current()

			plan := importPlan{
				Cache:       a.cfg.Import.Cache,
				StatusLog:   statusLog,
				IfNewer:     ifNewer,
				DryRun:      dryRun,
				MarkPending: a.cfg.Import.MarkPending,
				LockFile:    a.cfg.Import.LockFile,
				Interactive: true,
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
			debug.Logf("import plan: cache=%s status-log=%s if-newer=%t dry-run=%t\n",
				plan.Cache, plan.StatusLog, plan.IfNewer, plan.DryRun)

			ctx := cmd.Context()
			store, closeStore, err := a.openStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			col := metrics.New()
			results, runErr := a.runPlan(ctx, store, plan, col)
			if path := a.cfg.MetricsTextfile; path != "" {
				if err := col.WriteTextfile(path); err != nil {
					a.log.Warn("write metrics textfile", zap.String("path", path), zap.Error(err))
				}
			}
			if runErr != nil {
				return runErr
			}
			return a.report(cmd.OutOrStdout(), results)
		},
	}

	f := cmd.Flags()
	f.String("cache", "/opt/monitor/var/objects.cache", "Object cache to import")
	f.StringVar(&statusLog, "status-log", "", "Status log to import after the object cache")
	f.String("nagios-cfg", "", "nagios.cfg to find the status log in")
	f.BoolVar(&ifNewer, "if-newer", false, "Skip dumps not modified since their last successful import")
	f.BoolVar(&dryRun, "dry-run", false, "Parse and link the dumps without writing")
	f.Bool("mark-pending", true, "Report never-checked hosts and services as pending")
	f.String("lock", "", "Lock file held for the duration of each import")
	f.String("metrics-textfile", "", "Write Prometheus metrics to this node-exporter textfile")
	addDBFlags(cmd)
	return cmd
}

func statusLogFromNagiosCfg(path string) (string, error) {
	nc, err := dump.ReadNagiosConfig(path)
	if err != nil {
		return "", err
	}
	return nc.StatusFile(), nil
}

// runPlan imports the cache and then the status log. A fatal error stops the
// plan; the results gathered so far are returned with it.
func (a *app) runPlan(ctx context.Context, store storage.Store, plan importPlan, col *metrics.Collector) ([]*importer.Result, error) {
	var results []*importer.Result

	type dumpFile struct {
		path        string
		markPending bool
	}
	dumps := []dumpFile{{plan.Cache, false}}
	if plan.StatusLog != "" {
		dumps = append(dumps, dumpFile{plan.StatusLog, plan.MarkPending})
	}

	for _, d := range dumps {
		a.log.Info("importing dump", zap.String("path", d.path), zap.Bool("dry_run", plan.DryRun))
		opts := importer.Options{
			DryRun:      plan.DryRun,
			MarkPending: d.markPending,
			Logger:      a.log,
			LockPath:    plan.LockFile,
		}
		var closeBar func()
		opts.Progress, closeBar = a.progress(d.path, plan.Interactive)

		var res *importer.Result
		var err error
		if plan.IfNewer {
			res, err = importer.ImportIfNewer(ctx, store, d.path, opts)
		} else {
			res, err = importer.ImportFile(ctx, store, d.path, opts)
		}
		closeBar()
		col.Observe(res, err, time.Now())
		if err != nil {
			return results, fmt.Errorf("import %s: %w", d.path, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// progress returns a byte bar for path when stderr is an interactive
// terminal, and a func that finishes it.
func (a *app) progress(path string, interactive bool) (io.Writer, func()) {
	if !interactive || debug.IsQuiet() || !ui.IsTerminal(os.Stderr) {
		return nil, func() {}
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, func() {}
	}
	bar := ui.NewProgress(os.Stderr, fi.Size(), filepath.Base(path))
	return bar, func() { _ = bar.Finish() }
}

// report prints the summary line to out, or returns errPartial when any
// record failed.
func (a *app) report(out io.Writer, results []*importer.Result) error {
	var statements int64
	partial := false
	for _, res := range results {
		statements += res.Statements
		if !res.OK() {
			partial = true
		}
		if !debug.IsQuiet() && ui.IsTerminal(os.Stderr) {
			fmt.Fprint(os.Stderr, ui.RenderResult(res))
		}
	}
	if partial {
		a.log.Error("import finished with record errors, import marker not advanced")
		return errPartial
	}
	fmt.Fprintln(out, ui.SummaryLine(statements))
	return nil
}
