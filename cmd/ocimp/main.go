package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nagimport/ocimp/internal/config"
	"github.com/nagimport/ocimp/internal/debug"
	"github.com/nagimport/ocimp/internal/logging"
	"github.com/nagimport/ocimp/internal/telemetry"
)

// errPartial makes the process exit non-zero after an import that finished
// with record errors. Its details are already in the log.
var errPartial = errors.New("import finished with record errors")

// app carries what PersistentPreRunE builds for the subcommands.
type app struct {
	cfgFile string
	verbose bool
	quiet   bool

	cfg config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{log: zap.NewNop()}

	root := &cobra.Command{
		Use:   "ocimp",
		Short: "ocimp - import Nagios object and status dumps into the Merlin database",
		Long: `ocimp streams an objects.cache or status.log dump into the relational
store, assigning stable ids, linking object references and deleting rows
for objects the dump no longer defines.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if err := telemetry.Shutdown(context.WithoutCancel(cmd.Context())); err != nil {
				a.log.Warn("flush telemetry", zap.Error(err))
			}
			_ = a.log.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "Config file (default: ./ocimp.yaml, ~/.config/ocimp, /etc/ocimp)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose/debug output")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "Suppress non-essential output (errors only)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "console", "Log format: console or json")

	root.AddCommand(
		newImportCmd(a),
		newInitDBCmd(a),
		newWatchCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	if err := config.Initialize(a.cfgFile); err != nil {
		return err
	}
	if err := bindFlags(cmd, map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
	}); err != nil {
		return err
	}

	debug.SetVerbose(a.verbose)
	debug.SetQuiet(a.quiet)

	a.cfg = config.Current()
	level := a.cfg.Log.Level
	switch {
	case a.verbose || debug.Enabled():
		level = "debug"
	case a.quiet:
		level = "error"
	}
	log, err := logging.New(logging.Options{Level: level, Format: a.cfg.Log.Format})
	if err != nil {
		return err
	}
	a.log = log
	if f := config.ConfigFileUsed(); f != "" {
		a.log.Debug("loaded config", zap.String("file", f))
	}

	tcfg := telemetry.ConfigFromEnv()
	tcfg.Enabled = tcfg.Enabled || a.cfg.Telemetry.Enabled
	tcfg.Stdout = tcfg.Stdout || a.cfg.Telemetry.Stdout
	if err := telemetry.Init(cmd.Context(), tcfg, "ocimp", Version); err != nil {
		a.log.Warn("telemetry disabled", zap.Error(err))
	}
	return nil
}

// bindFlags lets the named flags of cmd override their config keys.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			f = cmd.InheritedFlags().Lookup(name)
		}
		if err := config.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errPartial) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
