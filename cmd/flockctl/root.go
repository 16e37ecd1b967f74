package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/flock/pkg/app"
	"github.com/platinummonkey/flock/pkg/config"
	"github.com/platinummonkey/flock/pkg/observability"
)

var version = "dev"

type rootOptions struct {
	configPath string
	output     string
	verbose    bool

	log *logrus.Logger
}

func execute(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{log: logrus.New()}
	opts.log.SetOutput(os.Stderr)

	root := &cobra.Command{
		Use:           "flockctl",
		Short:         "Administrative tasks for flock",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.output != "table" && opts.output != "json" {
				return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", opts.output)
			}
			opts.log.SetOutput(cmd.ErrOrStderr())
			opts.log.SetLevel(logrus.InfoLevel)
			if opts.verbose {
				opts.log.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("FLOCK_CONFIG_FILE"), "Path to a YAML config file")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format: table or json")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newMigrateCmd(opts),
		newSyncMemberCmd(opts),
		newPermissionsCmd(opts),
		newSweepCmd(opts),
	)
	return root
}

// openApp loads configuration and builds the services. Migrations run only
// when migrate is set, regardless of the config file.
func (o *rootOptions) openApp(ctx context.Context, migrate bool) (*app.App, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	cfg.Database.MigrateOnStart = migrate
	cfg.Scheduler.Enabled = false
	cfg.Notify.Mode = config.NotifyModeLog

	level := observability.WarnLevel
	if o.verbose {
		level = observability.DebugLevel
	}
	o.log.WithFields(logrus.Fields{
		"driver":   cfg.Database.Driver,
		"database": cfg.Database.URL,
	}).Debug("Opening database")

	return app.New(ctx, cfg, observability.NewLogger(level, o.log.Out))
}

func closeApp(a *app.App, log *logrus.Logger) {
	if err := a.Close(context.Background()); err != nil {
		log.WithError(err).Warn("Failed to close cleanly")
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
