package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dukerupert/weeme/internal/config"
	"github.com/dukerupert/weeme/internal/logging"
)

var errNotSignedIn = errors.New("not signed in: run `weeme login` or `weeme register` first")

// cli carries state shared by every command: the loaded configuration and
// the logger, both set up before any command runs.
type cli struct {
	cfg    *config.Config
	logger *slog.Logger

	dbPath   string
	logLevel string
	kvKind   string
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:          "weeme",
		Short:        "SEO scans, credits and tracking codes from a local-first account store",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.cfg = config.Load()
			if c.dbPath != "" {
				c.cfg.DBPath = c.dbPath
			}
			if c.logLevel != "" {
				c.cfg.LogLevel = c.logLevel
			}
			if c.kvKind != "" {
				c.cfg.KVBackend = c.kvKind
			}
			c.logger = logging.Setup(c.cfg.LogLevel, c.cfg.IsProduction())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.dbPath, "db", "", "path to the local SQLite store (overrides WEEME_DB_PATH)")
	flags.StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error (overrides WEEME_LOG_LEVEL)")
	flags.StringVar(&c.kvKind, "kv", "", "key-value backend: sqlite or redis (overrides WEEME_KV_BACKEND)")

	root.AddCommand(
		c.serveCmd(),
		c.migrateCmd(),
		c.configCmd(),
		c.loginCmd(),
		c.registerCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.creditsCmd(),
		c.upgradeCmd(),
		c.packagesCmd(),
		c.buyCmd(),
		c.scanCmd(),
		c.reportsCmd(),
		c.statsCmd(),
		c.trackingCmd(),
		c.backupCmd(),
	)
	return root
}

// withApp opens the application for one command and always releases it.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, c.cfg, c.logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}
