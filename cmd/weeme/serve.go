package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dukerupert/weeme/internal/server"
	ws "github.com/dukerupert/weeme/internal/websocket"
)

func (c *cli) serveCmd() *cobra.Command {
	var (
		origins         []string
		backupInterval  time.Duration
		backupRetention time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and websocket endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := c.logger
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hub := ws.NewHub(logger.With("component", "websocket"))
			a, err := openApp(ctx, c.cfg, logger, appOptions{
				registry:        prometheus.DefaultRegisterer,
				backupInterval:  backupInterval,
				backupRetention: backupRetention,
				backupCallback:  server.BackupStatusBroadcaster(hub),
			})
			if err != nil {
				return err
			}
			defer a.close()

			srv := server.New(server.Deps{
				Config:         c.cfg,
				Sessions:       a.sessions,
				Reports:        a.reports,
				Tracking:       a.tracking,
				Scans:          a.scans,
				Billing:        a.billing,
				Backups:        a.backups,
				Hub:            hub,
				Store:          a.kv,
				OriginPatterns: origins,
			}, logger)
			defer srv.Close()

			a.backups.Start(ctx)
			defer a.backups.Stop()

			httpServer := &http.Server{
				Addr:              ":" + c.cfg.Port,
				Handler:           srv.Router(),
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				// Scans can take a while; the scan service bounds them.
				WriteTimeout: 90 * time.Second,
				IdleTimeout:  120 * time.Second,
			}

			// Drop expired sign-in windows
			go func() {
				ticker := time.NewTicker(time.Hour)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						if n := srv.RateLimiter().Cleanup(); n > 0 {
							logger.Debug("rate limiter cleanup", "removed", n)
						}
					case <-ctx.Done():
						return
					}
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("weeme starting", "addr", httpServer.Addr, "kv", c.cfg.KVBackend, "remote", a.remote.Enabled())
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&origins, "origin", nil, "extra origin pattern allowed to open /ws (repeatable)")
	cmd.Flags().DurationVar(&backupInterval, "backup-interval", 0, "run scheduled backups this often once a passphrase is cached (0 disables)")
	cmd.Flags().DurationVar(&backupRetention, "backup-retention", 30*24*time.Hour, "delete backups older than this after each scheduled run")
	return cmd
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and upgrade stored records to the current format",
		RunE: func(cmd *cobra.Command, args []string) error {
			// openApp runs the goose migrations and the storage upgrade in session init.
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				cmd.Printf("local store %s is up to date (kv backend: %s)\n", c.cfg.DBPath, c.cfg.KVBackend)
				return nil
			})
		},
	}
}
