package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

const passphraseEnv = "WEEME_BACKUP_PASSPHRASE"

func (c *cli) backupCmd() *cobra.Command {
	var passphrase string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Encrypted backups of the local store in S3-compatible storage",
	}
	cmd.PersistentFlags().StringVar(&passphrase, "passphrase", "", "encryption passphrase (default $"+passphraseEnv+")")

	resolve := func() (string, error) {
		if passphrase != "" {
			return passphrase, nil
		}
		if p := os.Getenv(passphraseEnv); p != "" {
			return p, nil
		}
		return "", errors.New("a passphrase is required: pass --passphrase or set " + passphraseEnv)
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Back up the local store now",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := resolve()
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				b, err := a.backups.RunNow(ctx, pass)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "backup %d uploaded to %s (%s)\n",
					b.ID, b.S3Key, humanize.Bytes(uint64(b.SizeBytes)))
				return nil
			})
		},
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				backups, err := a.backups.List(ctx, limit)
				if err != nil {
					return err
				}
				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.SetHeader([]string{"ID", "Status", "Size", "Created", "Key"})
				for _, b := range backups {
					size := "-"
					if b.SizeBytes > 0 {
						size = humanize.Bytes(uint64(b.SizeBytes))
					}
					status := string(b.Status)
					if b.ErrorMessage != "" {
						status += ": " + b.ErrorMessage
					}
					table.Append([]string{
						strconv.FormatInt(b.ID, 10),
						status,
						size,
						humanize.Time(b.CreatedAt),
						b.S3Key,
					})
				}
				table.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum number of backups to show")

	var out string
	restore := &cobra.Command{
		Use:   "restore <id>",
		Short: "Download, decrypt and verify a backup into a new file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid backup id %q", args[0])
			}
			pass, err := resolve()
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				dst := out
				if dst == "" {
					dst = fmt.Sprintf("%s.restored-%s", a.cfg.DBPath, time.Now().Format("20060102-150405"))
				}
				if dst == a.cfg.DBPath {
					return errors.New("refusing to restore over the open store; choose another --out and swap it in while weeme is stopped")
				}
				if err := a.backups.Restore(ctx, id, pass, dst); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "backup %d restored to %s\n", id, dst)
				return nil
			})
		},
	}
	restore.Flags().StringVarP(&out, "out", "o", "", "where to write the restored store (default <db>.restored-<time>)")

	cmd.AddCommand(run, list, restore)
	return cmd
}
