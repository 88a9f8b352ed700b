package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dukerupert/weeme/internal/model"
	"github.com/dukerupert/weeme/internal/scan"
	"github.com/dukerupert/weeme/internal/schedule"
)

const timeLayout = "2006-01-02 15:04"

func printReport(w io.Writer, r model.Report) {
	fmt.Fprintf(w, "%s  score %d/100  (%s)\n", r.WebsiteURL, r.Score, r.CreatedAt.Local().Format(timeLayout))
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(w, "\n%s:\n", title)
		for _, it := range items {
			fmt.Fprintf(w, "  - %s\n", it)
		}
	}
	section("Positives", r.Positives)
	section("Negatives", r.Negatives)
	section("Suggestions", r.Suggestions)
}

func printTrackingCodes(w io.Writer, codes []model.TrackingCode) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Website", "Schedule", "Last scan", "Next scan", "Active"})
	for _, c := range codes {
		table.Append([]string{
			c.ID,
			c.WebsiteURL,
			schedule.Describe(c.ScanFrequency),
			c.LastScan.Local().Format(timeLayout),
			c.NextScan.Local().Format(timeLayout),
			strconv.FormatBool(c.IsActive),
		})
	}
	table.Render()
}

func (c *cli) scanCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "scan <url>",
		Short: "Run an SEO scan; Free accounts pay one credit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				report, err := a.scans.Scan(ctx, args[0])
				if err != nil {
					if report.ID == "" {
						return err
					}
					a.logger.Warn("scan saved but credit charge failed", "error", err)
				}
				printReport(cmd.OutOrStdout(), report)
				if acct, ok := a.sessions.Current(); ok && acct.Membership.Metered() {
					fmt.Fprintf(cmd.OutOrStdout(), "\n%d credits left\n", acct.Credits)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up on the scan after this long (0 waits)")
	return cmd
}

func (c *cli) reportsCmd() *cobra.Command {
	var show string
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List past scan reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				acct, err := a.account()
				if err != nil {
					return err
				}
				reports, err := a.reports.List(ctx, acct.ID)
				if err != nil {
					return err
				}
				if show != "" {
					for _, r := range reports {
						if r.ID == show || strings.HasPrefix(r.ID, show) {
							printReport(cmd.OutOrStdout(), r)
							return nil
						}
					}
					return fmt.Errorf("no report %q", show)
				}

				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.SetHeader([]string{"ID", "Website", "Score", "Date"})
				for _, r := range reports {
					table.Append([]string{r.ID, r.WebsiteURL, strconv.Itoa(r.Score), r.CreatedAt.Local().Format(timeLayout)})
				}
				table.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&show, "show", "", "print the full report with this id (or id prefix)")
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize scans and tracking for the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				acct, err := a.account()
				if err != nil {
					return err
				}
				reports, err := a.reports.List(ctx, acct.ID)
				if err != nil {
					return err
				}
				codes, err := a.tracking.List(ctx, acct.ID)
				if err != nil {
					return err
				}
				st := scan.Summarize(reports, codes)

				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.SetHeader([]string{"Metric", "Value"})
				table.Append([]string{"Total scans", strconv.Itoa(st.TotalScans)})
				table.Append([]string{"Average score", strconv.Itoa(st.AverageScore)})
				table.Append([]string{"Trend", fmt.Sprintf("%+d", st.Trend)})
				table.Append([]string{"Active tracking", strconv.Itoa(st.ActiveTracking)})
				table.Render()
				return nil
			})
		},
	}
}

func (c *cli) trackingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracking",
		Short: "Manage website tracking codes",
	}

	var freq string
	add := &cobra.Command{
		Use:   "add <url>",
		Short: "Create a tracking code and print its snippet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := model.ParseFrequency(freq)
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				acct, err := a.account()
				if err != nil {
					return err
				}
				code, err := a.tracking.Create(ctx, acct.ID, args[0], f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s), next scan %s\n\n%s\n",
					code.ID, schedule.Describe(code.ScanFrequency), code.NextScan.Local().Format(timeLayout), code.Code)
				return nil
			})
		},
	}
	add.Flags().StringVarP(&freq, "frequency", "f", "weekly", "weekly, biweekly or monthly")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tracking codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				acct, err := a.account()
				if err != nil {
					return err
				}
				codes, err := a.tracking.List(ctx, acct.ID)
				if err != nil {
					return err
				}
				printTrackingCodes(cmd.OutOrStdout(), codes)
				return nil
			})
		},
	}

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a tracking code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				acct, err := a.account()
				if err != nil {
					return err
				}
				return a.tracking.Delete(ctx, acct.ID, args[0])
			})
		},
	}

	due := &cobra.Command{
		Use:   "due",
		Short: "List tracking codes whose next scan has come",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				acct, err := a.account()
				if err != nil {
					return err
				}
				codes, err := a.tracking.Due(ctx, acct.ID, time.Now())
				if err != nil {
					return err
				}
				printTrackingCodes(cmd.OutOrStdout(), codes)
				return nil
			})
		},
	}

	cmd.AddCommand(add, list, rm, due)
	return cmd
}
