package main

import (
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func (c *cli) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration and any warnings",
		Run: func(cmd *cobra.Command, args []string) {
			st := c.cfg.Status()
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Setting", "Value"})
			table.Append([]string{"Environment", st.Environment})
			table.Append([]string{"Database", c.cfg.DBPath})
			table.Append([]string{"KV backend", st.KVBackend})
			table.Append([]string{"Scan API", st.APIBase})
			table.Append([]string{"Remote mirror", strconv.FormatBool(st.RemoteEnabled)})
			table.Append([]string{"Backups", strconv.FormatBool(st.BackupEnabled)})
			table.Append([]string{"Max reports", strconv.Itoa(c.cfg.Limits.MaxReports)})
			table.Append([]string{"Max tracking codes", strconv.Itoa(c.cfg.Limits.MaxTrackingCodes)})
			table.Render()

			for _, w := range c.cfg.Warnings() {
				cmd.PrintErrln("warning:", w)
			}
		},
	}
}
