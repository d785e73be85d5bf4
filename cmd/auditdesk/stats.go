package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsFlags struct {
	clientConfig
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dashboard statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	addClientFlags(statsCmd, &statsFlags.clientConfig)
}

func runStats(cmd *cobra.Command, args []string) error {
	c, err := statsFlags.newClient(true)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	stats, err := c.DashboardStats(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if stats.LatestAudit == nil {
		fmt.Fprintln(out, "Latest audit:         none")
	} else {
		fmt.Fprintf(out, "Latest audit:         %s (%s)\n", stats.LatestAudit.ID(), str(stats.LatestAudit["site_url"]))
	}
	fmt.Fprintf(out, "Findings:             %d\n", len(stats.Findings))
	fmt.Fprintf(out, "Pages and flows:      %d\n", stats.PagesFlowsCount)
	fmt.Fprintf(out, "Trackers and cookies: %d\n", stats.TrackersCookiesCount)
	fmt.Fprintf(out, "Third-party vendors:  %d\n", stats.ThirdPartyVendorsCount)
	return nil
}
