package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var runsFlags struct {
	clientConfig
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List audit runs",
	Long:  `List all audit runs, newest first.`,
	RunE:  runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	addClientFlags(runsCmd, &runsFlags.clientConfig)
}

func runRuns(cmd *cobra.Command, args []string) error {
	c, err := runsFlags.newClient(true)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	runs, err := c.AuditRuns(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No audit runs found.")
		return nil
	}

	fmt.Fprintf(out, "%-36s  %-19s  %-6s  %-8s  %s\n", "ID", "CREATED", "RISK", "COMPLETE", "SITE")
	for _, r := range runs {
		created := "-"
		if s, ok := r["created_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				created = t.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-36s  %-19s  %-6s  %-8v  %s\n",
			r.ID(), created, str(r["overall_risk"]), r["is_complete"], str(r["site_url"]))
	}
	return nil
}

func str(v any) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return "-"
}
