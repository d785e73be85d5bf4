package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var exportFlags struct {
	clientConfig
	output string
}

var exportCmd = &cobra.Command{
	Use:   "export <audit-run-id>",
	Short: "Export an audit run with all of its children as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	addClientFlags(exportCmd, &exportFlags.clientConfig)
	exportCmd.Flags().StringVarP(&exportFlags.output, "output", "o", "", "write to file instead of stdout")
}

func runExport(cmd *cobra.Command, args []string) error {
	c, err := exportFlags.newClient(true)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	full, err := c.FullAuditData(ctx, args[0])
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(full, "", "  ")
	if err != nil {
		return err
	}

	if exportFlags.output == "" {
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return nil
	}
	if err := os.WriteFile(exportFlags.output, append(b, '\n'), 0o600); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", exportFlags.output)
	return nil
}
