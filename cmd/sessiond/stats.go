package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print entry counts and memory cost of the local member",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		st, err := svc.Map.Stats(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Owned entries:  %s (%s)\n", humanize.Comma(st.OwnedEntryCount), formatBytes(st.OwnedEntryMemoryCost))
		fmt.Fprintf(out, "Backup entries: %s (%s)\n", humanize.Comma(st.BackupEntryCount), formatBytes(st.BackupEntryMemoryCost))
		fmt.Fprintf(out, "In flight:      %d\n", svc.Storage.InFlight())
		return nil
	},
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return strings.ReplaceAll(humanize.Bytes(uint64(n)), " ", "")
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
