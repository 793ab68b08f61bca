package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent sync batches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		records, err := reg.History(limit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No syncs recorded yet.")
			return nil
		}

		for _, rec := range records {
			line := fmt.Sprintf("%s  %s  %d ok, %d skipped, %d failed, %s",
				formatWhen(rec.RecordedAt), rec.ScopeID,
				rec.Summary.Succeeded, rec.Summary.Skipped, rec.Summary.Failed,
				humanize.Bytes(uint64(rec.Summary.Bytes)))
			if rec.Summary.Failed > 0 {
				fmt.Println(red(line))
			} else {
				fmt.Println(line)
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of batches to show")
}
