package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bound folders and their last sync time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		bindings, err := reg.Bindings()
		if err != nil {
			return err
		}
		if len(bindings) == 0 {
			fmt.Println("No folders bound yet. Run 'lmsync bind <folder> <course-id>' first.")
			return nil
		}

		for _, b := range bindings {
			fmt.Printf("%s (%s)\n", cyan(b.ScopeName), b.ScopeID)
			fmt.Printf("  folder:      %s\n", b.Folder)
			fmt.Printf("  last synced: %s\n", formatWhen(b.LastSyncedAt))
		}
		return nil
	},
}
