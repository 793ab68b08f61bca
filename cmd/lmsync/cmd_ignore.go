package main

import (
	"fmt"

	"github.com/lmsync/lmsync/internal/sync"
	"github.com/lmsync/lmsync/internal/utils"
	"github.com/spf13/cobra"
)

var ignoreCmd = &cobra.Command{
	Use:   "ignore <folder> <path>",
	Short: "Exclude a tracked file from syncing",
	Long: `Flags a tracked file so future syncs leave it alone, regardless of
remote changes. The path is relative to the folder root.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setIgnored(cmd, args, true)
	},
}

var unignoreCmd = &cobra.Command{
	Use:   "unignore <folder> <path>",
	Short: "Clear a file's ignore flag",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setIgnored(cmd, args, false)
	},
}

func setIgnored(cmd *cobra.Command, args []string, ignored bool) error {
	cmd.SilenceUsage = true

	folder, err := utils.ResolvePath(args[0])
	if err != nil {
		return err
	}
	relPath := utils.NormPath(args[1])

	manifest, err := sync.NewManifest(folder)
	if err != nil {
		return err
	}
	defer manifest.Close()

	entry, err := manifest.GetByPath(relPath)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%s is not tracked in %s (only synced files can be ignored)", relPath, folder)
	}

	if err := manifest.SetIgnored(entry.Ref, ignored); err != nil {
		return err
	}
	if ignored {
		fmt.Printf("%s %s\n", yellow("Ignoring"), relPath)
	} else {
		fmt.Printf("%s %s\n", green("Watching"), relPath)
	}
	return nil
}
