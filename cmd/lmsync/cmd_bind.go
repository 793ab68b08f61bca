package main

import (
	"fmt"

	"github.com/lmsync/lmsync/internal/utils"
	"github.com/spf13/cobra"
)

var bindCmd = &cobra.Command{
	Use:   "bind <folder> <course-id>",
	Short: "Bind a local folder to a course",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		folder, err := utils.ResolvePath(args[0])
		if err != nil {
			return err
		}
		if err := utils.EnsureDir(folder); err != nil {
			return fmt.Errorf("create folder: %w", err)
		}

		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = args[1]
		}

		reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		if err := reg.Bind(folder, args[1], name); err != nil {
			return err
		}
		fmt.Printf("%s %s -> course %s\n", green("Bound"), folder, args[1])
		return nil
	},
}

var unbindCmd = &cobra.Command{
	Use:   "unbind <folder>",
	Short: "Remove a folder's course binding",
	Long: `Removes the binding only. The folder, its files and its sync
manifest are left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		folder, err := utils.ResolvePath(args[0])
		if err != nil {
			return err
		}

		reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		if err := reg.Unbind(folder); err != nil {
			return err
		}
		fmt.Printf("%s %s\n", green("Unbound"), folder)
		return nil
	},
}

func init() {
	bindCmd.Flags().String("name", "", "display name for the course")
}
