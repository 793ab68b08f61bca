package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/lmsync/lmsync/internal/lms"
	"github.com/lmsync/lmsync/internal/sync"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync [folder...]",
	Short: "Synchronize bound folders with their courses",
	Long: `Analyzes each bound folder against its course, shows the planned
actions, and downloads after confirmation. With no arguments every bound
folder is synced.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().SortFlags = false
	syncCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	syncCmd.Flags().Bool("dry-run", false, "analyze and show the plan without downloading")
	syncCmd.Flags().Bool("restore-deleted", false, "also re-download files you deleted locally")
	syncCmd.Flags().Int("workers", 0, "concurrent downloads per course")
}

func runSync(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	source, err := newSourceClient()
	if err != nil {
		return err
	}
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	bindings, err := resolveBindings(reg, args)
	if err != nil {
		return err
	}
	if len(bindings) == 0 {
		fmt.Println("No folders bound yet. Run 'lmsync bind <folder> <course-id>' first.")
		return nil
	}

	opts := engineOptions()
	if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
		opts.Workers = n
	}

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		return runDryRun(cmd, source, bindings, opts)
	}

	autoYes, _ := cmd.Flags().GetBool("yes")
	restoreDeleted, _ := cmd.Flags().GetBool("restore-deleted")

	runner := sync.NewRunner(source, opts, func(plan *sync.Plan) []*sync.Action {
		printPlan(plan)
		selected := selectActions(plan, restoreDeleted)
		if len(selected) == 0 {
			fmt.Println(green("Nothing to do."))
			return nil
		}
		if !autoYes && !promptYesNo(fmt.Sprintf("Proceed with %d action(s)?", len(selected))) {
			fmt.Println(yellow("Skipped."))
			return nil
		}
		return selected
	}, reg)

	summary, err := runner.Run(cmd.Context(), bindings)
	printSummary(summary)
	return err
}

func runDryRun(cmd *cobra.Command, source lms.Source, bindings []sync.ScopeBinding, opts sync.Options) error {
	for _, binding := range bindings {
		session, err := sync.NewSession(source, binding.ScopeID, binding.Folder, opts)
		if err != nil {
			return err
		}
		plan, err := session.Analyze(cmd.Context())
		closeErr := session.Close()
		if err != nil {
			return fmt.Errorf("analyze %s: %w", binding.Folder, err)
		}
		if closeErr != nil {
			return closeErr
		}
		printPlan(plan)
	}
	return nil
}

// selectActions picks the work a default sync performs: everything pending
// except locally deleted files, which only move with an explicit opt-in.
func selectActions(plan *sync.Plan, restoreDeleted bool) []*sync.Action {
	var out []*sync.Action
	for _, a := range plan.Pending() {
		if a.Category == sync.CategoryLocallyDeleted && !restoreDeleted {
			continue
		}
		out = append(out, a)
	}
	return out
}

func printPlan(plan *sync.Plan) {
	counts := plan.Counts()
	fmt.Printf("\n%s %s\n", cyan("Course"), plan.ScopeID)
	fmt.Printf("  new: %d  updated: %d  missing: %d  deleted locally: %d  ignored: %d  unchanged: %d\n",
		counts[sync.CategoryNew], counts[sync.CategoryUpdated],
		counts[sync.CategoryMissingLocally], counts[sync.CategoryLocallyDeleted],
		counts[sync.CategoryIgnored], counts[sync.CategoryUnchanged])

	for _, a := range plan.Actions {
		switch a.Category {
		case sync.CategoryNew:
			fmt.Printf("  %s %s\n", green("+"), a.RelPath)
		case sync.CategoryUpdated:
			fmt.Printf("  %s %s\n", yellow("~"), a.RelPath)
		case sync.CategoryMissingLocally:
			fmt.Printf("  %s %s\n", yellow("?"), a.RelPath)
		case sync.CategoryLocallyDeleted:
			fmt.Printf("  %s %s (deleted locally, kept)\n", red("-"), a.RelPath)
		}
	}
	for _, gone := range plan.RemoteGone {
		fmt.Printf("  %s %s (no longer on the course)\n", red("x"), gone.LocalPath)
	}
	for _, warning := range plan.Warnings {
		fmt.Printf("  %s %s\n", yellow("!"), warning)
	}
}

func printSummary(summary *sync.BatchSummary) {
	if summary == nil {
		return
	}
	fmt.Printf("\n%s %d succeeded, %d skipped, %d failed, %s in %s\n",
		cyan("Done:"), summary.Succeeded, summary.Skipped, summary.Failed,
		humanize.Bytes(uint64(summary.Bytes)), summary.Elapsed().Round(humanizeRound))
	for _, f := range summary.Failures {
		fmt.Printf("  %s %s: %s (%s, %d attempt(s))\n",
			red("failed"), f.DisplayName, f.Message, f.Kind, f.Attempts)
	}
}

func promptYesNo(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
