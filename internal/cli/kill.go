package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"foreman/internal/cleanup"
	"foreman/internal/session"
	"foreman/internal/worker"
)

var killCmd = &cobra.Command{
	Use:   "kill <worker-name>|--all",
	Short: "Stop a worker and clean up its resources",
	Long: `Terminate the worker's process, auto-commit any uncommitted work in its
worktree, and remove the worktree and session. Work already committed on
the worker's branch is preserved under a ".done" branch name unless
--discard is given.

kill works on any worker found on disk, whether or not this process
spawned it.`,
	RunE: runKill,
}

func init() {
	killCmd.Flags().Bool("all", false, "Kill every active worker")
	killCmd.Flags().Bool("discard", false, "Drop the branch even if it has commits")
	killCmd.Flags().Bool("keep-session", false, "Leave the session directory on disk")
	rootCmd.AddCommand(killCmd)
}

func runKill(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	all, _ := cmd.Flags().GetBool("all")
	discard, _ := cmd.Flags().GetBool("discard")
	keep, _ := cmd.Flags().GetBool("keep-session")
	keep = keep || e.cfg.KeepSessions

	var targets []session.Entry
	if all {
		entries, err := session.List(e.cfg.SessionRoot)
		if err != nil {
			return err
		}
		for _, en := range entries {
			if !en.Handle.Status.Terminal() {
				targets = append(targets, en)
			}
		}
		if len(targets) == 0 {
			fmt.Println("no active workers")
			return nil
		}
	} else {
		if len(args) != 1 {
			return fmt.Errorf("worker name required (or --all)")
		}
		en, err := e.findSession(args[0])
		if err != nil {
			return err
		}
		targets = append(targets, *en)
	}

	opts := cleanup.Options{Preserve: !discard, KeepSession: keep}
	var failed int
	for _, en := range targets {
		h := en.Handle
		h.Status = worker.StatusKilled
		r := e.cleaner.Cleanup(cmd.Context(), h, opts)
		if keep {
			session.SaveMeta(en.Dir, h)
		}
		switch {
		case r.BranchPreserved:
			fmt.Printf("%s%s%s killed, work preserved on %s%s%s\n",
				colorBold, h.Name, colorReset, colorGreen, r.PreservedBranch, colorReset)
		default:
			fmt.Printf("%s%s%s killed\n", colorBold, h.Name, colorReset)
		}
		if err := r.Err(); err != nil {
			failed++
			fmt.Printf("  %s%v%s\n", colorYellow, err, colorReset)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d worker(s) cleaned up with errors", failed)
	}
	return nil
}
