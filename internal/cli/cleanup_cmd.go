package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"foreman/internal/session"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale sessions and orphaned worktrees",
	Long: `Garbage-collect leftovers from finished or crashed workers: terminal
session directories older than the age cutoff, and worktrees whose
worker process is gone.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().Duration("max-age", 24*time.Hour, "Remove terminal sessions older than this")
	cleanupCmd.Flags().Bool("worktrees", false, "Also remove all managed worktrees with no live worker")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	maxAge, _ := cmd.Flags().GetDuration("max-age")
	worktrees, _ := cmd.Flags().GetBool("worktrees")

	removed := session.CleanupOld(e.cfg.SessionRoot, maxAge, time.Now())
	for _, dir := range removed {
		fmt.Printf("removed session %s\n", dir)
	}
	if len(removed) == 0 {
		fmt.Println("no stale sessions")
	}

	if !worktrees {
		return nil
	}

	infos, err := e.trees.ListActive(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing worktrees: %w", err)
	}

	// Worktrees still claimed by a live worker session stay.
	claimed := make(map[string]bool)
	entries, _ := session.List(e.cfg.SessionRoot)
	for _, en := range entries {
		if !en.Handle.Status.Terminal() {
			claimed[en.Handle.WorktreePath] = true
		}
	}

	for _, info := range infos {
		if claimed[info.Path] {
			continue
		}
		// Keep the branch: an orphaned worktree usually means a crashed
		// worker whose commits were never reconciled.
		if err := e.trees.Remove(cmd.Context(), info.Path, info.Branch, true); err != nil {
			fmt.Printf("%sfailed to remove %s: %v%s\n", colorYellow, info.Path, err, colorReset)
			continue
		}
		fmt.Printf("removed worktree %s\n", info.Path)
	}
	return nil
}
