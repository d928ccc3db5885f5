package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"foreman/internal/config"
	"foreman/internal/debug"
	"foreman/internal/workerrt"
)

// workerCmd is the hidden entry point the spawner re-executes this binary
// with. It never appears in help output.
var workerCmd = &cobra.Command{
	Use:    "_worker",
	Hidden: true,
	RunE:   runWorker,
}

func init() {
	workerCmd.Flags().String("session", "", "Session directory (set by the spawner)")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	if !workerrt.IsWorker() {
		return fmt.Errorf("_worker must be launched by foreman delegate")
	}
	rt, err := workerrt.FromEnv()
	if err != nil {
		return err
	}
	if dir, _ := cmd.Flags().GetString("session"); dir != "" {
		rt.SessionDir = dir
	}

	// The spawner set our working directory to the worktree, so config
	// resolution picks up the repository's .foreman.yaml.
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	debug.LogKV("worker", "starting",
		"name", rt.WorkerName, "ticket", rt.TicketID, "session", rt.SessionDir)

	return rt.Run(cmd.Context(), cfg.WorkerCommand)
}
