package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"foreman/internal/workerrt"
	"foreman/pkg/protocol"
)

var instructionsCmd = &cobra.Command{
	Use:   "instructions [worker-name ticket-id]",
	Short: "Print the reporting protocol for a worker agent",
	Long: `Print the system prompt fragment that teaches a worker agent how to
report progress and completion on its ticket. Inside a worker process the
name and ticket come from the environment; otherwise pass them as
arguments.`,
	RunE: runInstructions,
}

func init() {
	rootCmd.AddCommand(instructionsCmd)
}

func runInstructions(cmd *cobra.Command, args []string) error {
	if len(args) == 2 {
		fmt.Print(protocol.WorkerInstructions(args[0], args[1]))
		return nil
	}
	if workerrt.IsWorker() {
		rt, err := workerrt.FromEnv()
		if err != nil {
			return err
		}
		fmt.Print(protocol.WorkerInstructions(rt.WorkerName, rt.TicketID))
		return nil
	}
	return fmt.Errorf("pass <worker-name> <ticket-id>, or run inside a worker")
}
