package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"foreman/internal/leader"
)

var delegateCmd = &cobra.Command{
	Use:   "delegate <worker-name> [subject]",
	Short: "Hand a task off to a new worker",
	Long: `Create a ticket for the task (or adopt an existing one with --ticket),
spawn a detached worker agent on it in an isolated git worktree, and
supervise it until it finishes.

The worker reports progress as ticket notes and closes the ticket when
done. Lifecycle events are printed as they happen; Ctrl-C detaches from
supervision without stopping the worker.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelegate,
}

func init() {
	delegateCmd.Flags().StringP("ticket", "t", "", "Delegate an existing ticket instead of creating one")
	delegateCmd.Flags().StringP("description", "d", "", "Longer task description for the ticket")
	delegateCmd.Flags().StringP("model", "m", "", "Model override for the worker agent")
	delegateCmd.Flags().Bool("detach", false, "Spawn the worker and return immediately")
	delegateCmd.Flags().Bool("no-worktree", false, "Run the worker in the shared checkout instead of an isolated worktree")
	delegateCmd.Flags().Bool("no-tools", false, "Agent cannot run commands; foreman reports on the ticket for it")
	rootCmd.AddCommand(delegateCmd)
}

func runDelegate(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	name := args[0]
	subject := strings.Join(args[1:], " ")
	ticketID, _ := cmd.Flags().GetString("ticket")
	if ticketID == "" && subject == "" {
		return fmt.Errorf("a task subject is required unless --ticket is given")
	}
	description, _ := cmd.Flags().GetString("description")
	model, _ := cmd.Flags().GetString("model")
	detach, _ := cmd.Flags().GetBool("detach")
	noWorktree, _ := cmd.Flags().GetBool("no-worktree")
	noTools, _ := cmd.Flags().GetBool("no-tools")
	if model == "" {
		model = e.cfg.Model
	}

	done := make(chan struct{})
	var terminal leader.Event
	notify := func(ev leader.Event) {
		printEvent(ev)
		if ev.Kind == leader.EventCompleted || ev.Kind == leader.EventFailed {
			terminal = ev
			close(done)
		}
	}
	if detach {
		notify = func(ev leader.Event) { printEvent(ev) }
	}

	l := e.newLeader(notify)
	h, err := l.Delegate(cmd.Context(), leader.DelegateRequest{
		WorkerName:  name,
		TicketID:    ticketID,
		Subject:     subject,
		Description: description,
		Model:       model,
		NoTools:     noTools,
		SharedDir:   noWorktree,
	})
	if err != nil {
		return err
	}
	if h.Branch != "" {
		fmt.Printf("worker %s%s%s on ticket %s (branch %s)\n", colorBold, h.Name, colorReset, h.TicketID, h.Branch)
	} else {
		fmt.Printf("worker %s%s%s on ticket %s (shared checkout)\n", colorBold, h.Name, colorReset, h.TicketID)
	}

	if detach {
		l.StopPolling()
		fmt.Printf("%sdetached; use `foreman status` to check on it%s\n", colorDim, colorReset)
		return nil
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case <-done:
		l.StopPolling()
		if terminal.Kind == leader.EventFailed {
			return fmt.Errorf("worker %s failed: %s", terminal.Worker, terminal.Text)
		}
		return nil
	case <-sig:
		l.StopPolling()
		fmt.Printf("\n%sdetached; worker keeps running. `foreman status` to check on it%s\n", colorDim, colorReset)
		return nil
	}
}
