package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"foreman/internal/leader"
	"foreman/internal/procwatch"
	"foreman/internal/session"
	"foreman/internal/worker"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"st", "ls"},
	Short:   "Show all workers and what they are doing",
	RunE:    runStatus,
}

func init() {
	statusCmd.Flags().Bool("all", false, "Include finished workers still on disk")
	statusCmd.Flags().String("tag", "", "Only show workers whose ticket carries this tag")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	all, _ := cmd.Flags().GetBool("all")
	tag, _ := cmd.Flags().GetString("tag")

	entries, err := session.List(e.cfg.SessionRoot)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	ws := make([]worker.Handle, 0, len(entries))
	for _, en := range entries {
		h := refreshHandle(en)
		if !all && h.Status.Terminal() {
			continue
		}
		ws = append(ws, h)
	}

	if tag != "" {
		ids, err := e.tickets.ListTagged(cmd.Context(), tag)
		if err != nil {
			return fmt.Errorf("listing tickets tagged %q: %w", tag, err)
		}
		ws = filterByTickets(ws, ids)
	}

	width := 0
	if isatty.IsTerminal(os.Stdout.Fd()) {
		width = termWidth()
	}
	fmt.Print(leader.RenderStatus(ws, time.Now(), width))
	return nil
}

// filterByTickets keeps the workers assigned to one of the given tickets.
func filterByTickets(ws []worker.Handle, ids []string) []worker.Handle {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	out := make([]worker.Handle, 0, len(ws))
	for _, h := range ws {
		if keep[h.TicketID] {
			out = append(out, h)
		}
	}
	return out
}

// refreshHandle overlays live signals on a handle read from disk: a dead
// process on a non-terminal session means the worker failed while nobody
// was supervising it.
func refreshHandle(en session.Entry) worker.Handle {
	h := en.Handle
	if h.Status.Terminal() {
		return h
	}
	alive := procwatch.Alive(h.PID)
	if act := session.LastActivity(en.Dir); act.After(h.LastActivityAt) {
		h.LastActivityAt = act
	}
	h.Status = worker.Next(h.Status, alive, false)
	return h
}

// termWidth is best effort; zero disables truncation.
func termWidth() int {
	if cols := os.Getenv("COLUMNS"); cols != "" {
		var n int
		if _, err := fmt.Sscanf(cols, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return 0
}
