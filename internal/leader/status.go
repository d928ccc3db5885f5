package leader

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"foreman/internal/worker"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	nameStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	statusStyles = map[worker.Status]lipgloss.Style{
		worker.StatusSpawning: lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		worker.StatusRunning:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		worker.StatusDone:     lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		worker.StatusFailed:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		worker.StatusKilled:   lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
	}
)

// RenderStatus draws the worker table for the status command. Width
// bounds each line; zero means no truncation.
func RenderStatus(ws []worker.Handle, now time.Time, width int) string {
	if len(ws) == 0 {
		return dimStyle.Render("no active workers") + "\n"
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-12s %-10s %-10s %-8s %s", "WORKER", "TICKET", "STATUS", "IDLE", "LAST ACTIVITY")))
	b.WriteString("\n")

	for _, h := range ws {
		st, ok := statusStyles[h.Status]
		if !ok {
			st = dimStyle
		}
		line := fmt.Sprintf("%s %-10s %s %-8s %s",
			nameStyle.Render(fmt.Sprintf("%-12s", h.Name)),
			h.TicketID,
			st.Render(fmt.Sprintf("%-10s", string(h.Status))),
			idleFor(h, now),
			activityLine(h),
		)
		if width > 0 {
			line = ansi.Truncate(line, width, "…")
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func idleFor(h worker.Handle, now time.Time) string {
	ref := h.LastActivityAt
	if h.ProcActivityAt.After(ref) {
		ref = h.ProcActivityAt
	}
	if ref.IsZero() {
		return "-"
	}
	d := now.Sub(ref)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func activityLine(h worker.Handle) string {
	if h.HasActiveChildProcess && h.CurrentCommand != "" {
		return h.CurrentCommand
	}
	if h.LastNote != "" {
		return dimStyle.Render(firstLine(h.LastNote))
	}
	return dimStyle.Render("(idle)")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
