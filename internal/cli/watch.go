package cli

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"foreman/internal/config"
	"foreman/internal/leader"
	"foreman/internal/session"
	"foreman/internal/worker"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of all workers",
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))

	m := watchModel{
		cfg:     e.cfg,
		spinner: sp,
	}
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

type watchTickMsg time.Time

type watchModel struct {
	cfg     *config.Config
	spinner spinner.Model
	workers []worker.Handle
	width   int
	now     time.Time
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, watchTick(m.cfg.PollInterval()), m.refresh)
}

func watchTick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

type watchWorkersMsg []worker.Handle

func (m watchModel) refresh() tea.Msg {
	entries, err := session.List(m.cfg.SessionRoot)
	if err != nil {
		return watchWorkersMsg(nil)
	}
	ws := make([]worker.Handle, 0, len(entries))
	for _, en := range entries {
		h := refreshHandle(en)
		if h.Status.Terminal() {
			continue
		}
		ws = append(ws, h)
	}
	return watchWorkersMsg(ws)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case watchTickMsg:
		m.now = time.Time(msg)
		return m, tea.Batch(watchTick(m.cfg.PollInterval()), m.refresh)
	case watchWorkersMsg:
		m.workers = []worker.Handle(msg)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	now := m.now
	if now.IsZero() {
		now = time.Now()
	}
	header := fmt.Sprintf("%s foreman watch  %s\n\n",
		m.spinner.View(),
		lipgloss.NewStyle().Faint(true).Render(now.Format("15:04:05")))
	return header + leader.RenderStatus(m.workers, now, m.width) +
		lipgloss.NewStyle().Faint(true).Render("\nq to quit")
}
