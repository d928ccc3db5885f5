package cli

import (
	"fmt"
	"os/exec"
	"strings"

	"foreman/internal/cleanup"
	"foreman/internal/config"
	"foreman/internal/leader"
	"foreman/internal/session"
	"foreman/internal/spawn"
	"foreman/internal/ticket"
	"foreman/internal/worktree"
)

// repoRoot resolves the enclosing git repository's top level.
func repoRoot() (string, error) {
	out, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return "", fmt.Errorf("not inside a git repository")
	}
	return strings.TrimSpace(string(out)), nil
}

// env holds the wired-up collaborators for one command invocation.
type env struct {
	root    string
	cfg     *config.Config
	tickets *ticket.Client
	trees   *worktree.Manager
	cleaner *cleanup.Service
}

func openEnv() (*env, error) {
	root, err := repoRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	trees := worktree.NewManager(root)
	return &env{
		root:    root,
		cfg:     cfg,
		tickets: ticket.NewClient(cfg.TicketBin, root),
		trees:   trees,
		cleaner: &cleanup.Service{Worktrees: trees},
	}, nil
}

func (e *env) newLeader(notify func(leader.Event)) *leader.Leader {
	spawner := &spawn.Spawner{
		Worktrees:   e.trees,
		SessionRoot: e.cfg.SessionRoot,
	}
	return leader.New(e.tickets, spawner, e.cleaner, e.cfg, notify)
}

// findSession locates the newest active session for a worker name.
func (e *env) findSession(workerName string) (*session.Entry, error) {
	return session.Find(e.cfg.SessionRoot, workerName)
}

func printEvent(ev leader.Event) {
	var color string
	switch ev.Kind {
	case leader.EventCompleted:
		color = colorGreen
	case leader.EventFailed:
		color = colorRed
	case leader.EventStuck:
		color = colorYellow
	case leader.EventComment:
		color = colorCyan
	default:
		color = colorDim
	}
	fmt.Printf("%s[%s]%s %s%s%s %s\n",
		color, ev.Kind, colorReset, colorBold, ev.Worker, colorReset, ev.Text)
}
