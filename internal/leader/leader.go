// Package leader is the orchestration core: it delegates tickets to
// workers, polls their three liveness signals on a timer, surfaces
// lifecycle events, and tears workers down when they finish.
package leader

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"foreman/internal/cleanup"
	"foreman/internal/config"
	"foreman/internal/debug"
	"foreman/internal/poll"
	"foreman/internal/procwatch"
	"foreman/internal/session"
	"foreman/internal/spawn"
	"foreman/internal/ticket"
	"foreman/internal/worker"
)

type ticketAPI interface {
	Create(ctx context.Context, subject, description string) (string, error)
	Start(ctx context.Context, id string) error
	AddNote(ctx context.Context, id, text string) error
	Close(ctx context.Context, id string) error
	Show(ctx context.Context, id string) (*ticket.Ticket, error)
}

type spawnAPI interface {
	Spawn(ctx context.Context, req spawn.Request) (worker.Handle, error)
}

type cleanupAPI interface {
	Cleanup(ctx context.Context, h worker.Handle, opts cleanup.Options) cleanup.Report
}

// EventKind classifies a notification from one polling round.
type EventKind string

const (
	EventSpawned   EventKind = "spawned"
	EventComment   EventKind = "comment"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventStuck     EventKind = "stuck"
	EventKilled    EventKind = "killed"
)

// Event is one worker lifecycle notification.
type Event struct {
	Kind   EventKind
	Worker string
	Ticket string
	Text   string
	At     time.Time
}

// Leader owns the worker registry and the polling loop.
type Leader struct {
	tickets ticketAPI
	spawner spawnAPI
	cleaner cleanupAPI
	cfg     *config.Config

	// session identifies this leader in the env contract handed to
	// spawned workers.
	session string

	// notify receives lifecycle events; nil means drop them.
	notify func(Event)

	mu      sync.Mutex
	workers map[string]worker.Handle

	pollMu   sync.Mutex
	stopPoll chan struct{}
	pollDone chan struct{}

	// now and alive are swapped in tests.
	now   func() time.Time
	alive func(pid int) bool
}

// New builds a Leader around the given collaborators.
func New(tickets ticketAPI, spawner spawnAPI, cleaner cleanupAPI, cfg *config.Config, notify func(Event)) *Leader {
	return &Leader{
		tickets: tickets,
		spawner: spawner,
		cleaner: cleaner,
		cfg:     cfg,
		session: fmt.Sprintf("leader-%d", os.Getpid()),
		notify:  notify,
		workers: make(map[string]worker.Handle),
		now:     time.Now,
		alive:   procwatch.Alive,
	}
}

// DelegateRequest describes one task hand-off.
type DelegateRequest struct {
	WorkerName string

	// TicketID adopts an existing ticket instead of creating one from
	// Subject. The ticket is still started, so delegation always leaves
	// it in progress.
	TicketID string

	Subject     string
	Description string
	Model       string
	// NoTools marks the agent as unable to run commands; the worker
	// runtime then reports on the ticket for it.
	NoTools bool
	// SharedDir skips worktree isolation and runs the worker in the
	// repository's own checkout.
	SharedDir bool
}

// Delegate creates and starts a ticket for the task, spawns a worker on
// it, and registers the worker for polling. An active worker under the
// same name is rejected; terminal names may be reused.
func (l *Leader) Delegate(ctx context.Context, req DelegateRequest) (worker.Handle, error) {
	var zero worker.Handle
	name := strings.TrimSpace(req.WorkerName)
	if name == "" {
		return zero, fmt.Errorf("worker name is required")
	}
	ticketID := strings.TrimSpace(req.TicketID)
	if ticketID == "" && strings.TrimSpace(req.Subject) == "" {
		return zero, fmt.Errorf("task subject or ticket id is required")
	}

	l.mu.Lock()
	if h, ok := l.workers[name]; ok && !h.Status.Terminal() {
		l.mu.Unlock()
		return zero, fmt.Errorf("worker %q is already active on ticket %s", name, h.TicketID)
	}
	l.mu.Unlock()

	if ticketID == "" {
		id, err := l.tickets.Create(ctx, req.Subject, req.Description)
		if err != nil {
			return zero, fmt.Errorf("creating ticket: %w", err)
		}
		ticketID = id
	}
	if err := l.tickets.Start(ctx, ticketID); err != nil {
		return zero, fmt.Errorf("starting ticket %s: %w", ticketID, err)
	}

	h, err := l.spawner.Spawn(ctx, spawn.Request{
		WorkerName:     name,
		TicketID:       ticketID,
		TicketBin:      l.cfg.TicketBin,
		Model:          req.Model,
		LeaderSession:  l.session,
		HasTools:       !req.NoTools,
		SharedDir:      req.SharedDir,
		PollInterval:   l.cfg.PollInterval(),
		StuckThreshold: l.cfg.StuckThreshold(),
	})
	if err != nil {
		return zero, fmt.Errorf("spawning worker %q: %w", name, err)
	}

	l.mu.Lock()
	l.workers[name] = h
	l.mu.Unlock()

	l.emit(Event{Kind: EventSpawned, Worker: name, Ticket: ticketID,
		Text: fmt.Sprintf("spawned on %s (pid %d)", ticketID, h.PID), At: l.now()})
	l.StartPolling()
	return h, nil
}

// Comment appends a note to a worker's ticket from the leader side.
func (l *Leader) Comment(ctx context.Context, workerName, text string) error {
	l.mu.Lock()
	h, ok := l.workers[workerName]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown worker %q", workerName)
	}
	if err := l.tickets.AddNote(ctx, h.TicketID, text); err != nil {
		return err
	}
	// Our own note counts as seen; polling should not echo it back.
	l.mu.Lock()
	if cur, ok := l.workers[workerName]; ok {
		cur.LastSeenCommentCount++
		l.workers[workerName] = cur
	}
	l.mu.Unlock()
	return nil
}

// Kill forcefully stops a worker and cleans its resources up. With
// discard set, committed work on the branch is dropped instead of being
// preserved.
func (l *Leader) Kill(ctx context.Context, workerName string, discard bool) error {
	l.mu.Lock()
	h, ok := l.workers[workerName]
	if ok {
		delete(l.workers, workerName)
	}
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown worker %q", workerName)
	}

	h.Status = worker.StatusKilled
	r := l.cleaner.Cleanup(ctx, h, cleanup.Options{
		Preserve:    !discard,
		KeepSession: l.cfg.KeepSessions,
	})
	l.emit(Event{Kind: EventKilled, Worker: workerName, Ticket: h.TicketID,
		Text: killText(r), At: l.now()})
	l.maybeStopPolling()
	return r.Err()
}

// KillAll stops every registered worker. Errors are joined; all workers
// are attempted regardless.
func (l *Leader) KillAll(ctx context.Context, discard bool) error {
	l.mu.Lock()
	names := make([]string, 0, len(l.workers))
	for name := range l.workers {
		names = append(names, name)
	}
	l.mu.Unlock()
	sort.Strings(names)

	var errs []string
	for _, name := range names {
		if err := l.Kill(ctx, name, discard); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("kill all: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Workers returns a snapshot of the registry, sorted by name.
func (l *Leader) Workers() []worker.Handle {
	l.mu.Lock()
	out := make([]worker.Handle, 0, len(l.workers))
	for _, h := range l.workers {
		out = append(out, h)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StartPolling arms the polling loop if it is not already running.
func (l *Leader) StartPolling() {
	l.pollMu.Lock()
	defer l.pollMu.Unlock()
	if l.stopPoll != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	l.stopPoll = stop
	l.pollDone = done
	interval := l.cfg.PollInterval()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				l.Tick(context.Background())
			}
		}
	}()
	debug.LogKV("leader", "polling started", "interval", interval)
}

// StopPolling disarms the polling loop and waits for the in-flight round.
func (l *Leader) StopPolling() {
	l.pollMu.Lock()
	stop, done := l.stopPoll, l.pollDone
	l.stopPoll, l.pollDone = nil, nil
	l.pollMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	debug.LogKV("leader", "polling stopped")
}

// maybeStopPolling disarms the loop once the registry empties. The
// teardown runs on its own goroutine because Tick calls this from the
// polling goroutine itself, which cannot wait for its own exit.
func (l *Leader) maybeStopPolling() {
	go l.stopIfEmpty()
}

// stopIfEmpty re-checks registry emptiness while holding pollMu, so a
// Delegate that lands between the emptying tick and this teardown keeps
// its polling loop: either it registers the worker first and the stop
// aborts here, or the stop completes first and StartPolling re-arms.
func (l *Leader) stopIfEmpty() {
	l.pollMu.Lock()
	defer l.pollMu.Unlock()
	if l.stopPoll == nil {
		return
	}
	l.mu.Lock()
	empty := len(l.workers) == 0
	l.mu.Unlock()
	if !empty {
		return
	}
	close(l.stopPoll)
	<-l.pollDone
	l.stopPoll, l.pollDone = nil, nil
	debug.LogKV("leader", "polling stopped", "reason", "registry empty")
}

// Tick runs one polling round over every registered worker.
func (l *Leader) Tick(ctx context.Context) {
	for _, h := range l.Workers() {
		l.pollOne(ctx, h)
	}
	l.maybeStopPolling()
}

func (l *Leader) pollOne(ctx context.Context, h worker.Handle) {
	sig := l.observe(ctx, h)
	updated, ev := poll.Evaluate(h, sig, l.cfg.StuckThreshold())

	l.mu.Lock()
	if _, ok := l.workers[h.Name]; !ok {
		// Killed while we were observing; nothing to record.
		l.mu.Unlock()
		return
	}
	l.workers[h.Name] = updated
	l.mu.Unlock()

	if updated.SessionDir != "" {
		session.SaveMeta(updated.SessionDir, updated)
	}

	for _, note := range ev.NewComments {
		l.emit(Event{Kind: EventComment, Worker: h.Name, Ticket: h.TicketID, Text: note.Text, At: l.now()})
	}
	if ev.Stuck {
		l.emit(Event{Kind: EventStuck, Worker: h.Name, Ticket: h.TicketID,
			Text: fmt.Sprintf("no activity for %s", ev.Idle.Round(time.Second)), At: l.now()})
	}
	if !ev.Terminal() {
		return
	}

	l.mu.Lock()
	delete(l.workers, h.Name)
	l.mu.Unlock()

	r := l.cleaner.Cleanup(ctx, updated, cleanup.Options{
		Preserve:    true,
		KeepSession: l.cfg.KeepSessions,
	})
	switch {
	case ev.Completed:
		text := poll.ResultText(updated)
		if r.BranchPreserved {
			text += fmt.Sprintf(" [branch %s]", r.PreservedBranch)
		}
		l.emit(Event{Kind: EventCompleted, Worker: h.Name, Ticket: h.TicketID, Text: text, At: l.now()})
	case ev.Failed:
		text := ev.FailReason
		if r.BranchPreserved {
			text += fmt.Sprintf(" [partial work on %s]", r.PreservedBranch)
		}
		l.emit(Event{Kind: EventFailed, Worker: h.Name, Ticket: h.TicketID, Text: text, At: l.now()})
	}
}

// observe gathers the three liveness signals for one worker. A failing
// ticket show is transient; the round proceeds on the remaining signals.
func (l *Leader) observe(ctx context.Context, h worker.Handle) poll.Signals {
	sig := poll.Signals{
		Now:          l.now(),
		ProcessAlive: l.alive(h.PID),
	}

	tk, err := l.tickets.Show(ctx, h.TicketID)
	if err != nil {
		sig.TicketErr = err
		debug.LogKV("leader", "ticket show failed", "worker", h.Name, "ticket", h.TicketID, "error", err)
	} else {
		sig.Ticket = tk
	}

	if h.SessionDir != "" {
		sig.SessionActivity = session.LastActivity(h.SessionDir)
	}

	if sig.ProcessAlive {
		if table, err := procwatch.Snapshot(); err == nil {
			kids := procwatch.Descendants(table, h.PID)
			sig.ChildCount = len(kids)
			sig.HasActiveChild = len(kids) > 0
			if len(kids) > 0 {
				sig.CurrentCommand = kids[len(kids)-1].Command
				sig.ProcActivity = sig.Now
			}
		}
	}
	return sig
}

func (l *Leader) emit(ev Event) {
	if l.notify == nil {
		return
	}
	l.notify(ev)
}

func killText(r cleanup.Report) string {
	if r.BranchPreserved {
		return fmt.Sprintf("killed, partial work preserved on %s", r.PreservedBranch)
	}
	return "killed"
}
