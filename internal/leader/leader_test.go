package leader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"foreman/internal/cleanup"
	"foreman/internal/config"
	"foreman/internal/spawn"
	"foreman/internal/ticket"
	"foreman/internal/worker"
)

type fakeTickets struct {
	mu      sync.Mutex
	nextID  int
	tickets map[string]*ticket.Ticket
	started []string
	notes   map[string][]string
	showErr error
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{tickets: make(map[string]*ticket.Ticket), notes: make(map[string][]string)}
}

func (f *fakeTickets) Create(ctx context.Context, subject, description string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("p-%d", f.nextID)
	f.tickets[id] = &ticket.Ticket{ID: id, Status: "open", Subject: subject, Description: description}
	return id, nil
}

func (f *fakeTickets) Start(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	if tk, ok := f.tickets[id]; ok {
		tk.Status = "in-progress"
	}
	return nil
}

func (f *fakeTickets) AddNote(ctx context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes[id] = append(f.notes[id], text)
	if tk, ok := f.tickets[id]; ok {
		tk.Notes = append(tk.Notes, ticket.Note{Timestamp: "now", Text: text})
	}
	return nil
}

func (f *fakeTickets) Close(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tk, ok := f.tickets[id]; ok {
		tk.Status = "closed"
	}
	return nil
}

func (f *fakeTickets) Show(ctx context.Context, id string) (*ticket.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.showErr != nil {
		return nil, f.showErr
	}
	tk, ok := f.tickets[id]
	if !ok {
		return nil, fmt.Errorf("no such ticket %s", id)
	}
	cp := *tk
	cp.Notes = append([]ticket.Note(nil), tk.Notes...)
	return &cp, nil
}

func (f *fakeTickets) setStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets[id].Status = status
}

type fakeSpawner struct {
	mu       sync.Mutex
	nextPID  int
	requests []spawn.Request
}

func (f *fakeSpawner) Spawn(ctx context.Context, req spawn.Request) (worker.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPID++
	f.requests = append(f.requests, req)
	return worker.Handle{
		Name:      req.WorkerName,
		PID:       100000 + f.nextPID,
		TicketID:  req.TicketID,
		Status:    worker.StatusRunning,
		SpawnedAt: time.Now().UTC(),
	}, nil
}

type fakeCleaner struct {
	mu    sync.Mutex
	calls []cleanup.Options
	names []string
}

func (f *fakeCleaner) Cleanup(ctx context.Context, h worker.Handle, opts cleanup.Options) cleanup.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	f.names = append(f.names, h.Name)
	return cleanup.Report{Terminated: true, WorktreeRemoved: true, SessionRemoved: true}
}

type harness struct {
	leader  *Leader
	tickets *fakeTickets
	spawner *fakeSpawner
	cleaner *fakeCleaner

	mu     sync.Mutex
	events []Event

	aliveMu sync.Mutex
	dead    map[int]bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		tickets: newFakeTickets(),
		spawner: &fakeSpawner{},
		cleaner: &fakeCleaner{},
		dead:    make(map[int]bool),
	}
	// A huge interval keeps the background loop from racing the manual
	// Tick calls below.
	cfg := &config.Config{PollIntervalMS: 3600000}
	h.leader = New(h.tickets, h.spawner, h.cleaner, cfg, func(ev Event) {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
	})
	h.leader.alive = func(pid int) bool {
		h.aliveMu.Lock()
		defer h.aliveMu.Unlock()
		return !h.dead[pid]
	}
	t.Cleanup(h.leader.StopPolling)
	return h
}

func (h *harness) markDead(pid int) {
	h.aliveMu.Lock()
	h.dead[pid] = true
	h.aliveMu.Unlock()
}

func (h *harness) eventKinds() []EventKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	kinds := make([]EventKind, len(h.events))
	for i, ev := range h.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (h *harness) lastEvent() Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) == 0 {
		return Event{}
	}
	return h.events[len(h.events)-1]
}

func TestDelegate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	hd, err := h.leader.Delegate(ctx, DelegateRequest{WorkerName: "alice", Subject: "Fix the build"})
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	if hd.TicketID != "p-1" {
		t.Errorf("TicketID = %q", hd.TicketID)
	}
	if len(h.tickets.started) != 1 || h.tickets.started[0] != "p-1" {
		t.Errorf("started = %v, ticket must be started before spawn", h.tickets.started)
	}
	if len(h.spawner.requests) != 1 || h.spawner.requests[0].TicketID != "p-1" {
		t.Errorf("spawn requests = %+v", h.spawner.requests)
	}
	if kinds := h.eventKinds(); len(kinds) != 1 || kinds[0] != EventSpawned {
		t.Errorf("events = %v", kinds)
	}
	if ws := h.leader.Workers(); len(ws) != 1 || ws[0].Name != "alice" {
		t.Errorf("Workers = %+v", ws)
	}
}

func TestDelegateAdoptsExistingTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Seed a ticket that already exists outside this leader.
	id, err := h.tickets.Create(ctx, "Pre-filed bug", "")
	if err != nil {
		t.Fatal(err)
	}

	hd, err := h.leader.Delegate(ctx, DelegateRequest{WorkerName: "alice", TicketID: id})
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	if hd.TicketID != id {
		t.Errorf("TicketID = %q, want %q", hd.TicketID, id)
	}
	// Adoption must not mint a second ticket, but must still start the
	// adopted one.
	if h.tickets.nextID != 1 {
		t.Errorf("tickets created = %d, adoption must not create another", h.tickets.nextID)
	}
	if len(h.tickets.started) != 1 || h.tickets.started[0] != id {
		t.Errorf("started = %v", h.tickets.started)
	}
}

func TestDelegateRejectsDuplicateActiveName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.leader.Delegate(ctx, DelegateRequest{WorkerName: "alice", Subject: "one"}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.leader.Delegate(ctx, DelegateRequest{WorkerName: "alice", Subject: "two"}); err == nil {
		t.Error("duplicate active worker name should be rejected")
	}

	// After the first worker finishes, the name is reusable.
	h.tickets.setStatus("p-1", "closed")
	h.leader.Tick(ctx)
	if _, err := h.leader.Delegate(ctx, DelegateRequest{WorkerName: "alice", Subject: "two"}); err != nil {
		t.Errorf("terminal name should be reusable: %v", err)
	}
}

func TestDelegateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.leader.Delegate(ctx, DelegateRequest{Subject: "x"}); err == nil {
		t.Error("missing worker name should be rejected")
	}
	if _, err := h.leader.Delegate(ctx, DelegateRequest{WorkerName: "a"}); err == nil {
		t.Error("missing subject should be rejected")
	}
}

func TestTickCompletesOnClosedTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	hd, err := h.leader.Delegate(ctx, DelegateRequest{WorkerName: "alice", Subject: "task"})
	if err != nil {
		t.Fatal(err)
	}

	h.tickets.AddNote(ctx, hd.TicketID, "all tests green, closing")
	h.tickets.setStatus(hd.TicketID, "closed")
	h.leader.Tick(ctx)

	kinds := h.eventKinds()
	if kinds[len(kinds)-1] != EventCompleted {
		t.Fatalf("events = %v, want completed last", kinds)
	}
	if ev := h.lastEvent(); !strings.Contains(ev.Text, "all tests green") {
		t.Errorf("completed text = %q, want final note", ev.Text)
	}
	if len(h.cleaner.calls) != 1 || !h.cleaner.calls[0].Preserve {
		t.Errorf("cleanup calls = %+v, want one with Preserve", h.cleaner.calls)
	}
	if ws := h.leader.Workers(); len(ws) != 0 {
		t.Errorf("Workers after completion = %+v", ws)
	}
}

func TestTickFailsOnDeadProcess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	hd, err := h.leader.Delegate(ctx, DelegateRequest{WorkerName: "bob", Subject: "task"})
	if err != nil {
		t.Fatal(err)
	}

	h.markDead(hd.PID)
	h.leader.Tick(ctx)

	ev := h.lastEvent()
	if ev.Kind != EventFailed {
		t.Fatalf("last event = %+v, want failed", ev)
	}
	if !strings.Contains(ev.Text, "process died") {
		t.Errorf("failed text = %q", ev.Text)
	}
	// Partial work is still preserved on failure.
	if len(h.cleaner.calls) != 1 || !h.cleaner.calls[0].Preserve {
		t.Errorf("cleanup calls = %+v", h.cleaner.calls)
	}
}

func TestTickClosedTicketBeatsDeadProcess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	hd, err := h.leader.Delegate(ctx, DelegateRequest{WorkerName: "carol", Subject: "task"})
	if err != nil {
		t.Fatal(err)
	}

	h.tickets.setStatus(hd.TicketID, "closed")
	h.markDead(hd.PID)
	h.leader.Tick(ctx)

	if ev := h.lastEvent(); ev.Kind != EventCompleted {
		t.Errorf("last event = %+v, want completed", ev)
	}
}

func TestTickSurfacesNewComments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	hd, err := h.leader.Delegate(ctx, DelegateRequest{WorkerName: "alice", Subject: "task"})
	if err != nil {
		t.Fatal(err)
	}

	h.tickets.AddNote(ctx, hd.TicketID, "progress: found the bug")
	h.leader.Tick(ctx)

	ev := h.lastEvent()
	if ev.Kind != EventComment || ev.Text != "progress: found the bug" {
		t.Fatalf("last event = %+v", ev)
	}

	// The same note must not be surfaced twice.
	before := len(h.eventKinds())
	h.leader.Tick(ctx)
	if after := len(h.eventKinds()); after != before {
		t.Errorf("repeat tick emitted %d extra events", after-before)
	}
}

func TestCommentDoesNotEchoOwnNote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.leader.Delegate(ctx, DelegateRequest{WorkerName: "alice", Subject: "task"}); err != nil {
		t.Fatal(err)
	}

	if err := h.leader.Comment(ctx, "alice", "please also update the docs"); err != nil {
		t.Fatalf("Comment: %v", err)
	}
	before := len(h.eventKinds())
	h.leader.Tick(ctx)
	if after := len(h.eventKinds()); after != before {
		t.Error("leader's own note was echoed back as a comment event")
	}
}

func (h *harness) pollingArmed() bool {
	h.leader.pollMu.Lock()
	defer h.leader.pollMu.Unlock()
	return h.leader.stopPoll != nil
}

func TestDelegateAfterEmptyingTickKeepsPolling(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.leader.Delegate(ctx, DelegateRequest{WorkerName: "alice", Subject: "one"}); err != nil {
		t.Fatal(err)
	}
	h.tickets.setStatus("p-1", "closed")
	h.leader.Tick(ctx)

	// A new delegation lands before the registry-empty teardown runs.
	if _, err := h.leader.Delegate(ctx, DelegateRequest{WorkerName: "bob", Subject: "two"}); err != nil {
		t.Fatal(err)
	}
	// The pending teardown from the emptying tick arrives now; bob is
	// registered, so it must leave the loop armed.
	h.leader.stopIfEmpty()

	if !h.pollingArmed() {
		t.Error("polling disarmed with a live worker registered")
	}
	if ws := h.leader.Workers(); len(ws) != 1 || ws[0].Name != "bob" {
		t.Errorf("Workers = %+v", ws)
	}
}

func TestStopIfEmptyDisarmsIdleLoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.leader.Delegate(ctx, DelegateRequest{WorkerName: "alice", Subject: "one"}); err != nil {
		t.Fatal(err)
	}
	h.tickets.setStatus("p-1", "closed")
	h.leader.Tick(ctx)
	h.leader.stopIfEmpty()

	if h.pollingArmed() {
		t.Error("polling still armed with an empty registry")
	}
}

func TestTransientShowFailureKeepsWorker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.leader.Delegate(ctx, DelegateRequest{WorkerName: "alice", Subject: "task"}); err != nil {
		t.Fatal(err)
	}

	h.tickets.mu.Lock()
	h.tickets.showErr = fmt.Errorf("tk timed out")
	h.tickets.mu.Unlock()
	h.leader.Tick(ctx)

	if ws := h.leader.Workers(); len(ws) != 1 || ws[0].Status != worker.StatusRunning {
		t.Errorf("Workers = %+v, transient show failure must not kill the worker", ws)
	}
}

func TestKill(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.leader.Delegate(ctx, DelegateRequest{WorkerName: "alice", Subject: "task"}); err != nil {
		t.Fatal(err)
	}

	if err := h.leader.Kill(ctx, "alice", true); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if len(h.cleaner.calls) != 1 || h.cleaner.calls[0].Preserve {
		t.Errorf("cleanup calls = %+v, discard must clear Preserve", h.cleaner.calls)
	}
	if ev := h.lastEvent(); ev.Kind != EventKilled {
		t.Errorf("last event = %+v", ev)
	}
	if err := h.leader.Kill(ctx, "alice", false); err == nil {
		t.Error("killing an unknown worker should error")
	}
}

func TestKillAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, name := range []string{"alice", "bob"} {
		if _, err := h.leader.Delegate(ctx, DelegateRequest{WorkerName: name, Subject: "task"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.leader.KillAll(ctx, false); err != nil {
		t.Fatalf("KillAll: %v", err)
	}
	if len(h.cleaner.names) != 2 {
		t.Errorf("cleaned = %v", h.cleaner.names)
	}
	if ws := h.leader.Workers(); len(ws) != 0 {
		t.Errorf("Workers = %+v", ws)
	}
}

func TestRenderStatus(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	out := RenderStatus(nil, now, 80)
	if !strings.Contains(out, "no active workers") {
		t.Errorf("empty render = %q", out)
	}

	ws := []worker.Handle{{
		Name:           "alice",
		TicketID:       "p-1",
		Status:         worker.StatusRunning,
		LastActivityAt: now.Add(-90 * time.Second),
		LastNote:       "digging into the race",
	}}
	out = RenderStatus(ws, now, 0)
	for _, want := range []string{"alice", "p-1", "running", "1m", "digging into the race"} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}
