// Package poll turns one round of liveness signals into lifecycle events.
// Evaluate is a pure function over a handle snapshot so every decision the
// leader makes during polling is unit-testable without processes or git.
package poll

import (
	"strings"
	"time"

	"foreman/internal/ticket"
	"foreman/internal/worker"
)

// Signals is what one polling round observed about a worker: process
// liveness, the current ticket, and activity timestamps.
type Signals struct {
	ProcessAlive bool

	// Ticket carries the parsed ticket, nil when the show failed this round.
	Ticket    *ticket.Ticket
	TicketErr error

	SessionActivity time.Time
	HasActiveChild  bool
	ChildCount      int
	CurrentCommand  string
	ProcActivity    time.Time

	Now time.Time
}

// Events is the outcome of one polling round. Completed and Failed are
// mutually exclusive with each other and with comment/stuck reporting: a
// terminal round carries exactly one event.
type Events struct {
	Completed  bool
	Failed     bool
	FailReason string

	// NewComments holds ticket notes the leader has not surfaced yet.
	NewComments []ticket.Note

	Stuck bool
	// Idle is how long the worker has shown no activity, set with Stuck.
	Idle time.Duration
}

// Terminal reports whether this round ended the worker's lifecycle.
func (e Events) Terminal() bool {
	return e.Completed || e.Failed
}

// Evaluate folds one round of signals into the handle and reports the
// events the leader should surface. The returned handle is the updated
// snapshot to store; the input is not modified.
func Evaluate(h worker.Handle, sig Signals, stuckThreshold time.Duration) (worker.Handle, Events) {
	var ev Events
	if h.Status.Terminal() {
		return h, ev
	}
	// A failed ticket fetch skips the round: without the ticket we cannot
	// tell a dead-but-done worker from a dead-and-failed one.
	if sig.TicketErr != nil {
		return h, ev
	}

	ticketClosed := false
	ticketFailed := false
	newComments := 0
	if sig.Ticket != nil {
		h.TicketStatus = sig.Ticket.Status
		ticketClosed = ticket.Closed(sig.Ticket.Status)
		ticketFailed = strings.EqualFold(sig.Ticket.Status, "failed")

		if n := len(sig.Ticket.Notes); n > h.LastSeenCommentCount {
			newComments = n - h.LastSeenCommentCount
			h.LastSeenCommentCount = n
			h.LastActivityAt = sig.Now
		}
		if last := sig.Ticket.LastNote(); last != "" {
			h.LastNote = last
		}
	}

	if !sig.SessionActivity.IsZero() && sig.SessionActivity.After(h.LastActivityAt) {
		h.LastActivityAt = sig.SessionActivity
	}
	h.HasActiveChildProcess = sig.HasActiveChild
	h.ActiveChildProcessCount = sig.ChildCount
	h.CurrentCommand = sig.CurrentCommand
	if !sig.ProcActivity.IsZero() {
		h.ProcActivityAt = sig.ProcActivity
	}

	// A terminal outcome suppresses comment and stuck reporting for the
	// round: the final note travels inside the completed event instead.
	// When the process is already dead, the death is the failure, not
	// whatever status the ticket was left in.
	if ticketFailed && sig.ProcessAlive {
		h.Status = worker.StatusFailed
		ev.Failed = true
		ev.FailReason = "ticket failed"
		return h, ev
	}
	next := worker.Next(h.Status, sig.ProcessAlive, ticketClosed)
	switch next {
	case worker.StatusDone:
		h.Status = worker.StatusDone
		ev.Completed = true
		return h, ev
	case worker.StatusFailed:
		h.Status = worker.StatusFailed
		ev.Failed = true
		ev.FailReason = "process died"
		return h, ev
	}
	h.Status = next

	if newComments > 0 {
		ev.NewComments = append(ev.NewComments, sig.Ticket.Notes[len(sig.Ticket.Notes)-newComments:]...)
	}
	if worker.ShouldWarnStuck(sig.HasActiveChild, h.LastActivityAt, h.ProcActivityAt, sig.Now, stuckThreshold) {
		ev.Stuck = true
		ev.Idle = idleFor(h, sig.Now)
	}
	return h, ev
}

func idleFor(h worker.Handle, now time.Time) time.Duration {
	newest := h.LastActivityAt
	if h.ProcActivityAt.After(newest) {
		newest = h.ProcActivityAt
	}
	if newest.IsZero() {
		return 0
	}
	return now.Sub(newest)
}

// CompletionNote is the fallback result text when a worker closes its
// ticket without leaving a final note.
const CompletionNote = "(no result reported)"

// ResultText returns the worker's final report for a completed lifecycle.
func ResultText(h worker.Handle) string {
	if h.LastNote != "" {
		return h.LastNote
	}
	return CompletionNote
}
