// Package worker defines the worker handle and its lifecycle state machine.
package worker

import "time"

// Status is the lifecycle state of a delegated worker.
type Status string

const (
	StatusSpawning Status = "spawning"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusKilled   Status = "killed"
)

// Terminal reports whether a status is absorbing. Once a worker reaches a
// terminal status it never transitions again.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusKilled:
		return true
	default:
		return false
	}
}

// Next computes the next lifecycle status from the two liveness signals.
// Ticket closure wins over a dying process: a worker that closes its ticket
// and exits cleanly is not a failure even if the liveness probe races the
// exit.
func Next(current Status, processAlive, ticketClosed bool) Status {
	if current.Terminal() {
		return current
	}
	if ticketClosed {
		return StatusDone
	}
	if !processAlive {
		return StatusFailed
	}
	return StatusRunning
}

// Handle tracks one active delegation. It is owned exclusively by the
// leader's registry; the worker process itself never sees it.
type Handle struct {
	Name         string `json:"name"`
	PID          int    `json:"pid"`
	TicketID     string `json:"ticket_id"`
	TicketStatus string `json:"ticket_status,omitempty"`
	LastNote     string `json:"last_note,omitempty"`

	SessionDir  string `json:"session_dir"`
	SessionFile string `json:"session_file"`

	// WorktreePath is empty when the worker shares the leader's working
	// directory. BaseCommit is the repository HEAD at worktree creation,
	// used by cleanup to decide whether the branch gained new commits.
	WorktreePath string `json:"worktree_path,omitempty"`
	Branch       string `json:"branch,omitempty"`
	BaseCommit   string `json:"base_commit,omitempty"`

	Model string `json:"model,omitempty"`

	Status    Status    `json:"status"`
	SpawnedAt time.Time `json:"spawned_at"`

	// LastActivityAt is the newest session-transcript timestamp observed.
	// LastSeenCommentCount is a high-water mark into the ticket's notes.
	LastActivityAt       time.Time `json:"last_activity_at,omitzero"`
	LastSeenCommentCount int       `json:"last_seen_comment_count"`

	// Child-process activity sampled from the OS process table.
	HasActiveChildProcess   bool      `json:"has_active_child_process,omitempty"`
	ActiveChildProcessCount int       `json:"active_child_process_count,omitempty"`
	CurrentCommand          string    `json:"current_command,omitempty"`
	ProcActivityAt          time.Time `json:"proc_activity_at,omitzero"`
}

// Snapshot returns a copy of the handle for embedding in events.
func (h *Handle) Snapshot() Handle {
	return *h
}

// ShouldWarnStuck reports whether a non-terminal worker looks idle. A worker
// with an active child process is never stuck. Otherwise it is stuck when
// the newest of the two activity signals is at least threshold old.
func ShouldWarnStuck(hasActiveChild bool, heartbeat, procActivity, now time.Time, threshold time.Duration) bool {
	if hasActiveChild {
		return false
	}
	newest := heartbeat
	if procActivity.After(newest) {
		newest = procActivity
	}
	if newest.IsZero() {
		return false
	}
	return now.Sub(newest) >= threshold
}
