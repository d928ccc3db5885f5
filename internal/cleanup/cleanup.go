// Package cleanup tears down a worker's process, worktree, branch, and
// session directory. Every step is best effort and idempotent: resources
// that are already gone count as cleaned, and one failing step never
// blocks the rest.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"foreman/internal/debug"
	"foreman/internal/spawn"
	"foreman/internal/worker"
	"foreman/internal/worktree"
)

// TerminateGrace is how long a worker gets to exit after SIGTERM before
// SIGKILL.
const TerminateGrace = 5 * time.Second

// Options select what survives the teardown.
type Options struct {
	// Preserve keeps the branch (renamed with a ".done" suffix) when it
	// carries commits. Killed workers are cleaned with Preserve=false
	// unless the caller wants the partial work.
	Preserve bool
	// KeepSession leaves the session directory on disk for inspection.
	KeepSession bool
}

// Report records what the teardown did and any step errors. A non-empty
// Errors list does not mean the cleanup failed as a whole.
type Report struct {
	Terminated      bool
	AutoCommitted   bool
	BranchPreserved bool
	PreservedBranch string
	WorktreeRemoved bool
	SessionRemoved  bool
	Errors          []error
}

// Err flattens the step errors into one, or nil when everything worked.
func (r *Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("cleanup finished with %d error(s): %s", len(r.Errors), strings.Join(msgs, "; "))
}

// Service performs worker teardown against one repository.
type Service struct {
	Worktrees *worktree.Manager
}

// Cleanup tears down everything the handle owns. It is safe to call
// multiple times for the same worker and safe to race with a concurrent
// cleanup of the same resources.
func (s *Service) Cleanup(ctx context.Context, h worker.Handle, opts Options) Report {
	var r Report
	debug.LogKV("cleanup", "start", "name", h.Name, "pid", h.PID, "preserve", opts.Preserve)

	if h.PID > 0 {
		if err := spawn.Terminate(h.PID, TerminateGrace); err != nil {
			r.Errors = append(r.Errors, fmt.Errorf("terminating pid %d: %w", h.PID, err))
		} else {
			r.Terminated = true
		}
	}

	// Auto-committing only matters when the branch may survive; a discard
	// teardown deletes the branch anyway, so dirty files just go with it.
	if h.WorktreePath != "" && opts.Preserve {
		msg := autoCommitMessage(h)
		_, committed, err := s.Worktrees.AutoCommitIfDirty(ctx, h.WorktreePath, msg)
		if err != nil {
			// The worktree may already be gone; that is not a failure.
			if _, statErr := os.Stat(h.WorktreePath); statErr == nil {
				r.Errors = append(r.Errors, fmt.Errorf("auto-commit: %w", err))
			}
		}
		r.AutoCommitted = committed
	}

	keepBranch := false
	if opts.Preserve && h.Branch != "" {
		hasWork, err := s.Worktrees.HasNewCommits(ctx, h.Branch, h.BaseCommit)
		if err == nil && hasWork {
			keepBranch = true
		}
	}

	if h.WorktreePath != "" || h.Branch != "" {
		if err := s.Worktrees.Remove(ctx, h.WorktreePath, h.Branch, keepBranch); err != nil {
			r.Errors = append(r.Errors, fmt.Errorf("removing worktree: %w", err))
		} else {
			r.WorktreeRemoved = true
		}
	}

	if keepBranch {
		done := worktree.DoneBranchName(h.Branch)
		if err := s.Worktrees.RenameBranch(ctx, h.Branch, done); err != nil {
			r.Errors = append(r.Errors, fmt.Errorf("renaming branch: %w", err))
			r.PreservedBranch = h.Branch
		} else {
			r.PreservedBranch = done
		}
		r.BranchPreserved = true
	}

	if h.SessionDir != "" && !opts.KeepSession {
		if err := os.RemoveAll(h.SessionDir); err != nil {
			r.Errors = append(r.Errors, fmt.Errorf("removing session dir: %w", err))
		} else {
			r.SessionRemoved = true
		}
	}

	debug.LogKV("cleanup", "done", "name", h.Name,
		"preserved", r.BranchPreserved, "branch", r.PreservedBranch, "errors", len(r.Errors))
	return r
}

func autoCommitMessage(h worker.Handle) string {
	if h.TicketID != "" {
		return fmt.Sprintf("wip: %s (worker %s, auto-committed on cleanup)", h.TicketID, h.Name)
	}
	return fmt.Sprintf("wip: worker %s, auto-committed on cleanup", h.Name)
}
