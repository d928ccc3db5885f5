// Package spawn launches worker processes. A worker is this binary
// re-executed with the hidden _worker subcommand, detached into its own
// session so it survives the leader and never receives its terminal
// signals.
package spawn

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"foreman/internal/config"
	"foreman/internal/debug"
	"foreman/internal/session"
	"foreman/internal/worker"
	"foreman/internal/worktree"
)

// Request describes one worker to launch.
type Request struct {
	WorkerName string
	TicketID   string
	TicketBin  string
	Model      string

	// LeaderSession identifies the delegating leader so the worker can
	// name it in notes and logs.
	LeaderSession string

	// HasTools reports whether the agent can run commands itself. A
	// tool-less agent cannot invoke the ticket CLI, so the worker
	// runtime closes the ticket on its behalf.
	HasTools bool

	// SharedDir runs the worker directly in the repository instead of an
	// isolated worktree. Cleanup then has no branch to reconcile.
	SharedDir bool

	// PollInterval and StuckThreshold are passed through to the worker's
	// environment so it reports with the leader's cadence.
	PollInterval   time.Duration
	StuckThreshold time.Duration
}

// Spawner creates the isolated resources for a worker and starts it.
type Spawner struct {
	Worktrees   *worktree.Manager
	SessionRoot string
}

// Spawn allocates a session directory and a git worktree for the request,
// then starts the detached worker process. On any failure after partial
// setup it rolls the created resources back before returning.
func (s *Spawner) Spawn(ctx context.Context, req Request) (worker.Handle, error) {
	var h worker.Handle

	dir, err := session.Allocate(s.SessionRoot, req.WorkerName)
	if err != nil {
		return h, fmt.Errorf("allocating session: %w", err)
	}

	var branch, baseCommit, wtPath string
	if req.SharedDir {
		wtPath = ""
	} else {
		branch, baseCommit, err = s.Worktrees.Create(ctx, req.WorkerName, req.TicketID, "")
		if err != nil {
			os.RemoveAll(dir)
			return h, fmt.Errorf("creating worktree: %w", err)
		}
		wtPath = s.Worktrees.DefaultPath(branch)
	}

	h = worker.Handle{
		Name:         req.WorkerName,
		TicketID:     req.TicketID,
		SessionDir:   dir,
		SessionFile:  session.TranscriptFile,
		WorktreePath: wtPath,
		Branch:       branch,
		BaseCommit:   baseCommit,
		Model:        req.Model,
		Status:       worker.StatusSpawning,
		SpawnedAt:    time.Now().UTC(),
	}
	h.LastActivityAt = h.SpawnedAt

	pid, err := s.start(req, h)
	if err != nil {
		if !req.SharedDir {
			s.Worktrees.Remove(context.Background(), wtPath, branch, false)
		}
		os.RemoveAll(dir)
		return worker.Handle{}, fmt.Errorf("starting worker: %w", err)
	}
	h.PID = pid
	h.Status = worker.StatusRunning

	if err := session.SaveMeta(dir, h); err != nil {
		return h, fmt.Errorf("saving session meta: %w", err)
	}
	debug.LogKV("spawn", "worker started", "name", req.WorkerName, "pid", pid, "ticket", req.TicketID, "branch", branch)
	return h, nil
}

func (s *Spawner) start(req Request, h worker.Handle) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("finding executable: %w", err)
	}

	cmd := exec.Command(exe, "_worker", "--session", h.SessionDir)
	cmd.Dir = h.WorktreePath
	if cmd.Dir == "" {
		cmd.Dir = s.Worktrees.RepoRoot()
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Env = append(os.Environ(), s.env(req, h)...)

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid

	// Detach: the leader never waits on the worker.
	go cmd.Wait()
	return pid, nil
}

// env builds the worker's inherited environment contract.
func (s *Spawner) env(req Request, h worker.Handle) []string {
	hasTools := "0"
	if req.HasTools {
		hasTools = "1"
	}
	kv := []string{
		config.EnvWorkerFlag + "=1",
		config.EnvTicketID + "=" + req.TicketID,
		config.EnvWorkerName + "=" + req.WorkerName,
		config.EnvSessionDir + "=" + h.SessionDir,
		config.EnvHasTools + "=" + hasTools,
		fmt.Sprintf("%s=%d", config.EnvPollInterval, req.PollInterval.Milliseconds()),
		fmt.Sprintf("%s=%d", config.EnvStuckThreshold, req.StuckThreshold.Milliseconds()),
	}
	if req.LeaderSession != "" {
		kv = append(kv, config.EnvLeaderSession+"="+req.LeaderSession)
	}
	if req.Model != "" {
		kv = append(kv, config.EnvModel+"="+req.Model)
	}
	if req.TicketBin != "" {
		kv = append(kv, config.EnvTicketBin+"="+req.TicketBin)
	}
	for k, v := range debug.Env("worker") {
		kv = append(kv, k+"="+v)
	}
	return kv
}

// Terminate asks pid's process group to exit, escalating to SIGKILL after
// the grace period. A process that is already gone is a success.
func Terminate(pid int, grace time.Duration) error {
	if pid <= 0 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}

	// The worker runs in its own session, so the negative pid reaches the
	// whole group, children included.
	target := -pid
	if err := syscall.Kill(target, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		// Fall back to the single process when the group is unreachable.
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return nil
		}
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if err := proc.Signal(syscall.Signal(0)); err != nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	syscall.Kill(target, syscall.SIGKILL)
	proc.Signal(syscall.SIGKILL)
	debug.LogKV("spawn", "escalated to SIGKILL", "pid", pid)
	return nil
}
