// Package workerrt is the worker-process side of the orchestration
// contract. The hidden _worker subcommand builds a Runtime from the
// inherited environment, runs the agent command inside the worktree, and
// mirrors its activity into the session transcript so the leader's
// polling sees a live heartbeat.
package workerrt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/creack/pty"

	"foreman/internal/config"
	"foreman/internal/debug"
	"foreman/internal/session"
	"foreman/internal/ticket"
)

// IsWorker reports whether this process was launched as a worker.
func IsWorker() bool {
	return os.Getenv(config.EnvWorkerFlag) == "1"
}

// Runtime is the worker's view of its assignment.
type Runtime struct {
	WorkerName    string
	TicketID      string
	SessionDir    string
	LeaderSession string
	Model         string

	// HasTools mirrors the spawn contract: agents without tool access
	// cannot run the ticket CLI, so the runtime reports for them.
	HasTools bool

	PollInterval   time.Duration
	StuckThreshold time.Duration

	Tickets *ticket.Client
}

// FromEnv reconstructs the runtime from the environment contract the
// spawner set up.
func FromEnv() (*Runtime, error) {
	if !IsWorker() {
		return nil, fmt.Errorf("not a worker process (%s unset)", config.EnvWorkerFlag)
	}
	rt := &Runtime{
		WorkerName:    os.Getenv(config.EnvWorkerName),
		TicketID:      os.Getenv(config.EnvTicketID),
		SessionDir:    os.Getenv(config.EnvSessionDir),
		LeaderSession: os.Getenv(config.EnvLeaderSession),
		Model:         os.Getenv(config.EnvModel),
		HasTools:      os.Getenv(config.EnvHasTools) != "0",
	}
	if rt.TicketID == "" {
		return nil, fmt.Errorf("%s is unset", config.EnvTicketID)
	}
	if rt.SessionDir == "" {
		return nil, fmt.Errorf("%s is unset", config.EnvSessionDir)
	}
	rt.PollInterval = envDuration(config.EnvPollInterval, config.DefaultPollInterval)
	rt.StuckThreshold = envDuration(config.EnvStuckThreshold, config.DefaultStuckThreshold)

	bin := os.Getenv(config.EnvTicketBin)
	if bin == "" {
		bin = config.DefaultTicketBin
	}
	rt.Tickets = ticket.NewClient(bin, "")
	return rt, nil
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// Comment posts a progress note on the worker's own ticket.
func (rt *Runtime) Comment(ctx context.Context, text string) error {
	return rt.Tickets.AddNote(ctx, rt.TicketID, text)
}

// Run executes the agent command and mirrors every output line into the
// session transcript. When the command succeeds the ticket is closed with
// a final note; when it fails the ticket is left open and the worker
// exits non-zero, which the leader reads as a failure.
func (rt *Runtime) Run(ctx context.Context, command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("no worker command configured")
	}

	rt.log("start", map[string]any{"command": strings.Join(command, " "), "ticket": rt.TicketID})

	args := command[1:]
	if rt.Model != "" {
		args = append(args, "--model", rt.Model)
	}
	cmd := exec.CommandContext(ctx, command[0], args...)

	output, err := rt.startAgent(cmd)
	if err != nil {
		rt.log("error", map[string]any{"error": err.Error()})
		return fmt.Errorf("starting agent: %w", err)
	}

	scanner := bufio.NewScanner(output)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		rt.log("output", map[string]any{"text": line})
	}
	if c, ok := output.(io.Closer); ok {
		c.Close()
	}

	err = cmd.Wait()
	if err != nil {
		rt.log("exit", map[string]any{"error": err.Error()})
		noteCtx, cancel := context.WithTimeout(context.Background(), ticket.DefaultTimeout)
		defer cancel()
		rt.Tickets.AddNote(noteCtx, rt.TicketID, fmt.Sprintf("agent command failed: %v", err))
		return fmt.Errorf("agent command: %w", err)
	}

	rt.log("exit", map[string]any{"ok": true})
	rt.finish(ctx)
	return nil
}

// startAgent launches the agent under a pseudo-terminal, since most agent
// CLIs refuse to run (or buffer everything) without one. When no pty is
// available it falls back to plain pipes.
func (rt *Runtime) startAgent(cmd *exec.Cmd) (io.Reader, error) {
	ptmx, err := pty.Start(cmd)
	if err == nil {
		pty.Setsize(ptmx, &pty.Winsize{Rows: 40, Cols: 200})
		return ptyReader{ptmx}, nil
	}
	debug.LogKV("workerrt", "pty unavailable, using pipes", "error", err)

	cmd.Stdin = nil
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return stdout, nil
}

// ptyReader masks the EIO a pty master returns when the child exits, so
// the transcript loop sees a clean EOF.
type ptyReader struct {
	*os.File
}

func (r ptyReader) Read(p []byte) (int, error) {
	n, err := r.File.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && n == 0 {
		return 0, io.EOF
	}
	return n, err
}

// finish closes the ticket unless the agent already did. Failures are
// swallowed: the leader's own polling is the source of truth for
// completion, not the worker's self-report.
func (rt *Runtime) finish(ctx context.Context) {
	// Only agents with tool access can have closed the ticket themselves.
	if rt.HasTools {
		tk, err := rt.Tickets.Show(ctx, rt.TicketID)
		if err == nil && ticket.Closed(tk.Status) {
			return
		}
	}
	if err := rt.Tickets.AddNote(ctx, rt.TicketID, "work finished"); err != nil {
		debug.LogKV("workerrt", "final note failed", "error", err)
	}
	if err := rt.Tickets.Close(ctx, rt.TicketID); err != nil {
		debug.LogKV("workerrt", "self-close failed", "ticket", rt.TicketID, "error", err)
	}
}

func (rt *Runtime) log(kind string, fields map[string]any) {
	event := map[string]any{"kind": kind}
	for k, v := range fields {
		event[k] = v
	}
	if err := session.AppendTranscript(rt.SessionDir, event); err != nil {
		debug.LogKV("workerrt", "transcript append failed", "error", err)
	}
}
