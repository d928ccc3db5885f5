package ticket

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"foreman/internal/debug"
)

// DefaultTimeout bounds one ticket CLI invocation. Ticket operations during
// polling are treated as transient when they exceed it.
const DefaultTimeout = 5 * time.Second

// Client invokes the ticket CLI as a subprocess. The orchestration core
// depends only on the textual contract of "show" and on the exit codes of
// the mutating subcommands.
type Client struct {
	Bin     string // ticket CLI binary, e.g. "tk"
	Dir     string // working directory for invocations ("" = inherit)
	Timeout time.Duration
}

// NewClient returns a Client for the given binary, with the default timeout.
func NewClient(bin, dir string) *Client {
	return &Client{Bin: bin, Dir: dir, Timeout: DefaultTimeout}
}

// Create makes a new ticket and returns its id, taken from the first token
// of the CLI's output.
func (c *Client) Create(ctx context.Context, subject, description string) (string, error) {
	args := []string{"create", subject}
	if strings.TrimSpace(description) != "" {
		args = append(args, "--description", description)
	}
	out, err := c.run(ctx, args...)
	if err != nil {
		return "", err
	}
	id := firstToken(out)
	if id == "" {
		return "", fmt.Errorf("ticket create: no id in output %q", strings.TrimSpace(out))
	}
	return id, nil
}

// Start marks a ticket as in progress.
func (c *Client) Start(ctx context.Context, id string) error {
	_, err := c.run(ctx, "start", id)
	return err
}

// AddNote appends a note to the ticket's append-only note log.
func (c *Client) AddNote(ctx context.Context, id, text string) error {
	_, err := c.run(ctx, "add-note", id, text)
	return err
}

// Close marks a ticket as closed.
func (c *Client) Close(ctx context.Context, id string) error {
	_, err := c.run(ctx, "close", id)
	return err
}

// Show fetches and parses one ticket.
func (c *Client) Show(ctx context.Context, id string) (*Ticket, error) {
	out, err := c.run(ctx, "show", id)
	if err != nil {
		return nil, err
	}
	return Parse(id, out)
}

// ListTagged returns the ids of tickets carrying the given tag, one per
// output line of "ls --tags".
func (c *Client) ListTagged(ctx context.Context, tag string) ([]string, error) {
	out, err := c.run(ctx, "ls", "--tags", tag)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, line := range strings.Split(out, "\n") {
		if id := firstToken(line); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	debug.LogKV("ticket", "exec", "cmd", c.Bin+" "+strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, c.Bin, args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	out, err := cmd.Output()
	if err != nil {
		detail := ""
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}
		debug.LogKV("ticket", "exec failed", "cmd", c.Bin+" "+strings.Join(args, " "), "error", err, "stderr", detail)
		if detail != "" {
			return "", fmt.Errorf("%s %s: %s: %w", c.Bin, strings.Join(args, " "), detail, err)
		}
		return "", fmt.Errorf("%s %s: %w", c.Bin, strings.Join(args, " "), err)
	}
	return string(out), nil
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
