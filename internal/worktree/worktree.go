// Package worktree manages git worktrees for isolated worker execution.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"foreman/internal/debug"
)

// WorktreeDir is the directory under the repository root that holds all
// foreman-managed worktrees.
const WorktreeDir = ".foreman-worktrees"

// Manager performs the two primitive git mutations the core is allowed:
// creating a branch+worktree pair and removing it again. Richer policy
// (auto-commit, branch preservation, renaming) is layered on top by the
// cleanup service.
type Manager struct {
	repoRoot string
}

// NewManager creates a Manager rooted at the given git repository root.
func NewManager(repoRoot string) *Manager {
	return &Manager{repoRoot: repoRoot}
}

// RepoRoot returns the repository root this manager operates on.
func (m *Manager) RepoRoot() string {
	return m.repoRoot
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

// BranchName builds the deterministic branch name for a worker+ticket pair.
func BranchName(workerName, ticketID string) string {
	return "teams/" + workerName + "/" + ticketID
}

// DoneBranchName returns the rename target for a preserved branch.
func DoneBranchName(branch string) string {
	return branch + ".done"
}

// DefaultPath returns the conventional worktree path for a branch.
func (m *Manager) DefaultPath(branch string) string {
	return filepath.Join(m.repoRoot, WorktreeDir, sanitize(branch))
}

// Create branches from the repository's current HEAD and checks the branch
// out into targetPath as an additional working tree. It returns the branch
// name and the base commit the branch was cut from.
func (m *Manager) Create(ctx context.Context, workerName, ticketID, targetPath string) (branch, baseCommit string, err error) {
	branch = BranchName(workerName, ticketID)
	if strings.TrimSpace(targetPath) == "" {
		targetPath = m.DefaultPath(branch)
	}
	debug.LogKV("worktree", "Create()", "branch", branch, "path", targetPath)

	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return "", "", fmt.Errorf("creating worktree dir: %w", err)
	}

	head, err := m.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", "", fmt.Errorf("rev-parse HEAD: %w", err)
	}
	baseCommit = strings.TrimSpace(head)

	if _, err := m.git(ctx, "branch", branch, baseCommit); err != nil {
		return "", "", fmt.Errorf("creating branch %s: %w", branch, err)
	}

	if _, err := m.git(ctx, "worktree", "add", targetPath, branch); err != nil {
		// Rollback the branch on failure.
		m.git(ctx, "branch", "-D", branch)
		return "", "", fmt.Errorf("worktree add: %w", err)
	}

	debug.LogKV("worktree", "created", "branch", branch, "path", targetPath, "base", baseCommit)
	return branch, baseCommit, nil
}

// Remove detaches the working tree from the repository and, unless
// keepBranch, force-deletes the branch. Both halves are best-effort:
// "already gone" counts as success, so cleanup can run more than once for
// the same handle without error.
func (m *Manager) Remove(ctx context.Context, targetPath, branch string, keepBranch bool) error {
	if strings.TrimSpace(targetPath) != "" {
		if out, err := m.git(ctx, "worktree", "remove", "--force", targetPath); err != nil && !isGone(out, err) {
			// Fallback: manual cleanup plus prune so git forgets the path.
			if rmErr := os.RemoveAll(targetPath); rmErr != nil {
				m.git(ctx, "worktree", "prune")
				return fmt.Errorf("worktree remove failed (%w) and manual cleanup also failed: %v", err, rmErr)
			}
			m.git(ctx, "worktree", "prune")
		}
	}

	if !keepBranch && strings.TrimSpace(branch) != "" {
		if out, err := m.git(ctx, "branch", "-D", branch); err != nil && !isGone(out, err) {
			debug.LogKV("worktree", "branch delete failed", "branch", branch, "error", err)
		}
	}
	return nil
}

// AutoCommitIfDirty stages and commits all changes in a worktree under a
// fixed synthetic identity, so work-in-progress is never discarded by
// cleanup. It returns (commitHash, committed, error); committed is false
// when the worktree was clean.
func (m *Manager) AutoCommitIfDirty(ctx context.Context, worktreePath, message string) (string, bool, error) {
	if strings.TrimSpace(worktreePath) == "" {
		return "", false, fmt.Errorf("worktree path is empty")
	}

	status, err := m.git(ctx, "-C", worktreePath, "status", "--porcelain")
	if err != nil {
		return "", false, fmt.Errorf("status in worktree %s: %w", worktreePath, err)
	}
	if strings.TrimSpace(status) == "" {
		return "", false, nil
	}

	if _, err := m.git(ctx, "-C", worktreePath, "add", "-A"); err != nil {
		return "", false, fmt.Errorf("staging changes in worktree %s: %w", worktreePath, err)
	}

	commitArgs := []string{
		"-C", worktreePath,
		"-c", "user.name=Foreman",
		"-c", "user.email=foreman@local",
		"commit", "-m", message,
	}
	if _, err := m.git(ctx, commitArgs...); err != nil {
		return "", false, fmt.Errorf("auto-commit in worktree %s: %w", worktreePath, err)
	}

	hash, err := m.git(ctx, "-C", worktreePath, "rev-parse", "HEAD")
	if err != nil {
		return "", false, fmt.Errorf("rev-parse HEAD in worktree %s: %w", worktreePath, err)
	}
	return strings.TrimSpace(hash), true, nil
}

// HasNewCommits reports whether branch has commits beyond baseCommit.
func (m *Manager) HasNewCommits(ctx context.Context, branch, baseCommit string) (bool, error) {
	out, err := m.git(ctx, "rev-list", "--count", baseCommit+".."+branch)
	if err != nil {
		return false, fmt.Errorf("rev-list %s..%s: %w", baseCommit, branch, err)
	}
	return strings.TrimSpace(out) != "0", nil
}

// RenameBranch moves a branch, replacing any previous branch of the target
// name.
func (m *Manager) RenameBranch(ctx context.Context, oldName, newName string) error {
	if _, err := m.git(ctx, "branch", "-M", oldName, newName); err != nil {
		return fmt.Errorf("renaming branch %s to %s: %w", oldName, newName, err)
	}
	return nil
}

// BranchExists reports whether a local branch of the given name exists.
func (m *Manager) BranchExists(ctx context.Context, branch string) bool {
	_, err := m.git(ctx, "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// Info describes an active foreman-managed worktree.
type Info struct {
	Path   string
	Branch string
}

// ListActive returns all worktrees under the foreman worktree directory.
func (m *Manager) ListActive(ctx context.Context) ([]Info, error) {
	out, err := m.git(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	base := filepath.Join(m.repoRoot, WorktreeDir)
	var result []Info
	var current Info
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "worktree ") {
			if current.Path != "" && strings.HasPrefix(current.Path, base) {
				result = append(result, current)
			}
			current = Info{Path: strings.TrimPrefix(line, "worktree ")}
		} else if strings.HasPrefix(line, "branch ") {
			current.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		}
	}
	if current.Path != "" && strings.HasPrefix(current.Path, base) {
		result = append(result, current)
	}
	return result, nil
}

// isGone classifies a git failure as "target already absent".
func isGone(output string, err error) bool {
	if err == nil {
		return true
	}
	text := strings.ToLower(output + " " + err.Error())
	for _, marker := range []string{
		"is not a working tree",
		"not a valid ref",
		"no such file or directory",
		"not found",
		"does not exist",
	} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// git runs a git command in the repo root and returns combined output.
func (m *Manager) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.repoRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		debug.LogKV("worktree", "git exec failed", "cmd", "git "+strings.Join(args, " "), "error", err)
		return string(out), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}
