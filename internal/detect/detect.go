// Package detect discovers agent CLIs installed on the machine. The
// result seeds the default worker command when the repository configures
// none, and feeds the doctor command's report.
package detect

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const versionProbeTimeout = 1800 * time.Millisecond

var semverRE = regexp.MustCompile(`(?i)\bv?(\d+\.\d+(?:\.\d+)?(?:[-+][0-9A-Za-z.-]+)?)\b`)

// Agent describes an installed agent tool.
type Agent struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Version string `json:"version"`
}

// knownAgents is the probe order; the first hit becomes the default
// worker command.
var knownAgents = []string{"claude", "codex", "gemini", "opencode", "aider"}

// Scan looks for known agent CLIs on PATH, in probe order.
func Scan() []Agent {
	var agents []Agent
	for _, name := range knownAgents {
		path, err := exec.LookPath(name)
		if err != nil {
			continue
		}
		agents = append(agents, Agent{
			Name:    name,
			Path:    path,
			Version: probeVersion(path),
		})
	}
	return agents
}

// Default returns the worker command to use when none is configured: the
// first installed known agent, or empty when nothing is found.
func Default() []string {
	for _, name := range knownAgents {
		if _, err := exec.LookPath(name); err == nil {
			return []string{name}
		}
	}
	return nil
}

// probeVersion runs "<bin> --version" and extracts a semver-looking token.
// Agents that hang or print nothing usable report an empty version.
func probeVersion(path string) string {
	ctx, cancel := context.WithTimeout(context.Background(), versionProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return ""
	}
	m := semverRE.FindStringSubmatch(strings.TrimSpace(string(out)))
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
