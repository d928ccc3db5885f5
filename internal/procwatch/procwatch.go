// Package procwatch inspects the local process table. The leader uses it
// for two things: cheap liveness checks on worker PIDs, and spotting the
// child processes a worker is currently running (builds, tests, git).
package procwatch

import (
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// Proc is one process-table row.
type Proc struct {
	PID     int
	PPID    int
	Stat    string
	Command string
}

// Alive reports whether a process with the given pid exists and is
// signalable. Signal 0 performs the existence check without side effects.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return err == syscall.EPERM
}

// Snapshot lists the current process table via ps. Rows that fail to parse
// are skipped; ps output is not a stable format across platforms.
func Snapshot() ([]Proc, error) {
	out, err := exec.Command("ps", "-axo", "pid=,ppid=,stat=,command=").Output()
	if err != nil {
		return nil, err
	}
	return parsePS(string(out)), nil
}

// Children returns the processes whose parent is pid, excluding defunct
// entries. A worker's active children are what it is doing right now.
func Children(table []Proc, pid int) []Proc {
	var out []Proc
	for _, p := range table {
		if p.PPID != pid {
			continue
		}
		if strings.Contains(p.Stat, "Z") {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Descendants returns the transitive children of pid, depth-first.
func Descendants(table []Proc, pid int) []Proc {
	byParent := make(map[int][]Proc, len(table))
	for _, p := range table {
		byParent[p.PPID] = append(byParent[p.PPID], p)
	}
	var out []Proc
	var walk func(int)
	walk = func(parent int) {
		for _, p := range byParent[parent] {
			if strings.Contains(p.Stat, "Z") {
				continue
			}
			out = append(out, p)
			walk(p.PID)
		}
	}
	walk(pid)
	return out
}

func parsePS(out string) []Proc {
	var procs []Proc
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		procs = append(procs, Proc{
			PID:     pid,
			PPID:    ppid,
			Stat:    fields[2],
			Command: strings.Join(fields[3:], " "),
		})
	}
	return procs
}
