package procwatch

import (
	"os"
	"os/exec"
	"testing"
	"time"
)

func TestAlive(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Error("own pid should be alive")
	}
	if Alive(0) || Alive(-1) {
		t.Error("non-positive pids are never alive")
	}

	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	pid := cmd.Process.Pid
	if !Alive(pid) {
		t.Errorf("started child %d should be alive", pid)
	}
	cmd.Process.Kill()
	cmd.Wait()
	// Give the kernel a beat to reap.
	deadline := time.Now().Add(2 * time.Second)
	for Alive(pid) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if Alive(pid) {
		t.Errorf("killed child %d still alive", pid)
	}
}

func TestSnapshotAndChildren(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()

	table, err := Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(table) == 0 {
		t.Fatal("empty process table")
	}

	kids := Children(table, os.Getpid())
	found := false
	for _, p := range kids {
		if p.PID == cmd.Process.Pid {
			found = true
		}
	}
	if !found {
		t.Errorf("sleep child %d not in Children(%d): %+v", cmd.Process.Pid, os.Getpid(), kids)
	}
}

func TestParsePS(t *testing.T) {
	out := `    1     0 Ss   /sbin/init
  200     1 S    /usr/bin/daemon --flag
  201   200 Z    [defunct]
garbage line
  202   200 R    make -j4 all
`
	procs := parsePS(out)
	if len(procs) != 4 {
		t.Fatalf("parsed %d rows, want 4", len(procs))
	}
	if procs[1].Command != "/usr/bin/daemon --flag" {
		t.Errorf("Command = %q", procs[1].Command)
	}

	kids := Children(procs, 200)
	if len(kids) != 1 || kids[0].PID != 202 {
		t.Errorf("Children = %+v, want only pid 202 (zombie excluded)", kids)
	}

	desc := Descendants(procs, 1)
	if len(desc) != 2 {
		t.Errorf("Descendants = %+v, want pids 200 and 202", desc)
	}
}
