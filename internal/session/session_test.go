package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"foreman/internal/worker"
)

func TestAllocateAndMetaRoundTrip(t *testing.T) {
	root := t.TempDir()
	dir, err := Allocate(root, "alice")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(dir), "alice-") {
		t.Errorf("dir = %q, want alice- prefix", dir)
	}

	h := worker.Handle{
		Name:      "alice",
		PID:       1234,
		TicketID:  "p-1",
		Status:    worker.StatusRunning,
		SpawnedAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	}
	if err := SaveMeta(dir, h); err != nil {
		t.Fatalf("SaveMeta: %v", err)
	}
	got, err := LoadMeta(dir)
	if err != nil {
		t.Fatalf("LoadMeta: %v", err)
	}
	if got.Name != "alice" || got.PID != 1234 || got.Status != worker.StatusRunning {
		t.Errorf("LoadMeta = %+v", got)
	}
	if !got.SpawnedAt.Equal(h.SpawnedAt) {
		t.Errorf("SpawnedAt = %v", got.SpawnedAt)
	}
}

func TestAllocateUniqueDirs(t *testing.T) {
	root := t.TempDir()
	a, err := Allocate(root, "bob")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Allocate(root, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("Allocate returned the same dir twice: %q", a)
	}
}

func TestLastActivity(t *testing.T) {
	dir := t.TempDir()

	if got := LastActivity(dir); !got.IsZero() {
		t.Errorf("no transcript: LastActivity = %v, want zero", got)
	}

	if err := AppendTranscript(dir, map[string]any{"ts": "2026-08-30T10:00:00Z", "kind": "start"}); err != nil {
		t.Fatal(err)
	}
	if err := AppendTranscript(dir, map[string]any{"ts": "2026-08-30T10:05:00Z", "kind": "tool"}); err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 8, 30, 10, 5, 0, 0, time.UTC)
	if got := LastActivity(dir); !got.Equal(want) {
		t.Errorf("LastActivity = %v, want %v", got, want)
	}
}

func TestLastActivityFallsBackToMtime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, TranscriptFile)
	if err := os.WriteFile(path, []byte("not json\nalso not json\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got := LastActivity(dir)
	if got.IsZero() {
		t.Error("LastActivity should fall back to mtime")
	}
}

func TestListAndFind(t *testing.T) {
	root := t.TempDir()

	mk := func(name string, status worker.Status, spawned time.Time) string {
		dir, err := Allocate(root, name)
		if err != nil {
			t.Fatal(err)
		}
		if err := SaveMeta(dir, worker.Handle{Name: name, Status: status, SpawnedAt: spawned}); err != nil {
			t.Fatal(err)
		}
		return dir
	}

	t0 := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	mk("alice", worker.StatusDone, t0)
	aliceDir := mk("alice", worker.StatusRunning, t0.Add(time.Hour))
	mk("bob", worker.StatusRunning, t0.Add(30*time.Minute))

	entries, err := List(root)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List = %d entries, want 3", len(entries))
	}
	if entries[0].Handle.Name != "alice" || entries[0].Handle.Status != worker.StatusRunning {
		t.Errorf("entries not newest-first: %+v", entries[0].Handle)
	}

	e, err := Find(root, "alice")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if e.Dir != aliceDir {
		t.Errorf("Find alice = %q, want %q", e.Dir, aliceDir)
	}

	if _, err := Find(root, "nobody"); err == nil {
		t.Error("Find for unknown worker should fail")
	}
}

func TestCleanupOld(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	mk := func(name string, status worker.Status, lastActivity time.Time) string {
		dir, err := Allocate(root, name)
		if err != nil {
			t.Fatal(err)
		}
		h := worker.Handle{Name: name, Status: status, SpawnedAt: lastActivity, LastActivityAt: lastActivity}
		if err := SaveMeta(dir, h); err != nil {
			t.Fatal(err)
		}
		return dir
	}

	oldDone := mk("old-done", worker.StatusDone, now.Add(-48*time.Hour))
	freshDone := mk("fresh-done", worker.StatusDone, now.Add(-time.Hour))
	oldRunning := mk("old-running", worker.StatusRunning, now.Add(-48*time.Hour))

	removed := CleanupOld(root, 24*time.Hour, now)
	if len(removed) != 1 || removed[0] != oldDone {
		t.Errorf("removed = %v, want only %q", removed, oldDone)
	}
	for _, dir := range []string{freshDone, oldRunning} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("%q should survive cleanup: %v", dir, err)
		}
	}
	if _, err := os.Stat(oldDone); !os.IsNotExist(err) {
		t.Errorf("%q should be removed", oldDone)
	}
}
