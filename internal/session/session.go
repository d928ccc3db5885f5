// Package session manages on-disk worker session directories. Each worker
// owns one directory under the session root holding its meta.json and its
// transcript; the leader reads these to recover state across processes.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"foreman/internal/debug"
	"foreman/internal/hexid"
	"foreman/internal/worker"
)

const (
	// MetaFile holds the serialized worker handle for a session.
	MetaFile = "meta.json"
	// TranscriptFile is the worker's append-only activity log, one JSON
	// object per line with at least a "ts" field.
	TranscriptFile = "transcript.jsonl"
)

// Allocate creates a fresh session directory for the named worker and
// returns its path. Directory names carry a random suffix so reusing a
// worker name never collides with a preserved session.
func Allocate(root, workerName string) (string, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("creating session root: %w", err)
	}
	dir := filepath.Join(root, workerName+"-"+hexid.New())
	if err := os.Mkdir(dir, 0755); err != nil {
		return "", fmt.Errorf("creating session dir: %w", err)
	}
	debug.LogKV("session", "allocated", "dir", dir)
	return dir, nil
}

// SaveMeta writes the handle snapshot atomically into the session dir.
func SaveMeta(dir string, h worker.Handle) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, MetaFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, MetaFile))
}

// LoadMeta reads the handle snapshot from the session dir.
func LoadMeta(dir string) (worker.Handle, error) {
	var h worker.Handle
	data, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("parsing %s: %w", MetaFile, err)
	}
	return h, nil
}

// AppendTranscript appends one event line to the session transcript.
func AppendTranscript(dir string, event map[string]any) error {
	if _, ok := event["ts"]; !ok {
		event["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, TranscriptFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// LastActivity reports when the session last showed signs of life: the
// timestamp of the newest transcript line, the transcript's mtime when no
// line carries a parseable ts, or the zero time when there is no
// transcript at all.
func LastActivity(dir string) time.Time {
	path := filepath.Join(dir, TranscriptFile)
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}

	if ts := lastTranscriptTS(path); !ts.IsZero() {
		return ts
	}
	return info.ModTime()
}

func lastTranscriptTS(path string) time.Time {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}
	}
	defer f.Close()

	var last time.Time
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event struct {
			TS string `json:"ts"`
		}
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, event.TS); err == nil {
			last = t
		}
	}
	return last
}

// Entry pairs a session directory with its stored handle.
type Entry struct {
	Dir    string
	Handle worker.Handle
}

// List scans the session root and returns every session that has a
// readable meta file, newest first.
func List(root string) ([]Entry, error) {
	dirents, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(root, d.Name())
		h, err := LoadMeta(dir)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Dir: dir, Handle: h})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Handle.SpawnedAt.After(entries[j].Handle.SpawnedAt)
	})
	return entries, nil
}

// Find returns the newest session whose worker has the given name and is
// not in a terminal state.
func Find(root, workerName string) (*Entry, error) {
	entries, err := List(root)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		e := &entries[i]
		if e.Handle.Name == workerName && !e.Handle.Status.Terminal() {
			return e, nil
		}
	}
	return nil, fmt.Errorf("no active session for worker %q", workerName)
}

// CleanupOld removes terminal sessions older than maxAge. Sessions whose
// meta cannot be read are left alone. Returns the removed directories.
func CleanupOld(root string, maxAge time.Duration, now time.Time) []string {
	entries, err := List(root)
	if err != nil {
		return nil
	}
	var removed []string
	for _, e := range entries {
		if !e.Handle.Status.Terminal() {
			continue
		}
		ref := e.Handle.LastActivityAt
		if ref.IsZero() {
			ref = e.Handle.SpawnedAt
		}
		if ref.IsZero() || now.Sub(ref) < maxAge {
			continue
		}
		if err := os.RemoveAll(e.Dir); err == nil {
			removed = append(removed, e.Dir)
			debug.LogKV("session", "removed stale session", "dir", e.Dir)
		}
	}
	return removed
}
