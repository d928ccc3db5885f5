package buildinfo

import "testing"

func TestCurrentPrefersLinkerOverrides(t *testing.T) {
	oldVersion, oldCommit, oldDate := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = oldVersion, oldCommit, oldDate })

	Version = "v1.2.3"
	Commit = "abc1234"
	Date = "2026-02-12T10:11:12Z"

	info := Current()
	if info.Version != "v1.2.3" {
		t.Errorf("Version = %q, want %q", info.Version, "v1.2.3")
	}
	if info.Commit != "abc1234" {
		t.Errorf("Commit = %q, want %q", info.Commit, "abc1234")
	}
	if info.Date != "2026-02-12T10:11:12Z" {
		t.Errorf("Date = %q, want %q", info.Date, "2026-02-12T10:11:12Z")
	}
}

func TestCurrentNeverReturnsEmptyFields(t *testing.T) {
	oldVersion, oldCommit, oldDate := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = oldVersion, oldCommit, oldDate })

	Version, Commit, Date = "", "", ""

	info := Current()
	if info.Version == "" {
		t.Error("Version is empty")
	}
	if info.Commit == "" {
		t.Error("Commit is empty")
	}
	if info.Date == "" {
		t.Error("Date is empty")
	}
}
