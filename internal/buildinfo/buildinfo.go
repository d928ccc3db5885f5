// Package buildinfo reports the version stamped into the foreman binary.
// Release builds set the variables below through -ldflags; development
// builds fall back to the VCS metadata the Go toolchain embeds.
package buildinfo

import (
	"runtime/debug"
	"strings"
)

// Overridden at link time, e.g.
// go build -ldflags "-X foreman/internal/buildinfo.Version=v0.2.0".
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Info is the resolved build metadata for display.
type Info struct {
	Version string
	Commit  string
	Date    string
}

// Current resolves the build metadata: linker overrides win, embedded VCS
// settings fill the gaps, anything still missing reads "unknown".
func Current() Info {
	info := Info{
		Version: strings.TrimSpace(Version),
		Commit:  strings.TrimSpace(Commit),
		Date:    strings.TrimSpace(Date),
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		if (info.Version == "" || info.Version == "dev") &&
			bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		var revision, modified string
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				revision = s.Value
			case "vcs.time":
				if info.Date == "" {
					info.Date = s.Value
				}
			case "vcs.modified":
				modified = s.Value
			}
		}
		if info.Commit == "" && revision != "" {
			if len(revision) > 12 {
				revision = revision[:12]
			}
			info.Commit = revision
			if modified == "true" {
				info.Commit += "-dirty"
			}
		}
	}

	if info.Version == "" {
		info.Version = "unknown"
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.Date == "" {
		info.Date = "unknown"
	}
	return info
}
