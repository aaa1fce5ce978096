// Package version exposes build version information, populated by ldflags or
// the embedded VCS build info.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

// Defaults, overridden by ldflags or build info.
var Version = "0.0.0-dev"
var Commit = ""
var BuildTime = ""

// populateFromBuildInfo fills Version/Commit/BuildTime from the VCS metadata
// Go embeds in module builds. Values already set by ldflags win.
func populateFromBuildInfo() {
	if Version != "" && Version != "0.0.0-dev" {
		return
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return
	}

	get := func(key string) (string, bool) {
		for _, s := range bi.Settings {
			if s.Key == key {
				return s.Value, true
			}
		}
		return "", false
	}

	if Commit == "" {
		if rev, ok := get("vcs.revision"); ok && len(rev) >= 7 {
			Commit = rev[:7]
		}
	}

	if BuildTime == "" {
		if t, ok := get("vcs.time"); ok && t != "" {
			if ts, err := time.Parse(time.RFC3339, t); err == nil {
				BuildTime = ts.UTC().Format("2006-01-02T15:04:05Z")
			}
		}
	}

	modified := false
	if m, ok := get("vcs.modified"); ok && strings.EqualFold(m, "true") {
		modified = true
	}

	if tag, ok := get("vcs.tag"); ok && tag != "" {
		Version = strings.TrimPrefix(tag, "v")
		if modified {
			Version += "-dirty"
		}
	}
}

func init() {
	populateFromBuildInfo()
}

// FormatVersion returns the version with commit and build time when known,
// e.g. "1.2.3 (commit: abc1234, built at: 2025-10-23T10:20:30Z)".
func FormatVersion() string {
	ver := Version
	if ver == "" {
		ver = "0.0.0-dev"
	}

	commit := Commit
	if commit == "" {
		commit = "development"
	}

	if commit == "development" && BuildTime == "" {
		return fmt.Sprintf("%s (development)", ver)
	}

	if BuildTime != "" {
		return fmt.Sprintf("%s (commit: %s, built at: %s)", ver, commit, BuildTime)
	}

	return fmt.Sprintf("%s (commit: %s)", ver, commit)
}
