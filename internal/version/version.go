// Package version holds build metadata for the tracefix binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Overridden at build time:
// go build -ldflags "-X tracefix/internal/version.Version=0.3.0 -X tracefix/internal/version.Commit=$(git rev-parse HEAD)"
var (
	Version   = "0.3.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// ShortCommit returns the first 7 characters of Commit, falling back to the
// vcs.revision recorded by the Go toolchain when ldflags were not set.
func ShortCommit() string {
	c := Commit
	if c == "unknown" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					c = s.Value
				}
			}
		}
	}
	if len(c) > 7 {
		return c[:7]
	}
	return c
}

// Info returns "<version>" or "<version> (<short commit>)".
func Info() string {
	if c := ShortCommit(); c != "unknown" && len(c) == 7 {
		return Version + " (" + c + ")"
	}
	return Version
}

// Full returns multi-line version details for `tracefix version`.
func Full() string {
	return fmt.Sprintf("tracefix %s\nCommit: %s\nBuilt: %s\nGo: %s %s/%s",
		Version, Commit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
