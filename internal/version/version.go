// Package version holds build metadata stamped in with -ldflags.
package version

import "runtime"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String is the one-line `notecap version` output.
func String() string {
	return "notecap " + Version + " (commit=" + Commit + ", date=" + Date + ", go=" + runtime.Version() + ")"
}

// UserAgent identifies notecap in outbound provider and notes API requests.
func UserAgent() string {
	return "notecap/" + Version
}
