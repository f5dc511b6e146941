package app

import "fmt"

// Populated via -ldflags at build time.
var (
	BuildVersion = "0.0.0-dev"
	BuildCommit  = "unknown"
	BuildDate    = "unknown"
)

// VersionString renders the build information on one line.
func VersionString() string {
	return fmt.Sprintf("questionproxy %s (commit %s, built %s)", BuildVersion, BuildCommit, BuildDate)
}
