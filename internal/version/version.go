// Package version carries build metadata, set with -ldflags "-X".
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the metadata for --version and the startup log line.
func String() string {
	return fmt.Sprintf("autolink %s (%s, built %s)", Version, GitSHA, BuildTime)
}
