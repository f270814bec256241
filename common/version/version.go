// Package version carries the build identity stamped into the binary. The
// values surface through the -version flag and the health endpoint.
package version

// Each variable is overridden at build time via -ldflags; the defaults mark
// a local, unstamped build.
var (
	// Version is the semantic version.
	Version = "v0.0.0-dev"

	// GitCommit is the git commit hash.
	GitCommit = "unknown"

	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// Info returns a single human-readable line combining all three values.
func Info() string {
	return Version + " (" + GitCommit + ") built at " + BuildTime
}
