// Package version exposes build metadata stamped in via ldflags.
package version

// Version is the application version, overridden by the release pipeline.
var Version = "0.0.0"

// GitCommit is the git commit hash of the build.
var GitCommit = "unknown"

// BuildDate is when the binary was built.
var BuildDate = "unknown"
