// Package version provides build version information for the CLI. It is a
// separate package so that ldflags can set it without importing the rest
// of internal/cli into the build graph.
package version

// Version is the build version string, set by ldflags during build.
var Version = "v0.1.0-dev"

// BuildTime is the build timestamp, set by ldflags during build.
var BuildTime = "unknown"
