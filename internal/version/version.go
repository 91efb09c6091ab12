package version

import "runtime"

// Build information, set at build time via -ldflags "-X".
var (
	Version = "v0.1.0"
	Commit  = "unknown"
	BuiltAt = "unknown"
)

// Info returns the version string.
func Info() string {
	return Version
}

// FullInfo returns complete build information.
func FullInfo() string {
	return "aichat " + Version + " commit=" + Commit + " built_at=" + BuiltAt + " go=" + runtime.Version()
}
