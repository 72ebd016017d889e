package htn

import "runtime"

// Version represents the current version of the engine.
const Version = "0.3.0"

// VersionInfo provides detailed version information.
type VersionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

// Set at link time with -ldflags "-X".
var (
	gitCommit string
	buildDate string
)

// GetVersion returns the current version string.
func GetVersion() string {
	return Version
}

// GetVersionInfo returns detailed version information.
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		GoVersion: runtime.Version(),
		GitCommit: gitCommit,
		BuildDate: buildDate,
	}
}
