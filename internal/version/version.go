// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/random4ik-wat/FunPayServe-new-era/internal/version.Version=1.2.0 \
//	                   -X github.com/random4ik-wat/FunPayServe-new-era/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/random4ik-wat/FunPayServe-new-era/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import "runtime"

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the version block reported by the status API.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get returns the current build info.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// String returns a formatted version string.
func String() string {
	return "fpserver " + Version + " (" + Commit + ") built " + BuildTime
}
