// Package version reports which build of bookinsight is running. Release
// builds stamp the values with -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/bookinsight/internal/version.Version=v1.2.3 \
//	                    -X github.com/54b3r/bookinsight/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/bookinsight/internal/version.BuildDate=2025-01-01"
//
// Unstamped builds fall back to the VCS data embedded by the Go toolchain.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info is a resolved view of the build metadata.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
}

// Get merges the ldflags values with the build info of the binary.
func Get() Info {
	bi, _ := debug.ReadBuildInfo()
	return resolve(bi)
}

func resolve(bi *debug.BuildInfo) Info {
	info := Info{Version: Version, Commit: Commit, BuildDate: BuildDate, GoVersion: runtime.Version()}
	if bi == nil {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" && s.Value != "" {
				info.Commit = s.Value
				if len(info.Commit) > 7 {
					info.Commit = info.Commit[:7]
				}
			}
		case "vcs.time":
			if info.BuildDate == "unknown" && s.Value != "" {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

// String returns a one-line summary for `bookinsight version`.
func String() string {
	i := Get()
	dirty := ""
	if i.Modified {
		dirty = "+dirty"
	}
	return fmt.Sprintf("bookinsight %s (commit %s%s, built %s, %s)", i.Version, i.Commit, dirty, i.BuildDate, i.GoVersion)
}
