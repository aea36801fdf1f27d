// Package version reports the build identity shown by /ping and attached to traces.
package version

import (
	"runtime/debug"
	"sync"
)

// Overridden with -ldflags "-X github.com/memohai/botsmith/internal/version.Version=...".
var (
	Version    = "dev"
	CommitHash = ""
	BuildTime  = ""
)

// Info is the build identity.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

var (
	once sync.Once
	info Info
)

// Get returns the build identity, filling commit and time from VCS build
// settings when ldflags did not set them.
func Get() Info {
	once.Do(func() {
		info = Info{Version: Version, Commit: CommitHash, BuildTime: BuildTime}
		if info.Commit != "" {
			return
		}
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info.Commit = s.Value
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = s.Value
				}
			}
		}
	})
	return info
}

// GetInfo formats the version with a short commit, e.g. "v0.3.1 (1a2b3c4)".
func GetInfo() string {
	i := Get()
	if i.Commit == "" {
		return i.Version
	}
	short := i.Commit
	if len(short) > 7 {
		short = short[:7]
	}
	return i.Version + " (" + short + ")"
}
