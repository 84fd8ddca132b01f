// Package version reports which loam build is running. Release builds set
// the variables with -ldflags "-X"; go install builds fall back to the
// module and VCS stamps embedded by the toolchain.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var resolveOnce sync.Once

// Resolve fills in whatever ldflags left at its default from the build
// info. It is safe to call more than once.
func Resolve() {
	resolveOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		apply(info)
	})
}

func apply(info *debug.BuildInfo) {
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
	unset := Commit == "none"
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = abbrev(s.Value)
		case "vcs.time":
			if Date == "unknown" {
				Date = s.Value
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if unset && rev != "" {
		Commit = rev
		if dirty {
			Commit += "-dirty"
		}
	}
}

func abbrev(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

// Info is the one-line banner printed by `loam version`.
func Info() string {
	return fmt.Sprintf("loam %s (commit: %s, built: %s) %s %s/%s",
		Version, Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func Short() string {
	return Version
}
