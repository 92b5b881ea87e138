// Package version reports what build of roundtable is running.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Name appears in banners and the User-Agent header.
const Name = "roundtable"

// Release builds stamp these with -ldflags "-X <pkg>.Version=... -X
// <pkg>.Commit=... -X <pkg>.Date=...". Builds that leave Commit or Date
// unset fall back to the VCS data the go tool embeds.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	fillFromBuild(info.Settings)
}

func fillFromBuild(settings []debug.BuildSetting) {
	for _, s := range settings {
		switch {
		case s.Key == "vcs.revision" && Commit == "unknown":
			Commit = s.Value
		case s.Key == "vcs.time" && Date == "unknown":
			Date = s.Value
		}
	}
}

// Info is the one-line description printed by "roundtable version".
func Info() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, %s/%s)",
		Name, Version, short(Commit), Date, runtime.GOOS, runtime.GOARCH)
}

func UserAgent() string {
	return Name + "/" + Version
}

func short(rev string) string {
	const n = 7
	if len(rev) <= n {
		return rev
	}
	return rev[:n]
}
