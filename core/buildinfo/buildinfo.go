// Package buildinfo carries the version stamp of the binary. Release builds
// set it at link time:
//
//	go build -ldflags "-X github.com/m3rciful/holdingbot/core/buildinfo.Version=v1.0.0"
//
// Commit and Date fall back to the VCS data the go tool embeds.
package buildinfo

import "runtime/debug"

var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch {
		case s.Key == "vcs.revision" && Commit == "":
			Commit = s.Value
		case s.Key == "vcs.time" && Date == "":
			Date = s.Value
		}
	}
}
