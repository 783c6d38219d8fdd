// Package version reports what build of the ingest server is running.
package version

import (
	"runtime/debug"
	"strconv"
)

const AppName = "archive-ingest"

// Stamped at link time, e.g.
//
//	go build -ldflags "-X github.com/keithlinneman/archive-ingest/internal/version.Commit=$(git rev-parse HEAD)"
var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

type Info struct {
	App        string `json:"app"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// Get returns the stamped values with gaps filled from the build info the
// toolchain embedded. A stamped value is never overwritten.
func Get() Info {
	info := Info{
		App:        AppName,
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.fill(bi)
	}
	return info
}

func (i *Info) fill(bi *debug.BuildInfo) {
	i.GoVersion = bi.GoVersion
	if i.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}

	settings := make(map[string]string, len(bi.Settings))
	for _, s := range bi.Settings {
		settings[s.Key] = s.Value
	}
	if rev := settings["vcs.revision"]; rev != "" && i.Commit == "none" {
		i.Commit = rev
	}
	if at := settings["vcs.time"]; at != "" {
		if i.CommitDate == "" {
			i.CommitDate = at
		}
		if i.BuildDate == "" {
			i.BuildDate = at
		}
	}
	if i.VCSDirty == nil {
		if dirty, err := strconv.ParseBool(settings["vcs.modified"]); err == nil {
			i.VCSDirty = &dirty
		}
	}
}
