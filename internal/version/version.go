package version

import "runtime/debug"

const AppName = "sitedeploy"

// set via -ldflags "-X github.com/keithlinneman/sitedeploy/internal/version.Version=..."
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate string
	BuildId   string
)

type Info struct {
	AppName    string `json:"app"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date,omitempty"`
	BuildDate  string `json:"build_date,omitempty"`
	BuildId    string `json:"build_id,omitempty"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// Get merges ldflags values with whatever the toolchain stamped into the binary.
// ldflags win where both are set.
func Get() Info {
	out := Info{
		AppName:   AppName,
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		BuildId:   BuildId,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	out.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" && s.Value != "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			out.CommitDate = s.Value
			if out.BuildDate == "" {
				out.BuildDate = s.Value
			}
		case "vcs.modified":
			dirty := s.Value == "true"
			out.VCSDirty = &dirty
		}
	}
	return out
}

// String is the one-line form printed by -V
func (i Info) String() string {
	s := i.AppName + " " + i.Version + " (commit=" + i.Commit
	if i.BuildId != "" {
		s += ", build_id=" + i.BuildId
	}
	if i.GoVersion != "" {
		s += ", go=" + i.GoVersion
	}
	if i.VCSDirty != nil && *i.VCSDirty {
		s += ", dirty"
	}
	return s + ")"
}
