package version

import (
	"fmt"
	"runtime"
)

// These variables are set during build time through -ldflags.
var (
	gitCommit   string
	versionName = "v0.0.0-dev"
	buildDate   string
)

type Info struct {
	GitCommit   string `json:"gitCommit"`
	VersionName string `json:"versionName"`
	BuildDate   string `json:"buildDate"`
	GoVersion   string `json:"goVersion"`
	Platform    string `json:"platform"`
}

func Get() Info {
	return Info{
		GitCommit:   gitCommit,
		VersionName: versionName,
		BuildDate:   buildDate,
		GoVersion:   runtime.Version(),
		Platform:    fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

func (i Info) String() string {
	if i.GitCommit == "" {
		return i.VersionName
	}
	return fmt.Sprintf("%s (%s)", i.VersionName, i.GitCommit)
}
