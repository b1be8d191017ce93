// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
	"time"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	// BuildDate is RFC3339 when set by the release build.
	BuildDate = "unknown"
	GoVersion = runtime.Version()
	Platform  = runtime.GOOS + "/" + runtime.GOARCH
)

type BuildInfo struct {
	Version   string     `json:"version" yaml:"version"`
	GitCommit string     `json:"gitCommit" yaml:"gitCommit"`
	BuildDate string     `json:"buildDate" yaml:"buildDate"`
	GoVersion string     `json:"goVersion" yaml:"goVersion"`
	Platform  string     `json:"platform" yaml:"platform"`
	BuildTime *time.Time `json:"buildTime,omitempty" yaml:"buildTime,omitempty"`
}

func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
		Platform:  Platform,
	}
	if t, err := time.Parse(time.RFC3339, BuildDate); err == nil {
		info.BuildTime = &t
	}
	return info
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("cloudctl %s (commit: %s, built: %s, %s)", b.Version, b.GitCommit, b.BuildDate, b.Platform)
}

// UserAgent is sent on every request to the authentication server.
func UserAgent() string {
	return fmt.Sprintf("cloudctl/%s (%s)", Version, Platform)
}
