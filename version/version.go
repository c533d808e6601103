// Package version exposes build metadata for startup logs and health
// reporting.
package version

import (
	"runtime/debug"
)

// Set at build time via -ldflags:
//
//	-X github.com/kbukum/ragflow/version.Version=v1.2.3
//	-X github.com/kbukum/ragflow/version.GitCommit=abc1234
var (
	Version   = "dev"
	GitCommit = ""
)

// Info is the resolved build metadata.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
}

// Get resolves build metadata, falling back to the binary's embedded
// build info when ldflags were not set.
func Get() Info {
	info := Info{Version: Version, GitCommit: GitCommit}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		if info.GitCommit == "" {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					info.GitCommit = shorten(s.Value)
					break
				}
			}
		}
	}
	return info
}

// Short returns "version" or "version-commit" for log lines.
func Short() string {
	info := Get()
	if info.GitCommit == "" {
		return info.Version
	}
	return info.Version + "-" + shorten(info.GitCommit)
}

func shorten(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}
