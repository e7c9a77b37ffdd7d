// Package version derives the build identity reported in logs and
// health responses. A commit injected through -ldflags wins over VCS
// metadata from the Go build info; with neither, the build reports
// itself as "dev".
package version

import "runtime/debug"

// AppName identifies the binary in version strings and user agents.
const AppName = "forgesight"

// commit is injectable at build time:
//
//	go build -ldflags "-X github.com/forgesight/forgesight/pkg/version.commit=$(git rev-parse HEAD)"
//
// Container builds rely on this because .git is not in the build context.
var commit string

// GitCommit is the short commit hash, or "dev" outside a git build.
var GitCommit = resolve()

func resolve() string {
	if commit != "" {
		return short(commit)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns the "name/commit" pair used for user agents and startup logs.
func Full() string {
	return AppName + "/" + GitCommit
}
