// Package buildinfo holds version and build metadata stamped at compile time via ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Set at build time via -ldflags "-X github.com/nugget/dazzy/internal/buildinfo.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Info returns build and runtime details for the status endpoint.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime returns the duration since process start, truncated to seconds.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// UserAgent is sent on every outbound HTTP request. Public APIs such as
// Wikipedia reject anonymous clients, so it names the project.
func UserAgent() string {
	return fmt.Sprintf("Dazzy/%s (+https://github.com/nugget/dazzy)", Version)
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("Dazzy %s (%s) built %s", Version, GitCommit, BuildTime)
}
