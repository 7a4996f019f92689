// Package buildinfo holds version and build metadata stamped at compile time via ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Info returns build and runtime info as a map, suitable for structured
// log attributes or the version subcommand.
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

// Uptime returns the duration since process start.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// UserAgent returns the User-Agent sent on outbound HTTP requests.
func UserAgent() string {
	return "amazo/" + Version
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("Amazo %s (%s) built %s %s/%s", Version, GitCommit, BuildTime, runtime.GOOS, runtime.GOARCH)
}
