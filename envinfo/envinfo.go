// Package envinfo describes the process the runner executes in.
package envinfo

import (
	"os"
	"runtime"
	"time"
)

// Info is a snapshot of the host and Go runtime.
type Info struct {
	GoVersion  string    `json:"goVersion"`
	OS         string    `json:"os"`
	Arch       string    `json:"arch"`
	NumCPU     int       `json:"numCPU"`
	Goroutines int       `json:"goroutines"`
	Hostname   string    `json:"hostname"`
	PID        int       `json:"pid"`
	Version    string    `json:"version,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
}

var startedAt = time.Now()

// Collect gathers environment info. version is the runner build version and
// may be empty.
func Collect(version string) Info {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return Info{
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		NumCPU:     runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
		Hostname:   hostname,
		PID:        os.Getpid(),
		Version:    version,
		StartedAt:  startedAt,
	}
}

// Platform returns "os/arch".
func (i Info) Platform() string {
	return i.OS + "/" + i.Arch
}

// Uptime returns how long the process has been running.
func (i Info) Uptime() time.Duration {
	return time.Since(i.StartedAt)
}
