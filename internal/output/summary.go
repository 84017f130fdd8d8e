// Package output writes replay summaries.
package output

import (
	"runtime"
	"time"
)

// Summary describes one finished replay.
type Summary struct {
	Trace       string
	Backend     string
	Workers     int
	Items       int
	Hits        int64
	Misses      int64
	Requeues    int64
	Dropped     int64
	Skipped     int64
	Elapsed     time.Duration
	Timestamp   string
	LogFile     string
	MachineInfo MachineInfo
}

// MachineInfo holds information about the replay environment.
type MachineInfo struct {
	OS          string
	Arch        string
	NumCPU      int
	GoVersion   string
	CommandLine string
}

// NewMachineInfo describes the current machine.
func NewMachineInfo(commandLine string) MachineInfo {
	return MachineInfo{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		NumCPU:      runtime.NumCPU(),
		GoVersion:   runtime.Version(),
		CommandLine: commandLine,
	}
}

// HitRate returns hits as a percentage of logged items.
func (s Summary) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Throughput returns logged items per second.
func (s Summary) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Hits+s.Misses) / s.Elapsed.Seconds()
}
