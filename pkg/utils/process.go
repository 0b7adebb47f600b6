//go:build !windows
// +build !windows

package utils

import (
	"bytes"
	"os"
	"strconv"
	"syscall"
)

const pageSize = 4096

// CPUSeconds returns user plus system time of the current process.
func CPUSeconds() float64 {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return timeval(ru.Utime) + timeval(ru.Stime)
}

func timeval(tv syscall.Timeval) float64 {
	return float64(tv.Sec) + float64(tv.Usec)/1e6
}

// ResidentBytes reads the rss from /proc/self/stat and falls back to the
// peak rss reported by getrusage where procfs is missing.
func ResidentBytes() uint64 {
	stat, err := os.ReadFile("/proc/self/stat")
	if err == nil {
		fields := bytes.Fields(stat)
		if len(fields) >= 24 {
			pages, err := strconv.ParseUint(string(fields[23]), 10, 64)
			if err == nil {
				return pages * pageSize
			}
		}
	}

	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return uint64(ru.Maxrss) * 1024
}
