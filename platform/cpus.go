package platform

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

var onlineCPUsPath = "/sys/devices/system/cpu/online"

// OnlineCPUs returns the ids of the CPUs currently online
func OnlineCPUs() ([]int, error) {
	data, err := os.ReadFile(onlineCPUsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read online cpus: %w", err)
	}
	return parseCPUList(string(data))
}

// parseCPUList parses the kernel's cpulist format, e.g. "0-3,5,7-8"
func parseCPUList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty cpu list")
	}

	var cpus []int
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid cpu list %q: %v", s, err)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("invalid cpu list %q: %v", s, err)
			}
		}
		if first < 0 || last < first {
			return nil, fmt.Errorf("invalid cpu range %q", part)
		}
		for cpu := first; cpu <= last; cpu++ {
			cpus = append(cpus, cpu)
		}
	}
	return cpus, nil
}
