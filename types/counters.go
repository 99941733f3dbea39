package types

import (
	"fmt"
	"strings"
)

// Counter identifies a hardware event sampled by the BPF producer
type Counter int

// Counter kinds
const (
	CounterInstructions    Counter = iota + 1 // Instructions retired
	CounterCacheReferences                    // Last-level cache references
	CounterCacheMisses                        // Last-level cache misses
)

// perf_event_attr.config values for PERF_TYPE_HARDWARE
const (
	PerfCountHWInstructions    = 1
	PerfCountHWCacheReferences = 2
	PerfCountHWCacheMisses     = 3
)

type counterInfo struct {
	name   string
	table  string
	config uint64
}

var counters = map[Counter]counterInfo{
	CounterInstructions:    {name: "instructions", table: "instr_count", config: PerfCountHWInstructions},
	CounterCacheReferences: {name: "cache-references", table: "ref_count", config: PerfCountHWCacheReferences},
	CounterCacheMisses:     {name: "cache-misses", table: "miss_count", config: PerfCountHWCacheMisses},
}

// AllCounters lists every supported counter in a stable order
func AllCounters() []Counter {
	return []Counter{CounterInstructions, CounterCacheReferences, CounterCacheMisses}
}

// ParseCounter maps a user-facing name ("instructions", "cache-misses", ...) to a Counter.
// Underscores are accepted in place of dashes.
func ParseCounter(s string) (Counter, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	names := make([]string, 0, len(counters))
	for _, c := range AllCounters() {
		if counters[c].name == normalized {
			return c, nil
		}
		names = append(names, counters[c].name)
	}
	return 0, fmt.Errorf("unknown counter %q (supported: %s)", s, strings.Join(names, ", "))
}

func (c Counter) String() string {
	if info, ok := counters[c]; ok {
		return info.name
	}
	return fmt.Sprintf("counter(%d)", int(c))
}

// Table is the name of the BPF hash map the producer writes this counter into
func (c Counter) Table() string {
	return counters[c].table
}

// PerfConfig is the PERF_TYPE_HARDWARE event config for this counter
func (c Counter) PerfConfig() uint64 {
	return counters[c].config
}

// MetricSuffix is appended to the metric prefix, e.g. "cache_misses"
func (c Counter) MetricSuffix() string {
	return strings.ReplaceAll(counters[c].name, "-", "_")
}

// Valid reports whether c is a known counter
func (c Counter) Valid() bool {
	_, ok := counters[c]
	return ok
}
