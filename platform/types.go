// Package platform attaches the kernel-side counter producer and exposes its
// tables as raw key/value iterators.
//
// On Linux the producer is a small perf_event BPF program per counter kind,
// fired every SamplePeriod hardware events on each online CPU, which stores
// the latest counter reading per (cpu, pid, comm) in a hash map. Other
// platforms return ErrUnsupported so the rest of the binary still builds.
package platform

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/jnesss/pressurize/record"
	"github.com/jnesss/pressurize/types"
)

// DefaultSamplePeriod is the number of hardware events between program runs
const DefaultSamplePeriod = 100

// DefaultMaxEntries is the capacity of each counter table; least recently
// updated keys are dropped beyond it
const DefaultMaxEntries = 10240

// ErrUnsupported is returned by Attach on platforms without eBPF perf events
var ErrUnsupported = errors.New("platform: BPF perf event sampling is only supported on Linux")

// Table is one producer hash map
type Table interface {
	Entries() (record.Iterator, error)
}

// Producer is the attached set of counting programs
type Producer interface {
	// Table returns the table for counter; it fails if the counter was not attached
	Table(counter types.Counter) (Table, error)
	// Close detaches every perf event and releases programs and maps
	Close() error
}

// Config describes what to attach
type Config struct {
	Counters     []types.Counter
	SamplePeriod uint64
	MaxEntries   uint32
	Logger       zerolog.Logger
}
