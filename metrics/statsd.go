package metrics

import (
	"fmt"

	"github.com/DataDog/datadog-go/v5/statsd"
)

// DefaultStatsdAddr is the local DogStatsD agent
const DefaultStatsdAddr = "127.0.0.1:8125"

// NewStatsdSink connects to a DogStatsD endpoint. addr may be host:port,
// unix:///path or empty for the library default.
func NewStatsdSink(addr string) (*statsd.Client, error) {
	client, err := statsd.New(addr, statsd.WithoutTelemetry())
	if err != nil {
		return nil, fmt.Errorf("failed to create statsd client for %q: %w", addr, err)
	}
	return client, nil
}
