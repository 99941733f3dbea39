package metrics

import (
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/jnesss/pressurize/record"
	"github.com/jnesss/pressurize/series"
)

// DefaultTagCacheSize bounds the number of keys whose formatted tags are kept
const DefaultTagCacheSize = 4096

// Sink is the subset of a DogStatsD client the emitter needs.
// *statsd.Client satisfies it.
type Sink interface {
	Count(name string, value int64, tags []string, rate float64) error
	Close() error
}

// Emitter turns positive deltas into tagged counter increments
type Emitter struct {
	sink      Sink
	metric    string
	counter   string
	extraTags []string
	tags      *lru.Cache
	logger    zerolog.Logger
}

// EmitterConfig configures an Emitter
type EmitterConfig struct {
	Metric       string   // full metric name, e.g. "pressurize.instructions"
	Counter      string   // counter label for logs and self-metrics
	ExtraTags    []string // appended after pid, name and cpu
	TagCacheSize int
	Logger       zerolog.Logger
}

// NewEmitter creates an Emitter writing to sink
func NewEmitter(sink Sink, cfg EmitterConfig) (*Emitter, error) {
	if sink == nil {
		return nil, fmt.Errorf("metrics sink is required")
	}
	if cfg.Metric == "" {
		return nil, fmt.Errorf("metric name is required")
	}
	size := cfg.TagCacheSize
	if size <= 0 {
		size = DefaultTagCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create tag cache: %w", err)
	}

	return &Emitter{
		sink:      sink,
		metric:    cfg.Metric,
		counter:   cfg.Counter,
		extraTags: append([]string(nil), cfg.ExtraTags...),
		tags:      cache,
		logger:    cfg.Logger,
	}, nil
}

// Metric returns the metric name the emitter writes to
func (e *Emitter) Metric() string {
	return e.metric
}

// Emit sends a counter increment of delta for key. Non-positive deltas are
// ignored.
func (e *Emitter) Emit(key record.Key, delta int64) error {
	if delta <= 0 {
		return nil
	}
	if err := e.sink.Count(e.metric, delta, e.Tags(key), 1); err != nil {
		EmitErrors.WithLabelValues(e.counter).Inc()
		return fmt.Errorf("count %s: %w", e.metric, err)
	}
	DeltasEmitted.WithLabelValues(e.counter).Inc()
	return nil
}

// ReportAnomaly logs a counter that went backwards instead of emitting it
func (e *Emitter) ReportAnomaly(obs series.Observation) {
	Anomalies.WithLabelValues(e.counter).Inc()
	e.logger.Warn().
		Str("counter", e.counter).
		Int32("pid", obs.Key.PID).
		Int32("cpu", obs.Key.CPU).
		Str("name", obs.Key.Name).
		Uint64("value", obs.Value).
		Uint64("previous", obs.Previous).
		Int64("delta", obs.Delta).
		Msg("Counter went backwards; re-baselined")
}

// Tags returns the tag list for key: pid, name, cpu, then any extra tags
func (e *Emitter) Tags(key record.Key) []string {
	if cached, ok := e.tags.Get(key); ok {
		return cached.([]string)
	}
	tags := make([]string, 0, 3+len(e.extraTags))
	tags = append(tags,
		"pid:"+strconv.FormatInt(int64(key.PID), 10),
		"name:"+key.Name,
		"cpu:"+strconv.FormatInt(int64(key.CPU), 10),
	)
	tags = append(tags, e.extraTags...)
	e.tags.Add(key, tags)
	return tags
}
