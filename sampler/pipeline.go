package sampler

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/jnesss/pressurize/metrics"
	"github.com/jnesss/pressurize/record"
	"github.com/jnesss/pressurize/series"
	"github.com/jnesss/pressurize/types"
)

// Source gives access to one producer table
type Source interface {
	Entries() (record.Iterator, error)
}

// Journal records anomalies and tick summaries outside the core
type Journal interface {
	RecordAnomaly(counter string, obs series.Observation, at time.Time) error
	RecordTick(summary TickSummary) error
}

// Pipeline is the sample → diff → emit → evict chain for one counter
type Pipeline struct {
	counter types.Counter
	source  Source
	tracker *series.Tracker
	emitter *metrics.Emitter
	logger  zerolog.Logger

	last    TickSummary
	lastObs []series.Observation
}

// NewPipeline wires a counter's table, tracker and emitter together
func NewPipeline(counter types.Counter, source Source, tracker *series.Tracker, emitter *metrics.Emitter, logger zerolog.Logger) (*Pipeline, error) {
	if source == nil || tracker == nil || emitter == nil {
		return nil, fmt.Errorf("pipeline %s: source, tracker and emitter are required", counter)
	}
	return &Pipeline{
		counter: counter,
		source:  source,
		tracker: tracker,
		emitter: emitter,
		logger:  logger.With().Str("counter", counter.String()).Logger(),
	}, nil
}

// Counter returns the counter this pipeline samples
func (p *Pipeline) Counter() types.Counter {
	return p.counter
}

// Tracked returns the number of series currently retained
func (p *Pipeline) Tracked() int {
	return p.tracker.Len()
}

func (p *Pipeline) snapshot() (record.Snapshot, error) {
	it, err := p.source.Entries()
	if err != nil {
		return nil, err
	}
	return record.BuildSnapshot(it)
}

// tick runs one iteration. A table read failure skips the rest of the tick.
func (p *Pipeline) tick(now time.Time, retention time.Duration, journal Journal) TickSummary {
	label := p.counter.String()
	summary := TickSummary{Counter: label, Timestamp: now}
	metrics.Ticks.WithLabelValues(label).Inc()

	snap, err := p.snapshot()
	if err != nil {
		metrics.ReadErrors.WithLabelValues(label).Inc()
		p.logger.Error().Err(err).Msg("Failed to read producer table; skipping tick")
		summary.ReadError = err.Error()
		summary.Series = p.tracker.Len()
		p.last = summary
		p.lastObs = nil
		return summary
	}

	obs := p.tracker.Observe(snap, now)
	sort.Slice(obs, func(i, j int) bool { return lessKey(obs[i].Key, obs[j].Key) })

	var firstEmitErr error
	for _, o := range obs {
		if o.Anomaly {
			summary.Anomalies++
			p.emitter.ReportAnomaly(o)
			if journal != nil {
				if err := journal.RecordAnomaly(label, o, now); err != nil {
					p.logger.Error().Err(err).Msg("Failed to journal anomaly")
				}
			}
			continue
		}
		if err := p.emitter.Emit(o.Key, o.Delta); err != nil {
			summary.EmitErrors++
			if firstEmitErr == nil {
				firstEmitErr = err
			}
			continue
		}
		summary.Emitted++
		summary.TotalDelta += o.Delta
	}
	if firstEmitErr != nil {
		p.logger.Error().
			Err(firstEmitErr).
			Int("failed", summary.EmitErrors).
			Msg("Failed to send deltas to metrics sink")
	}

	summary.Evicted = p.tracker.EvictStale(now, retention)
	if summary.Evicted > 0 {
		metrics.Evictions.WithLabelValues(label).Add(float64(summary.Evicted))
		p.logger.Debug().Int("evicted", summary.Evicted).Msg("Evicted stale series")
	}
	summary.Series = p.tracker.Len()
	metrics.TrackedSeries.WithLabelValues(label).Set(float64(summary.Series))

	if journal != nil {
		if err := journal.RecordTick(summary); err != nil {
			p.logger.Error().Err(err).Msg("Failed to journal tick summary")
		}
	}

	p.last = summary
	p.lastObs = obs
	return summary
}

func (p *Pipeline) status(topN int) CounterStatus {
	return CounterStatus{
		Counter:  p.counter.String(),
		Metric:   p.emitter.Metric(),
		LastTick: p.last,
		Top:      topDeltas(p.lastObs, topN),
	}
}

func lessKey(a, b record.Key) bool {
	if a.PID != b.PID {
		return a.PID < b.PID
	}
	if a.CPU != b.CPU {
		return a.CPU < b.CPU
	}
	return a.Name < b.Name
}
