// Package sampler drives the fixed-interval sampling loop: read each producer
// table, diff it against retained state, emit deltas and evict stale series.
package sampler

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jnesss/pressurize/metrics"
	"github.com/jnesss/pressurize/series"
)

// DefaultInterval is the tick interval
const DefaultInterval = time.Second

// ErrNoPipelines is returned when a loop is created without any counter
var ErrNoPipelines = errors.New("sampler: at least one pipeline is required")

// Config holds loop settings
type Config struct {
	Interval  time.Duration // tick interval
	Retention time.Duration // drop series unseen for this long
	Duration  time.Duration // stop after this long; 0 runs until stopped
	TopN      int           // series per counter in the published Status
	Journal   Journal       // optional
	Logger    zerolog.Logger
}

// Loop owns the pipelines and all series state. Only the goroutine calling
// Run touches them; other goroutines read the published Status.
type Loop struct {
	cfg       Config
	pipelines []*Pipeline
	logger    zerolog.Logger

	now   func() time.Time
	sleep func(time.Duration)

	startedAt time.Time
	ticks     uint64
	status    atomic.Pointer[Status]
}

// New creates a loop over pipelines, applying defaults for zero settings
func New(cfg Config, pipelines ...*Pipeline) (*Loop, error) {
	if len(pipelines) == 0 {
		return nil, ErrNoPipelines
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = series.DefaultRetention
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	return &Loop{
		cfg:       cfg,
		pipelines: pipelines,
		logger:    cfg.Logger.With().Str("component", "sampler").Logger(),
		now:       time.Now,
		sleep:     time.Sleep,
	}, nil
}

// Run ticks until running is cleared or the configured duration elapses.
// The flag is checked once per tick boundary, so stopping takes at most one
// interval plus the tick in progress.
func (l *Loop) Run(running *atomic.Bool) error {
	l.startedAt = l.now()
	var deadline time.Time
	if l.cfg.Duration > 0 {
		deadline = l.startedAt.Add(l.cfg.Duration)
	}

	l.logger.Info().
		Dur("interval", l.cfg.Interval).
		Dur("retention", l.cfg.Retention).
		Dur("duration", l.cfg.Duration).
		Int("counters", len(l.pipelines)).
		Msg("Sampling loop started")

	next := l.startedAt.Add(l.cfg.Interval)
	for {
		if d := next.Sub(l.now()); d > 0 {
			l.sleep(d)
		}

		if !running.Load() {
			l.logger.Info().Uint64("ticks", l.ticks).Msg("Stop requested; sampling loop draining")
			return nil
		}

		now := l.now()
		if !deadline.IsZero() && !now.Before(deadline) {
			l.logger.Info().Uint64("ticks", l.ticks).Msg("Run duration elapsed; sampling loop stopping")
			return nil
		}

		l.Tick(now)

		next = next.Add(l.cfg.Interval)
		if after := l.now(); next.Before(after) {
			// fell behind; realign instead of bursting through missed ticks
			next = after.Add(l.cfg.Interval)
		}
	}
}

// Tick runs one iteration of every pipeline in order and publishes Status
func (l *Loop) Tick(now time.Time) []TickSummary {
	if l.startedAt.IsZero() {
		l.startedAt = now
	}
	start := l.now()

	summaries := make([]TickSummary, 0, len(l.pipelines))
	for _, p := range l.pipelines {
		summaries = append(summaries, p.tick(now, l.cfg.Retention, l.cfg.Journal))
	}
	l.ticks++

	metrics.TickDuration.Observe(l.now().Sub(start).Seconds())
	l.publish(now)
	return summaries
}

// Status returns the status published after the latest tick, or nil before the first
func (l *Loop) Status() *Status {
	return l.status.Load()
}

func (l *Loop) publish(now time.Time) {
	st := &Status{
		StartedAt: l.startedAt,
		UpdatedAt: now,
		Ticks:     l.ticks,
		Counters:  make([]CounterStatus, 0, len(l.pipelines)),
	}
	for _, p := range l.pipelines {
		st.Counters = append(st.Counters, p.status(l.cfg.TopN))
	}
	l.status.Store(st)
}
