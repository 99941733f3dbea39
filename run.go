package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jnesss/pressurize/database"
	"github.com/jnesss/pressurize/metrics"
	"github.com/jnesss/pressurize/platform"
	"github.com/jnesss/pressurize/sampler"
	"github.com/jnesss/pressurize/series"
	"github.com/jnesss/pressurize/types"
	"github.com/jnesss/pressurize/web"
)

// swapped in tests
var (
	attachProducer = platform.Attach
	newSink        = func(addr string) (metrics.Sink, error) { return metrics.NewStatsdSink(addr) }
)

// runSampler wires producer, sink, pipelines and the optional journal and
// status server, then samples until ctx is done or the run duration elapses.
func runSampler(ctx context.Context, cfg *Config, counters []types.Counter, logger zerolog.Logger) error {
	producer, err := attachProducer(platform.Config{
		Counters:     counters,
		SamplePeriod: cfg.SamplePeriod,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to attach producer: %w", err)
	}
	defer producer.Close()

	sink, err := newSink(cfg.StatsdAddr)
	if err != nil {
		return err
	}
	defer sink.Close()

	pipelines := make([]*sampler.Pipeline, 0, len(counters))
	for _, counter := range counters {
		table, err := producer.Table(counter)
		if err != nil {
			return err
		}
		emitter, err := metrics.NewEmitter(sink, metrics.EmitterConfig{
			Metric:    cfg.metricName(counter),
			Counter:   counter.String(),
			ExtraTags: cfg.Tags,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		tracker := series.NewTracker(series.WithEmitFirstSample(cfg.EmitFirstSample))
		p, err := sampler.NewPipeline(counter, table, tracker, emitter, logger)
		if err != nil {
			return err
		}
		pipelines = append(pipelines, p)
	}

	loopCfg := sampler.Config{
		Interval:  cfg.Interval,
		Retention: cfg.Retention,
		Duration:  cfg.Duration,
		Logger:    logger,
	}

	var db *database.DB
	if cfg.JournalDir != "" {
		db, err = database.NewDB(cfg.JournalDir)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer db.Close()
		loopCfg.Journal = db
		logger.Info().Str("dir", cfg.JournalDir).Str("run_id", db.RunID()).Msg("Journal enabled")
	}

	loop, err := sampler.New(loopCfg, pipelines...)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	var running atomic.Bool
	running.Store(true)
	go func() {
		<-gctx.Done()
		running.Store(false)
	}()

	g.Go(func() error {
		defer cancel()
		return loop.Run(&running)
	})

	if cfg.Listen != "" {
		server := web.NewServer(loop.Status, db, cfg.Listen, logger)
		g.Go(func() error {
			return server.Start(gctx)
		})
	}

	err = g.Wait()
	for _, p := range pipelines {
		logger.Info().
			Str("counter", p.Counter().String()).
			Int("tracked", p.Tracked()).
			Msg("Pipeline stopped")
	}
	logger.Info().Msg("Shutting down")
	return err
}
