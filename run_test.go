package main

import (
	"context"
	"encoding/binary"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/pressurize/database"
	"github.com/jnesss/pressurize/metrics"
	"github.com/jnesss/pressurize/platform"
	"github.com/jnesss/pressurize/record"
	"github.com/jnesss/pressurize/types"
)

type countingTable struct {
	mu    sync.Mutex
	value uint64
}

func (c *countingTable) Entries() (record.Iterator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value += 1000
	val := make([]byte, record.ValueSize)
	binary.NativeEndian.PutUint64(val, c.value)
	key := record.EncodeKey(record.Key{CPU: 0, PID: 100, Name: "a"})
	return record.NewSliceIterator([]record.Entry{{Key: key, Value: val}}), nil
}

type fakeProducer struct {
	tables map[types.Counter]*countingTable
	closed bool
}

func (f *fakeProducer) Table(counter types.Counter) (platform.Table, error) {
	t, ok := f.tables[counter]
	if !ok {
		return nil, errors.New("not attached")
	}
	return t, nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	names  []string
	tags   [][]string
	closed bool
}

func (r *recordingSink) Count(name string, value int64, tags []string, rate float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	r.tags = append(r.tags, tags)
	return nil
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func stubPlatform(t *testing.T, producer *fakeProducer, sink *recordingSink) {
	t.Helper()
	origAttach, origSink := attachProducer, newSink
	attachProducer = func(cfg platform.Config) (platform.Producer, error) {
		for _, c := range cfg.Counters {
			if _, ok := producer.tables[c]; !ok {
				producer.tables[c] = &countingTable{}
			}
		}
		return producer, nil
	}
	newSink = func(addr string) (metrics.Sink, error) { return sink, nil }
	t.Cleanup(func() {
		attachProducer, newSink = origAttach, origSink
	})
}

func TestRunSamplerEmitsAndStops(t *testing.T) {
	producer := &fakeProducer{tables: map[types.Counter]*countingTable{}}
	sink := &recordingSink{}
	stubPlatform(t, producer, sink)

	cfg := defaultConfig()
	cfg.Counters = []string{"instructions", "cache-misses"}
	cfg.Interval = 10 * time.Millisecond
	cfg.Duration = 80 * time.Millisecond
	cfg.Tags = []string{"env:test"}
	cfg.JournalDir = filepath.Join(t.TempDir(), "journal")
	counters, err := cfg.Validate()
	require.NoError(t, err)

	require.NoError(t, runSampler(context.Background(), cfg, counters, zerolog.Nop()))

	assert.True(t, producer.closed)
	assert.True(t, sink.closed)
	require.NotEmpty(t, sink.names)
	assert.Contains(t, sink.names, "pressurize.instructions")
	assert.Contains(t, sink.names, "pressurize.cache_misses")
	assert.Equal(t, []string{"pid:100", "name:a", "cpu:0", "env:test"}, sink.tags[0])

	db, err := database.NewDB(cfg.JournalDir)
	require.NoError(t, err)
	defer db.Close()
	ticks, err := db.RecentTicks(10)
	require.NoError(t, err)
	assert.NotEmpty(t, ticks)
}

func TestRunSamplerStopsOnCancel(t *testing.T) {
	producer := &fakeProducer{tables: map[types.Counter]*countingTable{}}
	sink := &recordingSink{}
	stubPlatform(t, producer, sink)

	cfg := defaultConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.Listen = "127.0.0.1:0"
	counters, err := cfg.Validate()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runSampler(ctx, cfg, counters, zerolog.Nop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runSampler did not stop after cancel")
	}
	assert.True(t, producer.closed)
}

func TestRunSamplerAttachFailure(t *testing.T) {
	orig := attachProducer
	attachProducer = func(platform.Config) (platform.Producer, error) {
		return nil, platform.ErrUnsupported
	}
	t.Cleanup(func() { attachProducer = orig })

	cfg := defaultConfig()
	counters, err := cfg.Validate()
	require.NoError(t, err)

	err = runSampler(context.Background(), cfg, counters, zerolog.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, platform.ErrUnsupported)
}
