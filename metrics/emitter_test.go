package metrics

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/pressurize/record"
	"github.com/jnesss/pressurize/series"
)

type countCall struct {
	name  string
	value int64
	tags  []string
}

type fakeSink struct {
	calls  []countCall
	err    error
	closed bool
}

func (f *fakeSink) Count(name string, value int64, tags []string, rate float64) error {
	f.calls = append(f.calls, countCall{name: name, value: value, tags: tags})
	return f.err
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

func newTestEmitter(t *testing.T, sink Sink, counter string, extra ...string) (*Emitter, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	e, err := NewEmitter(sink, EmitterConfig{
		Metric:    "pressurize.instructions",
		Counter:   counter,
		ExtraTags: extra,
		Logger:    zerolog.New(&buf),
	})
	require.NoError(t, err)
	return e, &buf
}

func TestEmitSendsTaggedCount(t *testing.T) {
	sink := &fakeSink{}
	e, _ := newTestEmitter(t, sink, "emit-test")

	require.NoError(t, e.Emit(record.Key{CPU: 0, PID: 100, Name: "a"}, 500))

	require.Len(t, sink.calls, 1)
	assert.Equal(t, countCall{
		name:  "pressurize.instructions",
		value: 500,
		tags:  []string{"pid:100", "name:a", "cpu:0"},
	}, sink.calls[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(DeltasEmitted.WithLabelValues("emit-test")))
}

func TestEmitIgnoresNonPositive(t *testing.T) {
	sink := &fakeSink{}
	e, _ := newTestEmitter(t, sink, "emit-nonpositive")

	require.NoError(t, e.Emit(record.Key{PID: 1}, 0))
	require.NoError(t, e.Emit(record.Key{PID: 1}, -10))
	assert.Empty(t, sink.calls)
}

func TestEmitExtraTagsFollowFixedTags(t *testing.T) {
	sink := &fakeSink{}
	e, _ := newTestEmitter(t, sink, "emit-extra", "env:production")

	require.NoError(t, e.Emit(record.Key{CPU: -1, PID: -1, Name: ""}, 1))
	assert.Equal(t, []string{"pid:-1", "name:", "cpu:-1", "env:production"}, sink.calls[0].tags)
}

func TestEmitSinkError(t *testing.T) {
	sink := &fakeSink{err: errors.New("connection refused")}
	e, _ := newTestEmitter(t, sink, "emit-error")

	err := e.Emit(record.Key{PID: 3}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 1.0, testutil.ToFloat64(EmitErrors.WithLabelValues("emit-error")))
}

func TestTagsCached(t *testing.T) {
	e, _ := newTestEmitter(t, &fakeSink{}, "emit-cache")
	key := record.Key{CPU: 2, PID: 5, Name: "x"}

	first := e.Tags(key)
	second := e.Tags(key)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, e.tags.Len())
}

func TestReportAnomalyLogs(t *testing.T) {
	sink := &fakeSink{}
	e, buf := newTestEmitter(t, sink, "emit-anomaly")

	e.ReportAnomaly(series.Observation{
		Key:      record.Key{CPU: 0, PID: 100, Name: "a"},
		Value:    200,
		Previous: 1500,
		Delta:    -1300,
		Anomaly:  true,
	})

	assert.Empty(t, sink.calls)
	out := buf.String()
	assert.Contains(t, out, `"delta":-1300`)
	assert.Contains(t, out, `"pid":100`)
	assert.Contains(t, out, `"value":200`)
	assert.Equal(t, 1.0, testutil.ToFloat64(Anomalies.WithLabelValues("emit-anomaly")))
}

func TestNewEmitterValidation(t *testing.T) {
	_, err := NewEmitter(nil, EmitterConfig{Metric: "m"})
	assert.Error(t, err)
	_, err = NewEmitter(&fakeSink{}, EmitterConfig{})
	assert.Error(t, err)
}

