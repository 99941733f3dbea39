package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/pressurize/record"
	"github.com/jnesss/pressurize/sampler"
	"github.com/jnesss/pressurize/series"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "journal"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDBCreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "journal")
	db, err := NewDB(dir)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(filepath.Join(dir, FileName))
	assert.NoError(t, err)
	assert.NotEmpty(t, db.RunID())
}

func TestRecordAnomaly(t *testing.T) {
	db := openTestDB(t)
	at := time.Date(2024, 1, 1, 0, 0, 3, 0, time.UTC)

	obs := series.Observation{
		Key:      record.Key{CPU: 0, PID: 100, Name: "a"},
		Value:    500,
		Previous: 1700,
		Delta:    -1200,
		Anomaly:  true,
	}
	require.NoError(t, db.RecordAnomaly("instructions", obs, at))

	got, err := db.RecentAnomalies(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, db.RunID(), got[0].RunID)
	assert.Equal(t, "instructions", got[0].Counter)
	assert.Equal(t, int32(100), got[0].PID)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, uint64(1700), got[0].Previous)
	assert.Equal(t, uint64(500), got[0].Value)
	assert.Equal(t, int64(-1200), got[0].Delta)
	assert.True(t, at.Equal(got[0].Timestamp))
}

func TestRecordAnomalyKeepsFullRangeValues(t *testing.T) {
	db := openTestDB(t)

	obs := series.Observation{
		Key:      record.Key{CPU: 1, PID: 7, Name: "big"},
		Value:    1,
		Previous: ^uint64(0),
		Delta:    -1 << 63,
		Anomaly:  true,
	}
	require.NoError(t, db.RecordAnomaly("cache-misses", obs, time.Now()))

	got, err := db.RecentAnomalies(0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ^uint64(0), got[0].Previous)
}

func TestRecordTickNewestFirst(t *testing.T) {
	db := openTestDB(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, db.RecordTick(sampler.TickSummary{
			Counter:    "instructions",
			Timestamp:  start.Add(time.Duration(i) * time.Second),
			Series:     3,
			Emitted:    i,
			TotalDelta: int64(i * 100),
		}))
	}
	require.NoError(t, db.RecordTick(sampler.TickSummary{
		Counter:   "instructions",
		Timestamp: start.Add(5 * time.Second),
		ReadError: "iterate table: boom",
	}))

	got, err := db.RecentTicks(3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "iterate table: boom", got[0].ReadError)
	assert.Equal(t, 4, got[1].Emitted)
	assert.Equal(t, int64(400), got[1].TotalDelta)
	assert.Empty(t, got[1].ReadError)
	assert.Equal(t, 3, got[2].Emitted)
}

func TestRecentEmpty(t *testing.T) {
	db := openTestDB(t)

	anomalies, err := db.RecentAnomalies(5)
	require.NoError(t, err)
	assert.Empty(t, anomalies)
	assert.NotNil(t, anomalies)

	ticks, err := db.RecentTicks(5)
	require.NoError(t, err)
	assert.Empty(t, ticks)
}

func TestJournalSatisfiesSamplerInterface(t *testing.T) {
	var _ sampler.Journal = openTestDB(t)
}

func TestRecordTickKeepsEmitErrors(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.RecordTick(sampler.TickSummary{
		Counter:    "cache-misses",
		Timestamp:  time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC),
		Series:     4,
		Emitted:    1,
		EmitErrors: 3,
	}))

	got, err := db.RecentTicks(1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Emitted)
	assert.Equal(t, 3, got[0].EmitErrors)
}
