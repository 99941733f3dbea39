package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jnesss/pressurize/sampler"
	"github.com/jnesss/pressurize/series"
)

// FileName is the journal file created inside the journal directory
const FileName = "pressurize.db"

// DefaultQueryLimit bounds Recent* queries when the caller passes no limit
const DefaultQueryLimit = 100

// DB journals anomalies and per-tick summaries of one run
type DB struct {
	Db    *sql.DB
	runID string
}

// AnomalyRecord is a journaled counter reset
type AnomalyRecord struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"runId"`
	Timestamp time.Time `json:"timestamp"`
	Counter   string    `json:"counter"`
	CPU       int32     `json:"cpu"`
	PID       int32     `json:"pid"`
	Name      string    `json:"name"`
	Previous  uint64    `json:"previousValue"`
	Value     uint64    `json:"value"`
	Delta     int64     `json:"delta"`
}

// TickRecord is a journaled tick summary
type TickRecord struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"runId"`
	Timestamp  time.Time `json:"timestamp"`
	Counter    string    `json:"counter"`
	Series     int       `json:"series"`
	Emitted    int       `json:"emitted"`
	EmitErrors int       `json:"emitErrors"`
	Anomalies  int       `json:"anomalies"`
	Evicted    int       `json:"evicted"`
	TotalDelta int64     `json:"totalDelta"`
	ReadError  string    `json:"readError,omitempty"`
}

func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %v", err)
	}

	dbPath := filepath.Join(dataDir, FileName)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %v", err)
	}

	if err := initAnomalySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize anomaly schema: %v", err)
	}

	if err := initTickSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tick schema: %v", err)
	}

	return &DB{Db: db, runID: uuid.NewString()}, nil
}

func initAnomalySchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS anomalies (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id         TEXT NOT NULL,
		timestamp      DATETIME NOT NULL,
		counter        TEXT NOT NULL,
		cpu            INTEGER NOT NULL,
		pid            INTEGER NOT NULL,
		name           TEXT NOT NULL,
		previous_value INTEGER NOT NULL,  -- stored as the int64 bit pattern
		value          INTEGER NOT NULL,
		delta          INTEGER NOT NULL
	);`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create anomalies table: %v", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_anomalies_timestamp ON anomalies(timestamp);",
		"CREATE INDEX IF NOT EXISTS idx_anomalies_pid ON anomalies(pid);",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %v", err)
		}
	}
	return nil
}

func initTickSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ticks (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL,
		timestamp   DATETIME NOT NULL,
		counter     TEXT NOT NULL,
		series      INTEGER NOT NULL,
		emitted     INTEGER NOT NULL,
		emit_errors INTEGER NOT NULL,
		anomalies   INTEGER NOT NULL,
		evicted     INTEGER NOT NULL,
		total_delta INTEGER NOT NULL,
		read_error  TEXT
	);`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create ticks table: %v", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_ticks_timestamp ON ticks(timestamp);"); err != nil {
		return fmt.Errorf("failed to create index: %v", err)
	}
	return nil
}

// RunID identifies the rows written by this process
func (db *DB) RunID() string {
	return db.runID
}

// RecordAnomaly stores one counter reset
func (db *DB) RecordAnomaly(counter string, obs series.Observation, at time.Time) error {
	query := `
        INSERT INTO anomalies (
            run_id, timestamp, counter, cpu, pid, name,
            previous_value, value, delta
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.Db.Exec(query,
		db.runID,
		at.UTC(),
		counter,
		obs.Key.CPU,
		obs.Key.PID,
		obs.Key.Name,
		int64(obs.Previous),
		int64(obs.Value),
		obs.Delta)
	if err != nil {
		return fmt.Errorf("failed to insert anomaly: %v", err)
	}
	return nil
}

// RecordTick stores one tick summary
func (db *DB) RecordTick(summary sampler.TickSummary) error {
	query := `
        INSERT INTO ticks (
            run_id, timestamp, counter, series, emitted, emit_errors,
            anomalies, evicted, total_delta, read_error
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var readErr sql.NullString
	if summary.ReadError != "" {
		readErr = sql.NullString{String: summary.ReadError, Valid: true}
	}

	_, err := db.Db.Exec(query,
		db.runID,
		summary.Timestamp.UTC(),
		summary.Counter,
		summary.Series,
		summary.Emitted,
		summary.EmitErrors,
		summary.Anomalies,
		summary.Evicted,
		summary.TotalDelta,
		readErr)
	if err != nil {
		return fmt.Errorf("failed to insert tick: %v", err)
	}
	return nil
}

// RecentAnomalies returns the newest anomalies across all runs, newest first
func (db *DB) RecentAnomalies(limit int) ([]AnomalyRecord, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	rows, err := db.Db.Query(`
        SELECT id, run_id, timestamp, counter, cpu, pid, name,
               previous_value, value, delta
        FROM anomalies
        ORDER BY id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query anomalies: %v", err)
	}
	defer rows.Close()

	records := []AnomalyRecord{}
	for rows.Next() {
		var (
			rec             AnomalyRecord
			previous, value int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Timestamp, &rec.Counter,
			&rec.CPU, &rec.PID, &rec.Name,
			&previous, &value, &rec.Delta,
		); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %v", err)
		}
		rec.Previous = uint64(previous)
		rec.Value = uint64(value)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecentTicks returns the newest tick summaries across all runs, newest first
func (db *DB) RecentTicks(limit int) ([]TickRecord, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	rows, err := db.Db.Query(`
        SELECT id, run_id, timestamp, counter, series, emitted, emit_errors,
               anomalies, evicted, total_delta, read_error
        FROM ticks
        ORDER BY id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ticks: %v", err)
	}
	defer rows.Close()

	records := []TickRecord{}
	for rows.Next() {
		var (
			rec     TickRecord
			readErr sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Timestamp, &rec.Counter,
			&rec.Series, &rec.Emitted, &rec.EmitErrors, &rec.Anomalies, &rec.Evicted,
			&rec.TotalDelta, &readErr,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tick: %v", err)
		}
		rec.ReadError = readErr.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (db *DB) Close() error {
	return db.Db.Close()
}
