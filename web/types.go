package web

import (
	"time"

	"github.com/jnesss/pressurize/sampler"
)

// StatusResponse is the body of /api/status
type StatusResponse struct {
	StartedAt time.Time    `json:"startedAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Ticks     uint64       `json:"ticks"`
	Counters  []CounterRow `json:"counters"`
}

type CounterRow struct {
	Counter  string              `json:"counter"`
	Metric   string              `json:"metric"`
	LastTick sampler.TickSummary `json:"lastTick"`
	Top      []SeriesRow         `json:"top"`
}

// SeriesRow is a top series plus whether its process is still running
type SeriesRow struct {
	sampler.SeriesDelta
	Alive bool `json:"alive"`
}

type errorBody struct {
	Error string `json:"error"`
}
