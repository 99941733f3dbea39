package sampler

import (
	"sort"
	"time"

	"github.com/jnesss/pressurize/series"
)

// DefaultTopN is how many series per counter the published Status lists
const DefaultTopN = 20

// TickSummary describes what one pipeline did in one tick
type TickSummary struct {
	Counter    string    `json:"counter"`
	Timestamp  time.Time `json:"timestamp"`
	Series     int       `json:"series"`
	Emitted    int       `json:"emitted"`
	EmitErrors int       `json:"emitErrors"`
	Anomalies  int       `json:"anomalies"`
	Evicted    int       `json:"evicted"`
	TotalDelta int64     `json:"totalDelta"`
	ReadError  string    `json:"readError,omitempty"`
}

// SeriesDelta is one series' latest positive delta
type SeriesDelta struct {
	CPU   int32  `json:"cpu"`
	PID   int32  `json:"pid"`
	Name  string `json:"name"`
	Value uint64 `json:"value"`
	Delta int64  `json:"delta"`
}

// CounterStatus is the published view of one pipeline
type CounterStatus struct {
	Counter  string        `json:"counter"`
	Metric   string        `json:"metric"`
	LastTick TickSummary   `json:"lastTick"`
	Top      []SeriesDelta `json:"top"`
}

// Status is an immutable copy of the loop's state, published after every tick
type Status struct {
	StartedAt time.Time       `json:"startedAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Ticks     uint64          `json:"ticks"`
	Counters  []CounterStatus `json:"counters"`
}

// topDeltas returns the n largest non-anomalous deltas, largest first
func topDeltas(obs []series.Observation, n int) []SeriesDelta {
	top := make([]SeriesDelta, 0, len(obs))
	for _, o := range obs {
		if o.Anomaly {
			continue
		}
		top = append(top, SeriesDelta{
			CPU:   o.Key.CPU,
			PID:   o.Key.PID,
			Name:  o.Key.Name,
			Value: o.Value,
			Delta: o.Delta,
		})
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Delta > top[j].Delta })
	if len(top) > n {
		top = top[:n]
	}
	return top
}
