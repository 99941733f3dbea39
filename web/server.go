package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jnesss/pressurize/database"
	"github.com/jnesss/pressurize/sampler"
)

// StatusFunc returns the latest published loop status, nil before the first tick
type StatusFunc func() *sampler.Status

// pidExists is swapped in tests
var pidExists = process.PidExists

type Server struct {
	status     StatusFunc
	db         *database.DB
	listenAddr string
	logger     zerolog.Logger
}

// NewServer creates the status server. db may be nil when journaling is off.
func NewServer(status StatusFunc, db *database.DB, listenAddr string, logger zerolog.Logger) *Server {
	return &Server{
		status:     status,
		db:         db,
		listenAddr: listenAddr,
		logger:     logger.With().Str("component", "web").Logger(),
	}
}

// Handler returns the routed handler without starting a listener
func (s *Server) Handler() http.Handler {
	// logs request details before handing off
	debugHandler := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("HTTP request")
			h(w, r)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", debugHandler(s.handleStatus))
	mux.HandleFunc("/api/anomalies", debugHandler(s.handleAnomalies))
	mux.HandleFunc("/api/ticks", debugHandler(s.handleTicks))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info().Str("addr", s.listenAddr).Msg("Starting status server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}()

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st := s.status()
	if st == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "no tick has completed yet"})
		return
	}
	writeJSON(w, http.StatusOK, s.statusRows(st))
}

func (s *Server) statusRows(st *sampler.Status) StatusResponse {
	resp := StatusResponse{
		StartedAt: st.StartedAt,
		UpdatedAt: st.UpdatedAt,
		Ticks:     st.Ticks,
		Counters:  make([]CounterRow, 0, len(st.Counters)),
	}

	// one lookup per pid, shared across counters
	alive := make(map[int32]bool)
	for _, c := range st.Counters {
		row := CounterRow{
			Counter:  c.Counter,
			Metric:   c.Metric,
			LastTick: c.LastTick,
			Top:      make([]SeriesRow, 0, len(c.Top)),
		}
		for _, sd := range c.Top {
			live, ok := alive[sd.PID]
			if !ok {
				exists, err := pidExists(sd.PID)
				if err != nil {
					s.logger.Debug().Err(err).Int32("pid", sd.PID).Msg("pid lookup failed")
				}
				live = exists
				alive[sd.PID] = live
			}
			row.Top = append(row.Top, SeriesRow{SeriesDelta: sd, Alive: live})
		}
		resp.Counters = append(resp.Counters, row)
	}
	return resp
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.journalQuery(w, r)
	if !ok {
		return
	}
	records, err := s.db.RecentAnomalies(limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to query anomalies")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.journalQuery(w, r)
	if !ok {
		return
	}
	records, err := s.db.RecentTicks(limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to query ticks")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// journalQuery validates a journal request and returns its row limit
func (s *Server) journalQuery(w http.ResponseWriter, r *http.Request) (int, bool) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return 0, false
	}
	if s.db == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "journal is disabled"})
		return 0, false
	}

	limit := database.DefaultQueryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return 0, false
		}
		limit = n
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
