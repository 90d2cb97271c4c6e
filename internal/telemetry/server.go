package telemetry

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/modemtemp/internal/errors"
	"codeberg.org/mutker/modemtemp/internal/logger"
	"codeberg.org/mutker/modemtemp/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the exporter, the latest reading, the history and the
// live feed over HTTP
type Server struct {
	cfg      Config
	exporter *Exporter
	stats    StatsSource
	hub      *Hub
	history  HistorySource
	log      logger.Logger
}

type temperatureResponse struct {
	Available    bool      `json:"available"`
	MilliCelsius int64     `json:"milli_celsius"`
	Celsius      float64   `json:"celsius"`
	Alert        bool      `json:"alert"`
	Timestamp    time.Time `json:"timestamp"`
}

type healthResponse struct {
	Status          string  `json:"status"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Iterations      uint64  `json:"iterations"`
	SuccessfulReads uint64  `json:"successful_reads"`
	SerialErrors    uint64  `json:"serial_errors"`
	CommandErrors   uint64  `json:"at_command_errors"`
	ParseErrors     uint64  `json:"parse_errors"`
	Clients         int     `json:"websocket_clients"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer wires the handlers. history may be nil when the reading
// history is disabled.
func NewServer(cfg Config, exporter *Exporter, stats StatsSource, hub *Hub, history HistorySource) *Server {
	return &Server{
		cfg:      cfg,
		exporter: exporter,
		stats:    stats,
		hub:      hub,
		history:  history,
		log:      logger.New("telemetry"),
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.exporter.Registry(), promhttp.HandlerOpts{}))
	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/temperature", s.handleTemperature)
		r.Get("/history", s.handleHistory)
	})
	r.Method(http.MethodGet, "/ws", s.hub)

	return r
}

// Run serves until ctx is canceled
func (s *Server) Run(ctx context.Context) error {
	errFactory := errors.New()

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return errFactory.Wrap(ErrListenFailed, err).WithData(s.cfg.Listen)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.log.Info().Str("listen", ln.Addr().String()).Msg("Telemetry server started")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errFactory.Wrap(ErrListenFailed, err).WithData(s.cfg.Listen)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(ErrServiceShutdown, err)
	}

	s.log.Debug().Msg("Telemetry server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.stats.Snapshot()

	status := "ok"
	if !snap.LastAvailable {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:          status,
		UptimeSeconds:   snap.Uptime.Seconds(),
		Iterations:      snap.Iterations,
		SuccessfulReads: snap.SuccessfulReads,
		SerialErrors:    snap.SerialErrors,
		CommandErrors:   snap.CommandErrors,
		ParseErrors:     snap.ParseErrors,
		Clients:         s.hub.ClientCount(),
	})
}

func (s *Server) handleTemperature(w http.ResponseWriter, _ *http.Request) {
	snap := s.stats.Snapshot()
	if snap.LastPublished.IsZero() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no reading published yet"})
		return
	}

	resp := temperatureResponse{
		Available: snap.LastAvailable,
		Alert:     s.exporter.AlertActive(),
		Timestamp: snap.LastPublished.UTC(),
	}
	if snap.LastAvailable {
		resp.MilliCelsius = snap.LastMilliCelsius
		resp.Celsius = float64(snap.LastMilliCelsius) / 1000
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "reading history disabled"})
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	samples, err := s.history.Recent(r.Context(), limit)
	switch {
	case errors.HasCode(err, metrics.ErrDisabled):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "reading history disabled"})
		return
	case err != nil:
		s.log.Error().Err(err).Msg("Failed to read history")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "history unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug().Err(err).Msg("Failed to encode response")
	}
}
