package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Cache refresh metrics
	RefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_refreshes_total",
			Help: "Total cache refreshes by component and result",
		},
		[]string{"component", "operation", "result"},
	)

	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coachsync_fetch_duration_seconds",
			Help:    "Record store fetch duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	RefreshesCoalesced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coachsync_refreshes_coalesced_total",
			Help: "Refresh requests folded into an in-flight or queued refresh",
		},
	)

	// Session metrics
	ActiveWorkout = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coachsync_active_workout",
			Help: "1 if the signed-in user has an active workout cached, 0 otherwise",
		},
	)

	// Notification metrics
	UnreadMessages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coachsync_unread_messages",
			Help: "Unread message total across cached conversations",
		},
	)

	Conversations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coachsync_conversations",
			Help: "Number of cached conversation previews",
		},
	)

	// Realtime metrics
	RealtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_realtime_events_total",
			Help: "Realtime events dispatched by kind",
		},
		[]string{"kind"},
	)

	RealtimeSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coachsync_realtime_subscribers",
			Help: "Number of registered realtime handlers",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_api_requests_total",
			Help: "Total API requests by route and status code",
		},
		[]string{"route", "method", "code"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		RefreshesTotal,
		FetchDuration,
		RefreshesCoalesced,
		ActiveWorkout,
		UnreadMessages,
		Conversations,
		RealtimeEventsTotal,
		RealtimeSubscribers,
		APIRequestsTotal,
	)
}

// Result labels a refresh outcome.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
