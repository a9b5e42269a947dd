package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Poll metrics
	PollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coxstatus_poll_cycles_total",
			Help: "Total poll cycles by result (ok, soft_fail, error)",
		},
		[]string{"result"},
	)

	PollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coxstatus_poll_duration_seconds",
			Help:    "Poll cycle duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	LastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coxstatus_last_success_timestamp_seconds",
			Help: "Unix time of the last cycle that published records",
		},
	)

	// Portal metrics
	LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coxstatus_login_attempts_total",
			Help: "Total portal login attempts by result",
		},
		[]string{"result"},
	)

	PortalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coxstatus_portal_requests_total",
			Help: "Total portal HTTP responses by host and status code",
		},
		[]string{"host", "code"},
	)

	SessionResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coxstatus_session_resets_total",
			Help: "Sessions dropped after the portal reported an error",
		},
	)

	// Usage metrics
	DataUsedGB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coxstatus_data_used_gigabytes",
			Help: "Data used in the current billing cycle",
		},
	)

	DataRemainingGB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coxstatus_data_remaining_gigabytes",
			Help: "Data remaining in the current billing cycle",
		},
	)

	DataPlanGB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coxstatus_data_plan_gigabytes",
			Help: "Data allowance of the plan",
		},
	)

	DataUsedRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coxstatus_data_used_ratio",
			Help: "Fraction of the allowance used as reported by the portal",
		},
	)

	CycleDays = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coxstatus_cycle_days",
			Help: "Billing cycle days by state (current, remaining)",
		},
		[]string{"state"},
	)

	LastDayBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coxstatus_last_complete_day_bytes",
			Help: "Bytes used on the most recent complete day",
		},
	)

	LastUpdate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coxstatus_last_update_timestamp_seconds",
			Help: "Unix time of the portal's last usage update",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		PollCycles,
		PollDuration,
		LastSuccess,
		LoginAttempts,
		PortalRequests,
		SessionResets,
		DataUsedGB,
		DataRemainingGB,
		DataPlanGB,
		DataUsedRatio,
		CycleDays,
		LastDayBytes,
		LastUpdate,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: Handler(),
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler serves /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
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
