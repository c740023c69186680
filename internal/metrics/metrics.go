// Package metrics exposes Prometheus instruments and a health endpoint for
// the chart host.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the chart engine and its host.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Engine
	DataLoadsTotal  *prometheus.CounterVec // labels: kind
	BarsInWindow    prometheus.Gauge
	PaginationTotal *prometheus.CounterVec // labels: direction
	RangeChanges    prometheus.Counter
	AdjustRangeDur  prometheus.Histogram
	RejectedUpserts prometheus.Counter

	// Indicators
	IndicatorComputeDur *prometheus.HistogramVec // labels: indicator
	IndicatorOutcomes   *prometheus.CounterVec   // labels: indicator, outcome

	// Live feed
	LiveBarsTotal   prometheus.Counter
	RingBufOverflow prometheus.Counter

	// Storage
	SQLiteQueryDur prometheus.Histogram
	StoreErrors    *prometheus.CounterVec // labels: store

	// Gateway
	GatewayClients  prometheus.Gauge
	GatewayDropped  prometheus.Counter
	GatewayCommands *prometheus.CounterVec // labels: type
}

// New creates the metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		DataLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_data_loads_total",
			Help: "Bar batches merged into the data window (by load kind)",
		}, []string{"kind"}),
		BarsInWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chart_bars_in_window",
			Help: "Number of bars currently held by the data window",
		}),
		PaginationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_pagination_requests_total",
			Help: "Page requests issued to the load callback (by direction)",
		}, []string{"direction"}),
		RangeChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_visible_range_changes_total",
			Help: "Times the clamped visible range changed",
		}),
		AdjustRangeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chart_adjust_visible_range_duration_seconds",
			Help:    "Latency of visible range re-derivation",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		RejectedUpserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_rejected_upserts_total",
			Help: "Single-bar upserts ignored because the timestamp was older than the last bar",
		}),

		IndicatorComputeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chart_indicator_compute_duration_seconds",
			Help:    "Indicator computation latency over the full window",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"indicator"}),
		IndicatorOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_indicator_outcomes_total",
			Help: "Indicator computation outcomes (ready, error, stale)",
		}, []string{"indicator", "outcome"}),

		LiveBarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_live_bars_total",
			Help: "Bars received from the live feed",
		}),
		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_ringbuf_overflow_total",
			Help: "Live bars dropped because the ring buffer was full",
		}),

		SQLiteQueryDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chart_sqlite_query_duration_seconds",
			Help:    "SQLite page query latency",
			Buckets: prometheus.DefBuckets,
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_store_errors_total",
			Help: "Page source and feed errors (by store)",
		}, []string{"store"}),

		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chart_gateway_clients",
			Help: "Connected WebSocket clients",
		}),
		GatewayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_gateway_dropped_total",
			Help: "Messages dropped for slow WebSocket clients",
		}),
		GatewayCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_gateway_commands_total",
			Help: "Commands received from WebSocket clients (by type)",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.DataLoadsTotal,
		m.BarsInWindow,
		m.PaginationTotal,
		m.RangeChanges,
		m.AdjustRangeDur,
		m.RejectedUpserts,
		m.IndicatorComputeDur,
		m.IndicatorOutcomes,
		m.LiveBarsTotal,
		m.RingBufOverflow,
		m.SQLiteQueryDur,
		m.StoreErrors,
		m.GatewayClients,
		m.GatewayDropped,
		m.GatewayCommands,
	)
	return m
}

// ObserveIndicator records one computation outcome.
func (m *Metrics) ObserveIndicator(name, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.IndicatorOutcomes.WithLabelValues(name, outcome).Inc()
	if outcome != "stale" {
		m.IndicatorComputeDur.WithLabelValues(name).Observe(d.Seconds())
	}
}

// ObserveLoad records a merged batch and the resulting window size.
func (m *Metrics) ObserveLoad(kind string, windowLen int) {
	if m == nil {
		return
	}
	m.DataLoadsTotal.WithLabelValues(kind).Inc()
	m.BarsInWindow.Set(float64(windowLen))
}

// ObservePagination records a page request.
func (m *Metrics) ObservePagination(direction string) {
	if m == nil {
		return
	}
	m.PaginationTotal.WithLabelValues(direction).Inc()
}

// ObserveAdjust records one visible range re-derivation.
func (m *Metrics) ObserveAdjust(d time.Duration, changed bool) {
	if m == nil {
		return
	}
	m.AdjustRangeDur.Observe(d.Seconds())
	if changed {
		m.RangeChanges.Inc()
	}
}

// ObserveRejectedUpsert counts an ignored single-bar upsert.
func (m *Metrics) ObserveRejectedUpsert() {
	if m == nil {
		return
	}
	m.RejectedUpserts.Inc()
}

// ObserveStoreError counts a storage or feed failure.
func (m *Metrics) ObserveStoreError(store string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(store).Inc()
}

// ObserveSQLiteQuery records one page query.
func (m *Metrics) ObserveSQLiteQuery(d time.Duration) {
	if m == nil {
		return
	}
	m.SQLiteQueryDur.Observe(d.Seconds())
}

// ObserveLiveBar counts a bar received from the live feed; dropped marks a
// bar lost to a full ring buffer.
func (m *Metrics) ObserveLiveBar(dropped bool) {
	if m == nil {
		return
	}
	if dropped {
		m.RingBufOverflow.Inc()
		return
	}
	m.LiveBarsTotal.Inc()
}

// SetGatewayClients sets the number of connected WebSocket clients.
func (m *Metrics) SetGatewayClients(n int) {
	if m == nil {
		return
	}
	m.GatewayClients.Set(float64(n))
}

// ObserveGatewayDrop counts a message dropped for a slow client.
func (m *Metrics) ObserveGatewayDrop() {
	if m == nil {
		return
	}
	m.GatewayDropped.Inc()
}

// ObserveGatewayCommand counts a command received from a client.
func (m *Metrics) ObserveGatewayCommand(typ string) {
	if m == nil {
		return
	}
	m.GatewayCommands.WithLabelValues(typ).Inc()
}

// HealthStatus represents the host health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastBarTime    time.Time `json:"last_bar_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Symbol         string    `json:"symbol"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(symbol string) *HealthStatus {
	return &HealthStatus{
		Symbol:    symbol,
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// RunLivenessChecker probes the dependencies every interval until ctx is done.
// Either client may be nil.
func (h *HealthStatus) RunLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if rdb != nil {
				h.CheckRedis(probeCtx, rdb)
			}
			if sqlDB != nil {
				h.CheckSQLite(probeCtx, sqlDB)
			}
			cancel()
		}
	}
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Symbol          string  `json:"symbol"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		LastBarTime     string  `json:"last_bar_time"`
		BarAge          string  `json:"bar_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Symbol:          h.Symbol,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastBarTime:     h.LastBarTime.Format(time.RFC3339),
		BarAge:          barAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	log *slog.Logger
	srv *http.Server
}

// NewServer creates a metrics and health server. gatherer nil means the
// default Prometheus registry.
func NewServer(log *slog.Logger, addr string, gatherer prometheus.Gatherer, health *HealthStatus) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		log: log,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("metrics server listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
