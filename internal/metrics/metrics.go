// Package metrics holds the Prometheus instrumentation and the health/
// metrics HTTP server for the indicator stream service.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the indicator stream engine.
type Metrics struct {
	// Ingestion
	TradesTotal    prometheus.Counter
	QuotesTotal    prometheus.Counter
	BadEvents      prometheus.Counter
	LateEvents     prometheus.Counter
	FeedReconnects prometheus.Counter

	// Bar building
	BarsFinalized *prometheus.CounterVec // labels: tf
	IngestDur     prometheus.Histogram

	// Dispatch
	ValuesTotal        prometheus.Counter
	PreviewsTotal      prometheus.Counter
	StrictSuppressions prometheus.Counter
	SubscriptionFaults prometheus.Counter

	// Persistence
	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram
	SnapshotDur     prometheus.Histogram

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// New registers and returns all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_trades_total",
			Help: "Total trade events ingested",
		}),
		QuotesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_quotes_total",
			Help: "Total quote events ingested",
		}),
		BadEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_bad_events_total",
			Help: "Events rejected by validation",
		}),
		LateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_late_events_total",
			Help: "Events dropped for arriving behind the forming bar",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_feed_reconnects_total",
			Help: "WebSocket feed reconnection attempts",
		}),

		BarsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indstream_bars_finalized_total",
			Help: "Finalized bars (by timeframe)",
		}, []string{"tf"}),
		IngestDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indstream_ingest_duration_seconds",
			Help:    "Full OnTrade/OnQuote latency including dispatch",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),

		ValuesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_indicator_values_total",
			Help: "Final indicator values delivered to callbacks",
		}),
		PreviewsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_indicator_previews_total",
			Help: "Forming-bar preview values delivered to callbacks",
		}),
		StrictSuppressions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_strict_suppressions_total",
			Help: "Strict-alignment firings withheld for misaligned series",
		}),
		SubscriptionFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_subscription_faults_total",
			Help: "Panics recovered from subscription states or callbacks",
		}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indstream_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indstream_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indstream_snapshot_duration_seconds",
			Help:    "Engine state checkpoint latency",
			Buckets: prometheus.DefBuckets,
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indstream_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	prometheus.MustRegister(
		m.TradesTotal,
		m.QuotesTotal,
		m.BadEvents,
		m.LateEvents,
		m.FeedReconnects,
		m.BarsFinalized,
		m.IngestDur,
		m.ValuesTotal,
		m.PreviewsTotal,
		m.StrictSuppressions,
		m.SubscriptionFaults,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.SnapshotDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)

	return m
}

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool
	LastEventTime  time.Time
	RedisEnabled   bool
	RedisConnected bool
	SQLiteEnabled  bool
	SQLiteOK       bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastEventTime(t time.Time) {
	h.mu.Lock()
	h.LastEventTime = t
	h.mu.Unlock()
}

// SetStoresEnabled records which stores this process runs with. A store
// that is not enabled never counts against health.
func (h *HealthStatus) SetStoresEnabled(redis, sqlite bool) {
	h.mu.Lock()
	h.RedisEnabled = redis
	h.SQLiteEnabled = sqlite
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

// CheckSQLite runs a trivial query and records latency + health.
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

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
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
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.FeedConnected || redisDown || sqliteDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if redisDown && sqliteDown {
		overallStatus = "unhealthy"
	}

	eventAge := ""
	if !h.LastEventTime.IsZero() {
		eventAge = time.Since(h.LastEventTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		LastEventTime   string  `json:"last_event_time"`
		EventAge        string  `json:"event_age"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteEnabled   bool    `json:"sqlite_enabled"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastEventTime:   h.LastEventTime.Format(time.RFC3339),
		EventAge:        eventAge,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteEnabled:   h.SQLiteEnabled,
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
	health *HealthStatus
	log    *slog.Logger
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		log:    log,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("metrics server error", "err", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
