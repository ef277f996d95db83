package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the chart service.
type Metrics struct {
	// Fetch pipeline
	FetchesTotal     *prometheus.CounterVec // labels: provider
	FetchFailures    *prometheus.CounterVec // labels: provider
	FetchRetries     *prometheus.CounterVec // labels: provider
	FetchDur         prometheus.Histogram
	CandlesFetched   prometheus.Counter
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// Indicator + profile computation
	ComputeDur     *prometheus.HistogramVec // labels: indicator
	ProfileDur     prometheus.Histogram
	ComputedTotal  *prometheus.CounterVec // labels: indicator
	SQLiteWriteDur prometheus.Histogram

	// Gateway
	ActivePanes     prometheus.Gauge
	WSClients       prometheus.Gauge
	WSMessagesTotal prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartdesk_fetches_total",
			Help: "Total candle fetch attempts (by provider)",
		}, []string{"provider"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartdesk_fetch_failures_total",
			Help: "Candle fetches that failed after retries (by provider)",
		}, []string{"provider"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartdesk_fetch_retries_total",
			Help: "Fetch retries after rate-limit or network errors (by provider)",
		}, []string{"provider"}),
		FetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartdesk_fetch_duration_seconds",
			Help:    "End-to-end candle fetch latency including fallback",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),
		CandlesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartdesk_candles_fetched_total",
			Help: "Total candles returned by providers",
		}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartdesk_cache_hits_total",
			Help: "Candle and symbol cache hits",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartdesk_cache_misses_total",
			Help: "Candle and symbol cache misses",
		}),

		ComputeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chartdesk_compute_duration_seconds",
			Help:    "Indicator computation latency (by indicator)",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}, []string{"indicator"}),
		ProfileDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartdesk_profile_duration_seconds",
			Help:    "Visible-range volume profile computation latency",
			Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		ComputedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartdesk_indicators_computed_total",
			Help: "Total indicator series computed (by indicator)",
		}, []string{"indicator"}),
		SQLiteWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartdesk_sqlite_write_duration_seconds",
			Help:    "SQLite candle batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		ActivePanes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartdesk_active_panes",
			Help: "Chart panes currently registered",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartdesk_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSMessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartdesk_ws_messages_total",
			Help: "Messages pushed to WebSocket clients",
		}),
	}

	prometheus.MustRegister(
		m.FetchesTotal,
		m.FetchFailures,
		m.FetchRetries,
		m.FetchDur,
		m.CandlesFetched,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ComputeDur,
		m.ProfileDur,
		m.ComputedTotal,
		m.SQLiteWriteDur,
		m.ActivePanes,
		m.WSClients,
		m.WSMessagesTotal,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool `json:"redis_connected"`
	SQLiteOK       bool `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastFetchAt     time.Time `json:"last_fetch_at"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	// Redis is optional; when the memory cache is configured the probe is
	// skipped and the field reports healthy.
	redisEnabled bool
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(redisEnabled bool) *HealthStatus {
	return &HealthStatus{
		StartedAt:      time.Now(),
		redisEnabled:   redisEnabled,
		RedisConnected: !redisEnabled,
	}
}

func (h *HealthStatus) SetLastFetch(t time.Time) {
	h.mu.Lock()
	h.LastFetchAt = t
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

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if (h.redisEnabled && !h.RedisConnected) || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	lastFetch := ""
	if !h.LastFetchAt.IsZero() {
		lastFetch = h.LastFetchAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastFetchAt     string  `json:"last_fetch_at"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastFetchAt:     lastFetch,
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
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
