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

// Metrics holds all Prometheus metrics for the shape engine.
type Metrics struct {
	// Detection
	SamplesTotal    prometheus.Counter
	RejectedSamples prometheus.Counter
	IngestDur       prometheus.Histogram
	BreakoutsTotal  *prometheus.CounterVec // labels: direction
	KeyPointsTotal  *prometheus.CounterVec // labels: kind
	WindowLen       *prometheus.GaugeVec   // labels: tf; largest retained window
	DetectorsActive prometheus.Gauge

	// Snapshots
	SnapshotDur   prometheus.Histogram
	SnapshotsSent *prometheus.CounterVec // labels: store, result

	// PEL reclaim
	PELMessagesReclaimed prometheus.Counter

	// Candle archive
	ArchiveDropped prometheus.Counter

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
	RedisDroppedWrites       prometheus.Counter

	// Outbound
	WSClients   prometheus.Gauge
	AlertsTotal *prometheus.CounterVec // labels: result
}

// NewMetrics registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	fastBuckets := []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01}

	m := &Metrics{
		SamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shapeengine_samples_total",
			Help: "Finalized candles fed to detectors",
		}),
		RejectedSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shapeengine_rejected_samples_total",
			Help: "Candles a detector refused (non-finite sample or internal error)",
		}),
		IngestDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shapeengine_ingest_duration_seconds",
			Help:    "Detector ingest latency per candle",
			Buckets: fastBuckets,
		}),
		BreakoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shapeengine_breakouts_total",
			Help: "Breakouts emitted (by direction)",
		}, []string{"direction"}),
		KeyPointsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shapeengine_keypoints_total",
			Help: "Key points confirmed (by kind)",
		}, []string{"kind"}),
		WindowLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shapeengine_window_len",
			Help: "Largest retained detector window (by timeframe)",
		}, []string{"tf"}),
		DetectorsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shapeengine_detectors_active",
			Help: "Live detectors across all instruments and timeframes",
		}),

		SnapshotDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shapeengine_snapshot_duration_seconds",
			Help:    "Time to capture and persist a tracker snapshot",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shapeengine_snapshots_total",
			Help: "Snapshot writes (by store and result)",
		}, []string{"store", "result"}),

		PELMessagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shapeengine_pel_messages_reclaimed_total",
			Help: "Messages reclaimed from dead consumers via XCLAIM",
		}),

		ArchiveDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shapeengine_archive_dropped_total",
			Help: "Consumed candles not archived to SQLite because the writer was behind",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shapeengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shapeengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shapeengine_redis_buffered_events_total",
			Help: "Events buffered locally while Redis writes were failing",
		}),
		RedisDroppedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shapeengine_redis_dropped_events_total",
			Help: "Buffered events dropped because the buffer was full",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shapeengine_ws_clients",
			Help: "Connected websocket clients",
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shapeengine_alerts_total",
			Help: "Breakout alerts sent (by result)",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.SamplesTotal,
		m.RejectedSamples,
		m.IngestDur,
		m.BreakoutsTotal,
		m.KeyPointsTotal,
		m.WindowLen,
		m.DetectorsActive,
		m.SnapshotDur,
		m.SnapshotsSent,
		m.PELMessagesReclaimed,
		m.ArchiveDropped,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.RedisDroppedWrites,
		m.WSClients,
		m.AlertsTotal,
	)

	return m
}

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	LastCandleTime time.Time
	RedisConnected bool
	SQLiteOK       bool
	SQLiteRequired bool
	EngineOK       bool
	EnabledTFs     []int
	Detectors      int

	// Liveness probe results
	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

// SetSQLite records whether SQLite is configured and whether it works.
// An unconfigured store does not degrade health.
func (h *HealthStatus) SetSQLite(required, ok bool) {
	h.mu.Lock()
	h.SQLiteRequired = required
	h.SQLiteOK = ok
	h.mu.Unlock()
}

func (h *HealthStatus) SetEngineOK(v bool) {
	h.mu.Lock()
	h.EngineOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetEnabledTFs(tfs []int) {
	h.mu.Lock()
	h.EnabledTFs = tfs
	h.mu.Unlock()
}

func (h *HealthStatus) SetDetectors(n int) {
	h.mu.Lock()
	h.Detectors = n
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

	sqliteOK := h.SQLiteOK || !h.SQLiteRequired
	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.RedisConnected || !sqliteOK || !h.EngineOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !sqliteOK {
		overallStatus = "unhealthy"
	}

	candleAge := ""
	lastCandle := ""
	if !h.LastCandleTime.IsZero() {
		candleAge = time.Since(h.LastCandleTime).Round(time.Millisecond).String()
		lastCandle = h.LastCandleTime.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		LastCandleTime  string  `json:"last_candle_time"`
		CandleAge       string  `json:"candle_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		EngineOK        bool    `json:"engine_ok"`
		EnabledTFs      []int   `json:"enabled_tfs"`
		Detectors       int     `json:"detectors"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LastCandleTime:  lastCandle,
		CandleAge:       candleAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		EngineOK:        h.EngineOK,
		EnabledTFs:      h.EnabledTFs,
		Detectors:       h.Detectors,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server. Extra handlers can be mounted on Mux before Start.
type Server struct {
	Mux  *http.ServeMux
	addr string
	srv  *http.Server
}

// NewServer creates a server exposing /metrics from gatherer and /healthz.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		Mux:  mux,
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
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

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
