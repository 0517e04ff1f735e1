package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Resilience metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	BreakerRejections *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
	RetryAttempts     *prometheus.CounterVec
	RecoveriesTotal   *prometheus.CounterVec

	// Pool metrics
	PoolAcquiresTotal   *prometheus.CounterVec
	AcquireWaitDuration *prometheus.HistogramVec
	PoolReleasesTotal   *prometheus.CounterVec
	PoolEvictionsTotal  *prometheus.CounterVec
	PoolConnections     *prometheus.GaugeVec
	PoolWaiters         prometheus.Gauge

	// Resource metrics
	CPUUsage    *prometheus.GaugeVec
	MemoryUsage *prometheus.GaugeVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "browserpool",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),

		// Resilience metrics
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "operations_total",
				Help:      "Total number of resilience-wrapped operations",
			},
			[]string{"breaker", "outcome"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "operation_duration_seconds",
				Help:      "Resilience-wrapped operation duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"breaker", "outcome"},
		),
		BreakerRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_rejections_total",
				Help:      "Total number of operations rejected by an open circuit breaker",
			},
			[]string{"breaker"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"breaker"},
		),
		RetryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts after a first failure",
			},
			[]string{"breaker"},
		),
		RecoveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "recoveries_total",
				Help:      "Total number of recovery attempts",
			},
			[]string{"operation_type", "status"},
		),

		// Pool metrics
		PoolAcquiresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "pool_acquires_total",
				Help:      "Total number of connection acquisitions",
			},
			[]string{"outcome"},
		),
		AcquireWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "pool_acquire_wait_seconds",
				Help:      "Time spent waiting for a pooled connection",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"outcome"},
		),
		PoolReleasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "pool_releases_total",
				Help:      "Total number of connection releases",
			},
			[]string{"outcome"},
		),
		PoolEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "pool_evictions_total",
				Help:      "Total number of connections evicted from the pool",
			},
			[]string{"reason"},
		),
		PoolConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "pool_connections",
				Help:      "Number of pooled connections",
			},
			[]string{"state"},
		),
		PoolWaiters: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "pool_waiters",
				Help:      "Number of callers waiting for a connection",
			},
		),

		// Resource metrics
		CPUUsage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cpu_usage_percent",
				Help:      "CPU usage percentage",
			},
			[]string{"scope"},
		),
		MemoryUsage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "memory_usage_bytes",
				Help:      "Memory usage in bytes",
			},
			[]string{"scope"},
		),
	}

	// Register all metrics
	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.OperationsTotal,
		m.OperationDuration,
		m.BreakerRejections,
		m.BreakerState,
		m.RetryAttempts,
		m.RecoveriesTotal,
		m.PoolAcquiresTotal,
		m.AcquireWaitDuration,
		m.PoolReleasesTotal,
		m.PoolEvictionsTotal,
		m.PoolConnections,
		m.PoolWaiters,
		m.CPUUsage,
		m.MemoryUsage,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordOperation records a resilience-wrapped operation outcome
func (m *Metrics) RecordOperation(breaker, outcome string, duration time.Duration) {
	if m.OperationsTotal == nil {
		return
	}

	m.OperationsTotal.WithLabelValues(breaker, outcome).Inc()
	m.OperationDuration.WithLabelValues(breaker, outcome).Observe(duration.Seconds())
}

// RecordBreakerRejection records an operation refused by an open breaker
func (m *Metrics) RecordBreakerRejection(breaker string) {
	if m.BreakerRejections == nil {
		return
	}

	m.BreakerRejections.WithLabelValues(breaker).Inc()
}

// RecordRetryAttempt records one retry after a first failure
func (m *Metrics) RecordRetryAttempt(breaker string) {
	if m.RetryAttempts == nil {
		return
	}

	m.RetryAttempts.WithLabelValues(breaker).Inc()
}

// UpdateBreakerState updates the breaker state gauge
func (m *Metrics) UpdateBreakerState(breaker string, state int) {
	if m.BreakerState == nil {
		return
	}

	m.BreakerState.WithLabelValues(breaker).Set(float64(state))
}

// RecordRecovery records a recovery attempt outcome
func (m *Metrics) RecordRecovery(operationType string, success bool) {
	if m.RecoveriesTotal == nil {
		return
	}

	status := "failure"
	if success {
		status = "success"
	}
	m.RecoveriesTotal.WithLabelValues(operationType, status).Inc()
}

// RecordAcquire records a connection acquisition
func (m *Metrics) RecordAcquire(wait time.Duration, outcome string) {
	if m.PoolAcquiresTotal == nil {
		return
	}

	m.PoolAcquiresTotal.WithLabelValues(outcome).Inc()
	m.AcquireWaitDuration.WithLabelValues(outcome).Observe(wait.Seconds())
}

// RecordRelease records a connection release
func (m *Metrics) RecordRelease(outcome string) {
	if m.PoolReleasesTotal == nil {
		return
	}

	m.PoolReleasesTotal.WithLabelValues(outcome).Inc()
}

// RecordEviction records a connection eviction
func (m *Metrics) RecordEviction(reason string) {
	if m.PoolEvictionsTotal == nil {
		return
	}

	m.PoolEvictionsTotal.WithLabelValues(reason).Inc()
}

// UpdatePoolOccupancy updates the pool occupancy gauges
func (m *Metrics) UpdatePoolOccupancy(active, idle, pending, waiters int) {
	if m.PoolConnections == nil {
		return
	}

	m.PoolConnections.WithLabelValues("active").Set(float64(active))
	m.PoolConnections.WithLabelValues("idle").Set(float64(idle))
	m.PoolConnections.WithLabelValues("pending").Set(float64(pending))
	m.PoolWaiters.Set(float64(waiters))
}

// UpdateResourceUsage updates the process and host resource gauges
func (m *Metrics) UpdateResourceUsage(processCPU, hostCPU float64, processRSS uint64, hostMemUsed float64) {
	if m.CPUUsage == nil {
		return
	}

	m.CPUUsage.WithLabelValues("process").Set(processCPU)
	m.CPUUsage.WithLabelValues("host").Set(hostCPU)
	m.MemoryUsage.WithLabelValues("process").Set(float64(processRSS))
	m.MemoryUsage.WithLabelValues("host").Set(hostMemUsed)
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// MetricsCollector samples pool occupancy, breaker states and resource
// usage on an interval and mirrors them into the gauges.
type MetricsCollector struct {
	metrics  *Metrics
	sample   func() Sample
	interval time.Duration
	stopCh   chan struct{}
}

// Sample is one periodic observation fed to the gauges.
type Sample struct {
	ActiveConnections int
	IdleConnections   int
	PendingCreates    int
	Waiters           int
	BreakerStates     map[string]int
	ProcessCPU        float64
	HostCPU           float64
	ProcessRSS        uint64
	HostMemUsed       float64
}

// NewMetricsCollector creates a collector driven by the given sampler.
func NewMetricsCollector(metrics *Metrics, sample func() Sample, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		metrics:  metrics,
		sample:   sample,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins metrics collection
func (mc *MetricsCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mc.stopCh:
			return
		case <-ticker.C:
			mc.collect()
		}
	}
}

// Stop stops metrics collection
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
}

func (mc *MetricsCollector) collect() {
	s := mc.sample()
	mc.metrics.UpdatePoolOccupancy(s.ActiveConnections, s.IdleConnections, s.PendingCreates, s.Waiters)
	mc.metrics.UpdateResourceUsage(s.ProcessCPU, s.HostCPU, s.ProcessRSS, s.HostMemUsed)
	for breaker, state := range s.BreakerStates {
		mc.metrics.UpdateBreakerState(breaker, state)
	}
}
