package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics Prometheus 指标收集器
type Metrics struct {
	logger   *logrus.Logger
	registry *prometheus.Registry

	// HTTP 请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 扫描指标
	packagesTotal        *prometheus.CounterVec
	extractionsTotal     *prometheus.CounterVec
	toolInvocationsTotal prometheus.Counter
	packageDuration      prometheus.Histogram
	librariesDetected    prometheus.Counter

	// Worker Pool 指标
	workerPoolSize   prometheus.Gauge
	workerPoolActive prometheus.Gauge
}

// NewMetrics 创建指标收集器，每个实例使用独立的 Registry
func NewMetrics(logger *logrus.Logger, namespace string) *Metrics {
	if namespace == "" {
		namespace = "libdetector"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		logger:   logger,
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"method", "path"},
		),

		packagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packages_total",
				Help:      "Total number of packages processed",
			},
			[]string{"status"}, // completed, failed
		),
		extractionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extractions_total",
				Help:      "Total number of extractions by outcome",
			},
			[]string{"status"}, // converted, already_present, failed
		),
		toolInvocationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_invocations_total",
				Help:      "Total number of dex2jar subprocess invocations",
			},
		),
		packageDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "package_duration_seconds",
				Help:      "Per-package extraction and detection duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		librariesDetected: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "libraries_detected_total",
				Help:      "Total number of library matches across packages",
			},
		),

		workerPoolSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_size",
				Help:      "Total number of workers in the pool",
			},
		),
		workerPoolActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_active",
				Help:      "Number of workers currently running a task",
			},
		),
	}

	logger.Debug("Prometheus metrics initialized")
	return m
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPMiddleware HTTP 请求监控中间件
func (m *Metrics) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// Handler 返回 Prometheus HTTP Handler
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// HTTPHandler 返回标准库 Handler
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetWorkerPoolSize 记录 Worker 数量
func (m *Metrics) SetWorkerPoolSize(size int) {
	m.workerPoolSize.Set(float64(size))
}

// TaskStarted 记录任务开始
func (m *Metrics) TaskStarted() {
	m.workerPoolActive.Inc()
}

// TaskFinished 记录任务结束
//
// extraction 为空表示任务在解包前就失败了。
func (m *Metrics) TaskFinished(failed bool, extraction string, invocations, libraries int, duration time.Duration) {
	m.workerPoolActive.Dec()

	status := "completed"
	if failed {
		status = "failed"
	}
	m.packagesTotal.WithLabelValues(status).Inc()
	if extraction != "" {
		m.extractionsTotal.WithLabelValues(extraction).Inc()
	}
	m.toolInvocationsTotal.Add(float64(invocations))
	m.librariesDetected.Add(float64(libraries))
	m.packageDuration.Observe(duration.Seconds())
}

// WriteTextfile 以 node_exporter textfile 格式写出当前指标
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return err
	}
	m.logger.WithField("path", path).Info("Metrics written to textfile")
	return nil
}
