package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics records request counts and latency per route template.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewHTTPMetrics(cfg Config) *HTTPMetrics {
	return newHTTPMetrics(prometheus.DefaultRegisterer, cfg)
}

func newHTTPMetrics(registerer prometheus.Registerer, cfg Config) *HTTPMetrics {
	constLabels := prometheus.Labels{"service": cfg.ServiceName}
	if cfg.ServiceName == "" {
		constLabels["service"] = "pressledger"
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "pressledger_http_requests_total",
		Help:        "HTTP requests by method, route and status code.",
		ConstLabels: constLabels,
	}, []string{"method", "route", "status_code"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "pressledger_http_request_duration_seconds",
		Help:        "HTTP request latency.",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: constLabels,
	}, []string{"method", "route"})

	registerer.MustRegister(requests, latency)
	return &HTTPMetrics{requests: requests, latency: latency}
}

// GinMiddleware observes every request. Unmatched routes share one label.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.latency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
