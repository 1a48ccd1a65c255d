// Package metrics exposes Prometheus series for the VM lifecycle and the
// control-plane HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// VM lifecycle metrics
var (
	VMsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandboxd_vms_active",
			Help: "Number of non-DELETED VMs by state",
		},
		[]string{"state"},
	)

	VMCreateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandboxd_vm_create_duration_seconds",
			Help:    "Time to create and start a VM",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		},
		[]string{"provision_mode"},
	)

	VMDestroyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandboxd_vm_destroy_duration_seconds",
			Help:    "Time to destroy a VM",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{},
	)

	ExecDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandboxd_exec_duration_seconds",
			Help:    "Time to execute a command over the vsock agent channel",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0, 60.0},
		},
		[]string{"endpoint"},
	)

	VsockRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxd_vsock_retries_total",
			Help: "Total vsock agent client exchange retries",
		},
		[]string{"endpoint"},
	)

	VMCreatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxd_vm_creates_total",
			Help: "Total VM create attempts by outcome",
		},
		[]string{"provision_mode", "status"},
	)

	SnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxd_snapshots_total",
			Help: "Total snapshot operations by kind and outcome",
		},
		[]string{"kind", "status"},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxd_http_requests_total",
			Help: "Total HTTP requests served by the control-plane API",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandboxd_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		VMsActive,
		VMCreateDuration,
		VMDestroyDuration,
		ExecDuration,
		VsockRetriesTotal,
		VMCreatesTotal,
		SnapshotsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EchoMiddleware instruments every request with HTTPRequestsTotal and
// HTTPRequestDuration.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			path := c.Path()
			HTTPRequestsTotal.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			HTTPRequestDuration.WithLabelValues(c.Request().Method, path).Observe(duration.Seconds())
			return err
		}
	}
}
