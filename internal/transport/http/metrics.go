package httptransport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drawing_http_requests_total",
			Help: "HTTP requests handled, by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drawing_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DrawingsEnqueued counts jobs accepted by the upload endpoint.
	DrawingsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drawing_jobs_enqueued_total",
			Help: "Conversion jobs accepted for processing",
		},
	)
)

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		path := normalizePath(r.URL.Path)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses drawing ids to {id} so metric cardinality stays
// bounded.
func normalizePath(path string) string {
	const prefix = "/drawings/"
	if len(path) >= len(prefix)+36 && path[:len(prefix)] == prefix && isUUID(path[len(prefix):len(prefix)+36]) {
		suffix := path[len(prefix)+36:]
		if suffix == "/file" {
			return "/drawings/{id}/file"
		}
		if suffix == "" {
			return "/drawings/{id}"
		}
	}
	return path
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, c := range s {
		if i == 8 || i == 13 || i == 18 || i == 23 {
			if c != '-' {
				return false
			}
			continue
		}
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
