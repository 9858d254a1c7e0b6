// Package metrics provides Prometheus instrumentation for the Kino backend.
//
// Mount Handler() at GET /metrics. The Go runtime and process collectors
// come for free from prometheus/client_golang; the metrics registered here
// cover the two streaming cores and the HTTP surface:
//
//	kino_http_requests_total            counter: requests by method/path/status
//	kino_http_request_duration_seconds  histogram: latency by method/path
//	kino_ingest_sessions_total          counter: upload sessions by outcome
//	kino_stream_chunks_total            counter: video chunks served
//	kino_stream_bytes_total             counter: video bytes served
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPRequests counts HTTP requests by method, path prefix, and status.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kino_http_requests_total",
	Help: "Total HTTP requests handled.",
}, []string{"method", "path", "status"})

// HTTPDuration tracks HTTP request latency.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "kino_http_request_duration_seconds",
	Help:    "HTTP request latency in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "path"})

// IngestSessions counts multipart upload sessions by terminal outcome
// ("completed" or "aborted").
var IngestSessions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kino_ingest_sessions_total",
	Help: "Multipart ingestion sessions by outcome.",
}, []string{"outcome"})

// StreamChunks counts partial-content video chunks served.
var StreamChunks = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kino_stream_chunks_total",
	Help: "Video chunks served with 206 Partial Content.",
})

// StreamBytes counts video bytes written to clients.
var StreamBytes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kino_stream_bytes_total",
	Help: "Video bytes streamed to clients.",
})

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency for every request that
// passes through it. Paths are reduced to their first segment to keep
// label cardinality bounded (slugs and blob handles never become labels).
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := pathPrefix(r.URL.Path)
		HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		HTTPDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// statusWriter captures the status code written by the wrapped handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// pathPrefix extracts the first path segment.
// "/films/dune-part-two/3" → "/films".
func pathPrefix(path string) string {
	parts := strings.SplitN(strings.Trim(path, "/"), "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "/"
	}
	return "/" + parts[0]
}
