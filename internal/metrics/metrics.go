package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "briefly_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "briefly_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "briefly_extractions_total",
		Help: "Total number of extraction runs by outcome.",
	}, []string{"outcome"})

	extractedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "briefly_extracted_events_total",
		Help: "Total number of validated events produced by extraction.",
	})

	syncOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "briefly_sync_event_outcomes_total",
		Help: "Per-event calendar sync outcomes.",
	}, []string{"outcome"})
)

// Middleware records request counts and latencies per chi route pattern.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := routePattern(r)
			status := strconv.Itoa(ww.Status())
			httpRequestsTotal.WithLabelValues(r.Method, route).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveExtraction records one extraction run and how many validated
// events it produced.
func ObserveExtraction(outcome string, events int) {
	extractionsTotal.WithLabelValues(outcome).Inc()
	extractedEventsTotal.Add(float64(events))
}

// ObserveSync records per-event sync outcomes from one pass.
func ObserveSync(created, failed int) {
	syncOutcomesTotal.WithLabelValues("created").Add(float64(created))
	syncOutcomesTotal.WithLabelValues("failed").Add(float64(failed))
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
