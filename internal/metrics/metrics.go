package metrics

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Ledger operations processed, labeled by operation and result code",
	}, []string{"operation", "result"})

	ImportRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_import_rows_total",
		Help: "Bulk import rows by stage and outcome",
	}, []string{"stage", "outcome"})

	ImportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_import_commit_duration_seconds",
		Help:    "Wall time of the commit stage of bulk imports",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
	})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// ObserveOperation counts one ledger operation. result is "ok" or an error code.
func ObserveOperation(operation, result string) {
	LedgerOperations.WithLabelValues(operation, result).Inc()
}

func ObserveImportRow(stage, outcome string) {
	ImportRows.WithLabelValues(stage, outcome).Inc()
}

// Middleware records request count and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
			httpRequestDuration.WithLabelValues(r.Method, routePattern(r)).Observe(v)
		}))

		next.ServeHTTP(ww, r)

		timer.ObserveDuration()
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(status)).Inc()
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func Handler() http.Handler {
	return promhttp.Handler()
}
