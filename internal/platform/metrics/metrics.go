package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mag_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mag_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mag_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Translations counts successful search translations by query variant.
	Translations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mag_query_translations_total",
			Help: "Search parameter sets translated into registry queries.",
		},
		[]string{"query"},
	)

	// TranslationErrors counts rejected translations by error kind.
	TranslationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mag_query_translation_errors_total",
			Help: "Search parameter sets rejected during translation.",
		},
		[]string{"kind"},
	)

	// TokenExchanges counts token endpoint outcomes.
	TokenExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mag_token_exchanges_total",
			Help: "Authorization code exchanges by outcome.",
		},
		[]string{"outcome"},
	)

	// CodesIssued counts authorization codes minted after IdP callbacks.
	CodesIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mag_authorization_codes_issued_total",
		Help: "Authorization codes issued for completed IdP authentications.",
	})
)

var initOnce sync.Once

// Init registers all collectors with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			Translations, TranslationErrors, TokenExchanges, CodesIssued,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count, latency and in-flight requests. The
// route template is used as the path label to keep cardinality bounded.
func Instrument() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			httpInFlight.Inc()
			defer httpInFlight.Dec()
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			labels := []string{c.Request().Method, path, strconv.Itoa(status)}
			httpRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			httpRequestsTotal.WithLabelValues(labels...).Inc()
			return err
		}
	}
}
