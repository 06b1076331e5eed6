package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kmelchor/floodgate/internal/gateway"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     prometheus.Counter
	Delayed         prometheus.Counter
	DelaySeconds    prometheus.Histogram
	LimiterErrors   prometheus.Counter
	Overloaded      prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "floodgate_requests_total",
				Help: "Total HTTP requests processed by the gateway",
			},
			[]string{"method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "floodgate_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floodgate_rate_limited_total",
			Help: "Total requests rejected by the admission controller",
		}),
		Delayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floodgate_delayed_total",
			Help: "Total requests held back until a token accrued",
		}),
		DelaySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "floodgate_delay_seconds",
			Help:    "How long delayed requests were held",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5},
		}),
		LimiterErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floodgate_limiter_errors_total",
			Help: "Total admission controller errors",
		}),
		Overloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floodgate_overloaded_total",
			Help: "Total requests shed by the concurrency cap",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration,
		m.RateLimited, m.Delayed, m.DelaySeconds,
		m.LimiterErrors, m.Overloaded,
	)
	return m
}

// TrackedClients exposes the size of the in-memory bucket map.
func TrackedClients(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "floodgate_tracked_clients",
			Help: "Client keys currently tracked by the admission controller",
		},
		func() float64 { return float64(count()) },
	))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Middleware records per-request metrics.
func (m *Metrics) Middleware(skip map[string]struct{}) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}

			m.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(code)).Inc()
		})
	}
}
