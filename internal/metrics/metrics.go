package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	VerificationCodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_codes_requested_total",
			Help: "Verification code requests by channel and result.",
		},
		[]string{"channel", "result"},
	)

	VerificationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_attempts_total",
			Help: "Verification code checks by result.",
		},
		[]string{"result"},
	)

	SessionsIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_issued_total",
			Help: "Sessions issued by role.",
		},
		[]string{"role"},
	)

	OrderFinalizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_finalizations_total",
			Help: "Finalization events processed by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	OrderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_status_transitions_total",
			Help: "Order status transitions applied.",
		},
		[]string{"to"},
	)

	VoucherRedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voucher_redemptions_total",
			Help: "Voucher redemption attempts by result.",
		},
		[]string{"result"},
	)

	EmailSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_sends_total",
			Help: "Lifecycle email sends by type and result.",
		},
		[]string{"type", "result"},
	)

	EmailSendAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "email_send_attempts",
			Help:    "Attempts needed per lifecycle email.",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
		[]string{"type"},
	)
)

// MustRegister registers every collector with a constant service label.
func MustRegister(serviceName string) {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, prometheus.DefaultRegisterer)
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		VerificationCodesTotal,
		VerificationAttemptsTotal,
		SessionsIssuedTotal,
		OrderFinalizationsTotal,
		OrderTransitionsTotal,
		VoucherRedemptionsTotal,
		EmailSendsTotal,
		EmailSendAttempts,
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request counts and latency keyed by the chi route
// pattern so path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sr, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sr.status)).Inc()
		HTTPRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
