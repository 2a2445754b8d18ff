package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notegate/api/internal/rbac"
	"notegate/api/internal/sweeper"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	AuthzDecisionsTotal *prometheus.CounterVec
	SweptTotal          *prometheus.CounterVec
}

// NewMetrics creates the service metrics and registers them, with the Go and
// process collectors, on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notegate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notegate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notegate_authz_decisions_total",
				Help: "Authorization decisions by outcome, reason and permission",
			},
			[]string{"outcome", "reason", "permission"},
		),
		SweptTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notegate_swept_grants_total",
				Help: "Expired grants deleted by the sweeper",
			},
			[]string{"kind"},
		),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.SweptTotal,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDecision counts one authorization decision. It is registered with
// rbac.Evaluator.OnDecision.
func (m *Metrics) ObserveDecision(d rbac.Decision) {
	outcome := "allow"
	if !d.Allowed {
		outcome = "deny"
	}
	m.AuthzDecisionsTotal.WithLabelValues(outcome, string(d.Reason), string(d.Permission)).Inc()
}

// ObserveSweep is registered with sweeper.Sweeper.OnSweep.
func (m *Metrics) ObserveSweep(r sweeper.Result) {
	m.SweptTotal.WithLabelValues("invitation").Add(float64(r.Invitations))
	m.SweptTotal.WithLabelValues("share_link").Add(float64(r.ShareLinks))
}

// instrument is router middleware; it labels by route template so ids in
// paths do not explode cardinality.
func (m *Metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(started).Seconds())
	})
}
