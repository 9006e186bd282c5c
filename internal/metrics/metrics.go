// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dan9191/finpay/internal/errs"
)

// Collector holds the collectors on a private registry. A nil *Collector is
// valid and records nothing.
type Collector struct {
	registry          *prometheus.Registry
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	postedCents       *prometheus.CounterVec
	loanTransitions   *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewCollector registers every collector on a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finpay_operations_total",
			Help: "Engine operations by name and outcome kind",
		}, []string{"operation", "outcome"}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finpay_operation_duration_seconds",
			Help:    "Time taken by engine operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		postedCents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finpay_ledger_posted_cents_total",
			Help: "Cents moved by confirmed ledger entries",
		}, []string{"kind"}),
		loanTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finpay_loan_transitions_total",
			Help: "Loan status changes by target status",
		}, []string{"status"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finpay_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"method", "route", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finpay_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ObserveOperation records one engine call. err decides the outcome label.
func (c *Collector) ObserveOperation(operation string, started time.Time, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = errs.KindOf(err).String()
	}
	c.operations.WithLabelValues(operation, outcome).Inc()
	c.operationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// AddPosted counts the amount of a confirmed ledger entry.
func (c *Collector) AddPosted(kind string, amountCents int64) {
	if c == nil || amountCents <= 0 {
		return
	}
	c.postedCents.WithLabelValues(kind).Add(float64(amountCents))
}

// LoanTransition counts a loan entering status.
func (c *Collector) LoanTransition(status string) {
	if c == nil {
		return
	}
	c.loanTransitions.WithLabelValues(status).Inc()
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
