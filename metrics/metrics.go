// Package metrics provides Prometheus metrics for oauth services.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gobeaver/beaver-social/oauth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Labels used by every metric.
const (
	LabelProvider = "provider"
	LabelPhase    = "phase"
	LabelMethod   = "method"
	LabelStatus   = "status"
	LabelResult   = "result"
)

// Result label values.
const (
	ResultSuccess     = "success"
	ResultError       = "error"
	ResultRateLimited = "rate_limited"
	ResultCircuitOpen = "circuit_open"
)

// Config holds metrics configuration.
type Config struct {
	Namespace string
	Subsystem string
	// Registerer defaults to a new registry owned by Prometheus.
	Registerer prometheus.Registerer
}

// Prometheus implements oauth.Metrics.
type Prometheus struct {
	registry *prometheus.Registry

	exchangesTotal   *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	breakerState     *prometheus.GaugeVec
}

var _ oauth.Metrics = (*Prometheus)(nil)

// New registers the oauth metrics.
func New(cfg Config) *Prometheus {
	if cfg.Namespace == "" {
		cfg.Namespace = "beaver"
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = "oauth"
	}

	p := &Prometheus{}
	if cfg.Registerer == nil {
		p.registry = prometheus.NewRegistry()
		cfg.Registerer = p.registry
	}
	factory := promauto.With(cfg.Registerer)

	p.exchangesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "token_exchanges_total",
			Help:      "Total number of token exchanges with a provider.",
		},
		[]string{LabelProvider, LabelPhase, LabelResult},
	)

	p.exchangeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "token_exchange_duration_seconds",
			Help:      "Token exchange latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelProvider, LabelPhase},
	)

	p.requestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "requests_total",
			Help:      "Total number of requests sent to provider APIs.",
		},
		[]string{LabelProvider, LabelMethod, LabelStatus, LabelResult},
	)

	p.requestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "request_duration_seconds",
			Help:      "Provider API request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelProvider, LabelMethod},
	)

	p.breakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{LabelProvider},
	)

	return p
}

// ObserveExchange implements oauth.Metrics.
func (p *Prometheus) ObserveExchange(provider, phase string, err error, d time.Duration) {
	p.exchangesTotal.WithLabelValues(provider, phase, result(err)).Inc()
	p.exchangeDuration.WithLabelValues(provider, phase).Observe(d.Seconds())
}

// ObserveRequest implements oauth.Metrics.
func (p *Prometheus) ObserveRequest(provider string, verb oauth.Verb, status int, err error, d time.Duration) {
	code := "none"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	p.requestsTotal.WithLabelValues(provider, string(verb), code, result(err)).Inc()
	p.requestDuration.WithLabelValues(provider, string(verb)).Observe(d.Seconds())
}

// BreakerStateChanged returns a CircuitBreakerConfig.OnStateChange hook
// recording the state of provider's breaker.
func (p *Prometheus) BreakerStateChanged(provider string) func(from, to string) {
	p.breakerState.WithLabelValues(provider).Set(0)
	return func(_, to string) {
		p.breakerState.WithLabelValues(provider).Set(breakerValue(to))
	}
}

func breakerValue(state string) float64 {
	switch state {
	case oauth.StateHalfOpen:
		return 1
	case oauth.StateOpen:
		return 2
	default:
		return 0
	}
}

// Handler serves the metrics of the registry New created. It is nil when a
// Registerer was supplied; serve that registry instead.
func (p *Prometheus) Handler() http.Handler {
	if p.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the registry New created, or nil.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func result(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, oauth.ErrRateLimited):
		return ResultRateLimited
	case errors.Is(err, oauth.ErrCircuitOpen):
		return ResultCircuitOpen
	default:
		return ResultError
	}
}
