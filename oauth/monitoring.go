package oauth

import "time"

// Exchange phases reported to Metrics.
const (
	PhaseRequestToken = "request_token"
	PhaseAccessToken  = "access_token"
	PhaseRefresh      = "refresh"
)

// Metrics receives timings of token exchanges and signed requests. The
// metrics package provides a Prometheus implementation.
type Metrics interface {
	ObserveExchange(provider, phase string, err error, d time.Duration)
	// ObserveRequest is called once per dispatched request. status is zero
	// when no response was received.
	ObserveRequest(provider string, verb Verb, status int, err error, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveExchange(string, string, error, time.Duration)   {}
func (nopMetrics) ObserveRequest(string, Verb, int, error, time.Duration) {}
