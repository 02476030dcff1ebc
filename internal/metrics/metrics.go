// Package metrics holds the prometheus collectors of the auth service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	authOutcomes *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	revocations  *prometheus.CounterVec
	gatherer     prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		authOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_outcomes_total",
			Help: "Authentication pipeline outcomes by mode and result.",
		}, []string{"mode", "outcome"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "user_cache_lookups_total",
			Help: "User cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
		revocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "token_revocation_ops_total",
			Help: "Revocation store operations by op and result.",
		}, []string{"op", "result"}),
		gatherer: reg,
	}
}

func (m *Metrics) AuthOutcome(mode, outcome string) {
	if m == nil {
		return
	}
	m.authOutcomes.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Revocation(op, result string) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(op, result).Inc()
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
