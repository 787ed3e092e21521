// Package prom exports bindcache events as Prometheus counters.
package prom

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/bindcache"
)

// Hooks holds the collectors. Index-related counters are labeled by class only,
// so cardinality stays bounded by the number of classes.
type Hooks struct {
	Lookups        *prometheus.CounterVec
	SelfHeals      *prometheus.CounterVec
	EmptyEvictions prometheus.Counter
	Rotations      *prometheus.CounterVec
	RotateErrors   *prometheus.CounterVec
	TokenErrors    prometheus.Counter
	RejectedWrites prometheus.Counter
}

var _ bindcache.Hooks = (*Hooks)(nil)

// New creates and registers all collectors with reg.
func New(reg prometheus.Registerer) *Hooks {
	h := &Hooks{
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bindcache",
			Name:      "lookups_total",
			Help:      "Fetch lookups by result.",
		}, []string{"result"}),

		SelfHeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bindcache",
			Name:      "self_heals_total",
			Help:      "Unreadable entries deleted on read.",
		}, []string{"reason"}),

		EmptyEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bindcache",
			Name:      "empty_evictions_total",
			Help:      "Empty results deleted instead of cached.",
		}),

		Rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bindcache",
			Name:      "index_rotations_total",
			Help:      "Generation token rotations.",
		}, []string{"class", "scope"}),

		RotateErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bindcache",
			Name:      "index_rotation_errors_total",
			Help:      "Failed generation token rotations.",
		}, []string{"class", "scope"}),

		TokenErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bindcache",
			Name:      "token_errors_total",
			Help:      "Failed token lookups during key synthesis.",
		}),

		RejectedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bindcache",
			Name:      "provider_set_rejected_total",
			Help:      "Writes refused by the provider.",
		}),
	}

	reg.MustRegister(
		h.Lookups,
		h.SelfHeals,
		h.EmptyEvictions,
		h.Rotations,
		h.RotateErrors,
		h.TokenErrors,
		h.RejectedWrites,
	)

	return h
}

func (h *Hooks) Lookup(hit bool) {
	if hit {
		h.Lookups.WithLabelValues("hit").Inc()
		return
	}
	h.Lookups.WithLabelValues("miss").Inc()
}

func (h *Hooks) SelfHeal(_, reason string)  { h.SelfHeals.WithLabelValues(reason).Inc() }
func (h *Hooks) EmptyEvicted(string)        { h.EmptyEvictions.Inc() }
func (h *Hooks) TokenError(int, error)      { h.TokenErrors.Inc() }
func (h *Hooks) ProviderSetRejected(string) { h.RejectedWrites.Inc() }

func (h *Hooks) IndexRotated(index string) {
	class, scope := split(index)
	h.Rotations.WithLabelValues(class, scope).Inc()
}

func (h *Hooks) RotateError(index string, _ error) {
	class, scope := split(index)
	h.RotateErrors.WithLabelValues(class, scope).Inc()
}

// split turns "INDEX:Widget/id=5" into ("Widget", "object") and
// "INDEX:Widget/*" into ("Widget", "class").
func split(index string) (class, scope string) {
	rest := strings.TrimPrefix(index, "INDEX:")
	class, sel, _ := strings.Cut(rest, "/")
	if sel == "*" {
		return class, "class"
	}
	return class, "object"
}
