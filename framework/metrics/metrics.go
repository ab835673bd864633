package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives container events worth counting.
type Recorder interface {
	CacheHit()
	CacheMiss()
	CacheInvalidated()
	// Registered counts a register or remap call by its outcome
	// ("added", "replaced", "skipped", "rejected", "remapped").
	Registered(outcome string)
	// Resolved counts a resolve call by its outcome ("ok", "unresolvable",
	// "default", "error").
	Resolved(outcome string)
	ScopeOpened()
	ScopeClosed()
}

// ── Prometheus ────────────────────────────────────────────────────────────────

// Prometheus implements Recorder with client_golang collectors.
type Prometheus struct {
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	cacheInvalidations prometheus.Counter
	registrations      *prometheus.CounterVec
	resolutions        *prometheus.CounterVec
	activeScopes       prometheus.Gauge
}

// NewPrometheus creates the collectors and registers them on reg. Pass a
// private prometheus.NewRegistry() to keep several containers apart.
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	p := &Prometheus{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_cache_hits_total",
			Help:      "Resolve calls answered from the construction-plan cache",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_cache_misses_total",
			Help:      "Resolve calls that had to build a construction plan",
		}),
		cacheInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_cache_invalidations_total",
			Help:      "Times the construction-plan cache was dropped after a mutation",
		}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Register and remap calls by outcome",
		}, []string{"policy_outcome"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Resolve calls by outcome",
		}, []string{"outcome"}),
		activeScopes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_scopes",
			Help:      "Resolution scopes opened and not yet disposed",
		}),
	}

	for _, c := range []prometheus.Collector{
		p.cacheHits, p.cacheMisses, p.cacheInvalidations,
		p.registrations, p.resolutions, p.activeScopes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) CacheHit()                 { p.cacheHits.Inc() }
func (p *Prometheus) CacheMiss()                { p.cacheMisses.Inc() }
func (p *Prometheus) CacheInvalidated()         { p.cacheInvalidations.Inc() }
func (p *Prometheus) Registered(outcome string) { p.registrations.WithLabelValues(outcome).Inc() }
func (p *Prometheus) Resolved(outcome string)   { p.resolutions.WithLabelValues(outcome).Inc() }
func (p *Prometheus) ScopeOpened()              { p.activeScopes.Inc() }
func (p *Prometheus) ScopeClosed()              { p.activeScopes.Dec() }

// ── Noop ──────────────────────────────────────────────────────────────────────

type noop struct{}

// Noop discards every event.
var Noop Recorder = noop{}

func (noop) CacheHit()         {}
func (noop) CacheMiss()        {}
func (noop) CacheInvalidated() {}
func (noop) Registered(string) {}
func (noop) Resolved(string)   {}
func (noop) ScopeOpened()      {}
func (noop) ScopeClosed()      {}
