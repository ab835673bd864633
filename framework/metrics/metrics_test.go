package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-ioc/framework/metrics"
)

func TestPrometheus_CountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := metrics.NewPrometheus(reg, "ioc")
	require.NoError(t, err)

	p.CacheHit()
	p.CacheHit()
	p.CacheMiss()
	p.CacheInvalidated()
	p.Registered("added")
	p.Registered("added")
	p.Registered("skipped")
	p.Resolved("ok")
	p.ScopeOpened()
	p.ScopeOpened()
	p.ScopeClosed()

	count, err := testutil.GatherAndCount(reg, "ioc_registrations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per outcome")

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] += m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, values["ioc_plan_cache_hits_total"])
	assert.Equal(t, 1.0, values["ioc_plan_cache_misses_total"])
	assert.Equal(t, 1.0, values["ioc_plan_cache_invalidations_total"])
	assert.Equal(t, 3.0, values["ioc_registrations_total"])
	assert.Equal(t, 1.0, values["ioc_resolutions_total"])
	assert.Equal(t, 1.0, values["ioc_active_scopes"])
}

func TestPrometheus_DuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.NewPrometheus(reg, "ioc")
	require.NoError(t, err)

	_, err = metrics.NewPrometheus(reg, "ioc")
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.Noop.CacheHit()
		metrics.Noop.Registered("added")
		metrics.Noop.ScopeClosed()
	})
}
