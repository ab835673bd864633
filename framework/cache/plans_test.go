package cache_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/km-arc/go-ioc/framework/cache"
	"github.com/km-arc/go-ioc/framework/core"
	"github.com/km-arc/go-ioc/framework/metrics"
)

var intType = reflect.TypeFor[int]()

func TestPlans_PutGetInvalidate(t *testing.T) {
	plans := cache.New(nil)
	k := cache.NewKey(intType, "", core.BehaviorDefault, nil, false, false)

	_, gen, ok := plans.Get(k)
	require.False(t, ok)
	require.True(t, plans.Put(k, core.Constant(1), gen))

	p, _, ok := plans.Get(k)
	require.True(t, ok)
	v, _ := p(nil)
	assert.Equal(t, 1, v)

	plans.Invalidate()
	_, _, ok = plans.Get(k)
	assert.False(t, ok)
	assert.Equal(t, 0, plans.Len())
	assert.Equal(t, uint64(1), plans.Generation())
}

func TestPlans_StaleBuildIsDiscarded(t *testing.T) {
	plans := cache.New(nil)
	k := cache.NewKey(intType, "", core.BehaviorDefault, nil, false, false)

	_, gen, _ := plans.Get(k)
	plans.Invalidate()
	assert.False(t, plans.Put(k, core.Constant(1), gen))
	assert.Equal(t, 0, plans.Len())
}

func TestPlans_KeysAreDistinct(t *testing.T) {
	plans := cache.New(nil)
	keys := []cache.Key{
		cache.NewKey(intType, "", core.BehaviorDefault, nil, false, false),
		cache.NewKey(intType, "a", core.BehaviorDefault, nil, false, false),
		cache.NewKey(intType, "", core.BehaviorCurrent, nil, false, false),
		cache.NewKey(intType, "", core.BehaviorDefault, []string{"request"}, false, false),
		cache.NewKey(intType, "", core.BehaviorDefault, nil, true, false),
		cache.NewKey(intType, "", core.BehaviorDefault, nil, false, true),
	}
	for i, k := range keys {
		plans.Put(k, core.Constant(i), plans.Generation())
	}
	assert.Equal(t, len(keys), plans.Len())
}

func TestPlans_ReportsHitsAndMisses(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewPrometheus(reg, "test")
	require.NoError(t, err)
	plans := cache.New(rec)
	k := cache.NewKey(intType, "", core.BehaviorDefault, nil, false, false)

	_, gen, _ := plans.Get(k)
	plans.Put(k, core.Constant(1), gen)
	plans.Get(k)
	plans.Get(k)
	plans.Invalidate()

	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP test_plan_cache_hits_total Resolve calls answered from the construction-plan cache
# TYPE test_plan_cache_hits_total counter
test_plan_cache_hits_total 2
# HELP test_plan_cache_misses_total Resolve calls that had to build a construction plan
# TYPE test_plan_cache_misses_total counter
test_plan_cache_misses_total 1
`), "test_plan_cache_hits_total", "test_plan_cache_misses_total"))
}

func TestPlans_ConcurrentPutsAndInvalidations(t *testing.T) {
	plans := cache.New(nil)
	var g errgroup.Group
	for i := range 50 {
		g.Go(func() error {
			k := cache.NewKey(intType, string(rune('a'+i%26)), core.BehaviorDefault, nil, false, false)
			_, gen, _ := plans.Get(k)
			plans.Put(k, core.Constant(i), gen)
			if i%10 == 0 {
				plans.Invalidate()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, plans.Len(), 26)
}
