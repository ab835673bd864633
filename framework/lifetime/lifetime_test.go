package lifetime_test

import (
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-ioc/framework/core"
	"github.com/km-arc/go-ioc/framework/lifetime"
	"github.com/km-arc/go-ioc/framework/scope"
)

type nopEngine struct{}

func (nopEngine) Resolve(core.Scope, reflect.Type, core.Request) (any, error)          { return nil, nil }
func (nopEngine) ResolveOrDefault(core.Scope, reflect.Type, core.Request) (any, error) { return nil, nil }
func (nopEngine) ResolveAll(core.Scope, reflect.Type, core.Request) ([]any, error)     { return nil, nil }
func (nopEngine) CanResolve(core.Scope, reflect.Type, core.Request) bool               { return false }

type svc struct{ n int32 }

func countingPlan() (core.Plan, *atomic.Int32) {
	var n atomic.Int32
	return func(rt *core.Runtime) (any, error) {
		return &svc{n: n.Add(1)}, nil
	}, &n
}

func target(root core.Scope) lifetime.Target {
	return lifetime.Target{
		RegistrationID: 1,
		ServiceType:    reflect.TypeFor[*svc](),
		Root:           root,
		Validate:       true,
		ParentLifeSpan: lifetime.SpanTransient,
	}
}

func run(t *testing.T, p core.Plan, s core.Scope) *svc {
	t.Helper()
	v, err := p(core.NewRuntime(s, nil))
	require.NoError(t, err)
	return v.(*svc)
}

// ── Transient ─────────────────────────────────────────────────────────────────

func TestTransient_NewInstanceEachRun(t *testing.T) {
	root := scope.NewRoot(nopEngine{})
	raw, _ := countingPlan()
	p, err := lifetime.Transient.Apply(raw, target(root))
	require.NoError(t, err)

	assert.NotSame(t, run(t, p, root), run(t, p, root))
}

// ── Scoped ────────────────────────────────────────────────────────────────────

func TestScoped_OnePerScope(t *testing.T) {
	root := scope.NewRoot(nopEngine{})
	raw, builds := countingPlan()
	p, err := lifetime.Scoped.Apply(raw, target(root))
	require.NoError(t, err)

	a, b := root.Begin(""), root.Begin("")
	assert.Same(t, run(t, p, a), run(t, p, a))
	assert.NotSame(t, run(t, p, a), run(t, p, b))
	assert.Equal(t, int32(2), builds.Load())
}

func TestScoped_FromRootRejectedWhenValidating(t *testing.T) {
	root := scope.NewRoot(nopEngine{})
	raw, _ := countingPlan()
	tg := target(root)
	tg.RequestedFromRoot = true

	_, err := lifetime.Scoped.Apply(raw, tg)
	assert.ErrorIs(t, err, core.ErrLifetimeValidation)

	tg.Validate = false
	_, err = lifetime.Scoped.Apply(raw, tg)
	assert.NoError(t, err)
}

func TestScoped_CapturedBySingletonRejected(t *testing.T) {
	root := scope.NewRoot(nopEngine{})
	raw, _ := countingPlan()
	tg := target(root)
	tg.ParentLifeSpan = lifetime.SpanSingleton
	tg.Path = "*svc"

	_, err := lifetime.Scoped.Apply(raw, tg)
	var lerr *core.LifetimeError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "Scoped", lerr.Lifetime)

	_, err = lifetime.Transient.Apply(raw, tg)
	assert.NoError(t, err, "transient dependencies are never validated")
}

// ── Singleton ─────────────────────────────────────────────────────────────────

func TestSingleton_SharedAcrossScopes(t *testing.T) {
	root := scope.NewRoot(nopEngine{})
	raw, builds := countingPlan()
	p, err := lifetime.Singleton.Apply(raw, target(root))
	require.NoError(t, err)

	assert.Same(t, run(t, p, root.Begin("")), run(t, p, root.Begin("").Begin("")))
	assert.Equal(t, int32(1), builds.Load())
}

func TestSingleton_BuildsAgainstRootScope(t *testing.T) {
	root := scope.NewRoot(nopEngine{})
	var seen core.Scope
	raw := func(rt *core.Runtime) (any, error) {
		seen = rt.Scope
		return &svc{}, nil
	}
	p, err := lifetime.Singleton.Apply(raw, target(root))
	require.NoError(t, err)

	run(t, p, root.Begin("child"))
	assert.Equal(t, root.ID(), seen.ID())
}

// ── Named scope ───────────────────────────────────────────────────────────────

func TestNamedScope_CachesInNearestMatch(t *testing.T) {
	root := scope.NewRoot(nopEngine{})
	raw, _ := countingPlan()
	d := lifetime.NamedScope("request")
	p, err := d.Apply(raw, target(root))
	require.NoError(t, err)

	req := root.Begin("request")
	assert.Same(t, run(t, p, req.Begin("")), run(t, p, req.Begin("")))

	_, err = p(core.NewRuntime(root.Begin("job"), nil))
	assert.ErrorIs(t, err, core.ErrUnresolvable)

	named, ok := d.(lifetime.ScopeNamed)
	require.True(t, ok)
	assert.Equal(t, []string{"request"}, named.ScopeNames())
}

// ── helpers ───────────────────────────────────────────────────────────────────

func TestInheritAndParse(t *testing.T) {
	assert.Equal(t, lifetime.Singleton, lifetime.Inherit(lifetime.Empty, lifetime.Singleton))
	assert.Equal(t, lifetime.Singleton, lifetime.Inherit(nil, lifetime.Singleton))
	assert.Equal(t, lifetime.Transient, lifetime.Inherit(lifetime.Transient, lifetime.Singleton))

	d, err := lifetime.Parse("Scoped")
	require.NoError(t, err)
	assert.Equal(t, lifetime.Scoped, d)
	_, err = lifetime.Parse("forever")
	assert.Error(t, err)
}
