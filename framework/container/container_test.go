package container_test

import (
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/km-arc/go-ioc/framework/config"
	"github.com/km-arc/go-ioc/framework/container"
	"github.com/km-arc/go-ioc/framework/core"
	"github.com/km-arc/go-ioc/framework/metrics"
	"github.com/km-arc/go-ioc/framework/registration"
)

// ── fixtures ──────────────────────────────────────────────────────────────────

type ITest1 interface{ Name() string }

type Test1 struct{}
type Test11 struct{}
type Test12 struct{}

func (*Test1) Name() string  { return "Test1" }
func (*Test11) Name() string { return "Test11" }
func (*Test12) Name() string { return "Test12" }

type indexed struct{ i int }

func (x *indexed) Name() string { return fmt.Sprint(x.i) }

func names[T ITest1](items []T) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name()
	}
	return out
}

type consumer struct {
	Dep ITest1 `ioc:""`
}

type notifier interface{ Send() string }

type baseNotifier struct{}

func (*baseNotifier) Send() string { return "base" }

type wrapped struct {
	label string
	inner notifier
}

func (w *wrapped) Send() string { return w.label + "(" + w.inner.Send() + ")" }

func decorator(label string) func(notifier) *wrapped {
	return func(inner notifier) *wrapped { return &wrapped{label: label, inner: inner} }
}

type unitOfWork struct{ id int64 }

var uowSeq atomic.Int64

func newUnitOfWork() *unitOfWork { return &unitOfWork{id: uowSeq.Add(1)} }

type Order struct{ ID int }

type Repo[T any] struct {
	Items []T
}

type chicken struct {
	Egg core.Lazy[*egg] `ioc:""`
}

type egg struct {
	Chicken *chicken `ioc:""`
}

type ping struct {
	Pong *pong `ioc:""`
}

type pong struct {
	Ping *ping `ioc:""`
}

type closer struct {
	closed *[]string
	name   string
}

func (c *closer) Close() error {
	*c.closed = append(*c.closed, c.name)
	return nil
}

// ── Last write wins ───────────────────────────────────────────────────────────

func TestResolveAll_ReplaceKeepsSlotAndUpdatesFuncs(t *testing.T) {
	c := container.New()
	require.NoError(t, container.RegisterType[ITest1, *Test1](c, registration.WithName("a")))
	require.NoError(t, container.RegisterType[ITest1, *Test12](c, registration.WithName("b")))

	all, err := container.ResolveAll[ITest1](c)
	require.NoError(t, err)
	assert.Equal(t, []string{"Test1", "Test12"}, names(all))

	fn, err := container.ResolveNamed[func() ITest1](c, "a")
	require.NoError(t, err)
	assert.Equal(t, "Test1", fn().Name())

	require.NoError(t, container.RegisterType[ITest1, *Test11](c,
		registration.WithName("a"), registration.ReplaceExisting()))

	all, err = container.ResolveAll[ITest1](c)
	require.NoError(t, err)
	assert.Equal(t, []string{"Test11", "Test12"}, names(all))
	assert.Equal(t, "Test11", fn().Name(), "a func resolved before the replace sees it")
}

func TestResolve_ReplacePolicyInvalidatesCachedPlan(t *testing.T) {
	c := container.New(container.WithConflictPolicy(registration.ReplaceExistingPolicy))
	require.NoError(t, container.RegisterType[ITest1, *Test1](c, registration.WithName("x")))

	before, err := container.ResolveNamed[ITest1](c, "x")
	require.NoError(t, err)
	require.NoError(t, c.Register(reflect.TypeFor[ITest1](), func() *Test12 { return &Test12{} }, registration.WithName("x")))
	after, err := container.ResolveNamed[ITest1](c, "x")
	require.NoError(t, err)

	assert.Equal(t, "Test1", before.Name())
	assert.Equal(t, "Test12", after.Name())
}

func TestResolve_LastRegisteredWinsWithoutName(t *testing.T) {
	c := container.New()
	require.NoError(t, container.RegisterType[ITest1, *Test1](c))
	require.NoError(t, container.RegisterType[ITest1, *Test12](c))

	got, err := container.Resolve[ITest1](c)
	require.NoError(t, err)
	assert.Equal(t, "Test12", got.Name())
}

func TestRegister_SkipPolicyKeepsFirst(t *testing.T) {
	c := container.New()
	require.NoError(t, container.RegisterType[ITest1, *Test1](c, registration.WithName("a")))
	require.NoError(t, container.Provide[ITest1](c, func() *Test1 { return &Test1{} }, registration.WithName("a")))

	assert.Len(t, c.Registrations(), 1)
}

func TestRegister_ThrowPolicyRejectsDuplicate(t *testing.T) {
	c := container.New(container.WithConflictPolicy(registration.ThrowOnDuplicate))
	require.NoError(t, container.RegisterType[ITest1, *Test1](c, registration.WithName("a")))
	err := container.RegisterType[ITest1, *Test12](c, registration.WithName("a"))
	assert.ErrorIs(t, err, core.ErrDuplicateRegistration)
}

// ── Ordering ──────────────────────────────────────────────────────────────────

func TestResolveAll_AscendingRegistrationOrder(t *testing.T) {
	c := container.New()
	for i := range 5 {
		require.NoError(t, c.RegisterFactory(reflect.TypeFor[ITest1](), func(core.Resolver) (any, error) {
			return &indexed{i: i}, nil
		}, registration.WithName(fmt.Sprint("n", i))))
	}

	all, err := container.ResolveAll[ITest1](c)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, names(all))

	regs := c.Registrations()
	for i := 1; i < len(regs); i++ {
		assert.Greater(t, regs[i].ID, regs[i-1].ID)
	}
}

func TestResolveAll_NameFiltersCollection(t *testing.T) {
	c := container.New()
	require.NoError(t, container.RegisterType[ITest1, *Test1](c, registration.WithName("a")))
	require.NoError(t, container.RegisterType[ITest1, *Test12](c, registration.WithName("b")))

	all, err := container.ResolveAll[ITest1](c, core.WithName("b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Test12"}, names(all))
}

func TestResolveAll_EmptyWhenNothingRegistered(t *testing.T) {
	c := container.New()
	all, err := container.ResolveAll[ITest1](c)
	require.NoError(t, err)
	assert.Empty(t, all)
}

// ── Lifetimes ─────────────────────────────────────────────────────────────────

func TestScoped_OnePerScope(t *testing.T) {
	c := container.New()
	require.NoError(t, container.Provide[*unitOfWork](c, newUnitOfWork, registration.Scoped()))

	s1, s2 := c.BeginScope(""), c.BeginScope("")
	defer s1.Dispose()
	defer s2.Dispose()

	a, err := container.Resolve[*unitOfWork](s1)
	require.NoError(t, err)
	for range 3 {
		again, err := container.Resolve[*unitOfWork](s1)
		require.NoError(t, err)
		assert.Same(t, a, again)
	}
	b, err := container.Resolve[*unitOfWork](s2)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestScoped_ConcurrentResolveBuildsOnce(t *testing.T) {
	c := container.New()
	var built atomic.Int32
	require.NoError(t, container.Provide[*unitOfWork](c, func() *unitOfWork {
		built.Add(1)
		return &unitOfWork{}
	}, registration.Scoped()))
	s := c.BeginScope("")

	var g errgroup.Group
	got := make([]*unitOfWork, 32)
	for i := range got {
		g.Go(func() error {
			v, err := container.Resolve[*unitOfWork](s)
			got[i] = v
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, built.Load())
	for _, v := range got {
		assert.Same(t, got[0], v)
	}
}

func TestScoped_FromRootIsLifetimeViolation(t *testing.T) {
	c := container.New(container.WithLifetimeValidation(true))
	require.NoError(t, container.Provide[*unitOfWork](c, newUnitOfWork, registration.Scoped()))

	_, err := container.Resolve[*unitOfWork](c)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrLifetimeValidation)

	relaxed := container.New()
	require.NoError(t, container.Provide[*unitOfWork](relaxed, newUnitOfWork, registration.Scoped()))
	_, err = container.Resolve[*unitOfWork](relaxed)
	assert.NoError(t, err)
}

func TestScoped_SelfResolvingFactoryIsCycle(t *testing.T) {
	for _, opt := range []registration.Option{registration.Scoped(), registration.Singleton()} {
		c := container.New()
		require.NoError(t, c.RegisterFactory(reflect.TypeFor[ITest1](), func(r core.Resolver) (any, error) {
			return r.Resolve(reflect.TypeFor[ITest1]())
		}, opt))

		done := make(chan error, 1)
		go func() {
			_, err := c.BeginScope("").Resolve(reflect.TypeFor[ITest1]())
			done <- err
		}()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, core.ErrCircularDependency)
		case <-time.After(2 * time.Second):
			t.Fatal("re-entrant build of a cached instance blocked")
		}
	}
}

func TestScoped_FactoryMayResolveOtherScopedServices(t *testing.T) {
	c := container.New()
	require.NoError(t, container.Provide[*unitOfWork](c, newUnitOfWork, registration.Scoped()))
	require.NoError(t, c.RegisterFactory(reflect.TypeFor[ITest1](), func(r core.Resolver) (any, error) {
		if _, err := r.Resolve(reflect.TypeFor[*unitOfWork]()); err != nil {
			return nil, err
		}
		return &Test1{}, nil
	}, registration.Scoped()))

	s := c.BeginScope("")
	_, err := container.Resolve[ITest1](s)
	require.NoError(t, err)
	_, err = container.Resolve[ITest1](s)
	assert.NoError(t, err)
}

func TestSingleton_SharedAcrossScopes(t *testing.T) {
	c := container.New()
	require.NoError(t, container.Provide[*unitOfWork](c, newUnitOfWork, registration.Singleton()))

	a, err := container.Resolve[*unitOfWork](c.BeginScope(""))
	require.NoError(t, err)
	b, err := container.Resolve[*unitOfWork](c)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestNamedScope_SharesWithinNamedScope(t *testing.T) {
	c := container.New()
	require.NoError(t, container.Provide[*unitOfWork](c, newUnitOfWork, registration.InNamedScope("request")))

	req := c.BeginScope("request")
	inner := req.Begin("")
	a, err := container.Resolve[*unitOfWork](inner)
	require.NoError(t, err)
	b, err := container.Resolve[*unitOfWork](req)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = container.Resolve[*unitOfWork](c.BeginScope("other"))
	assert.ErrorIs(t, err, core.ErrUnresolvable)
}

// ── Open generics ─────────────────────────────────────────────────────────────

func TestOpenGeneric_ClosesOverRequestedType(t *testing.T) {
	c := container.New()
	require.NoError(t, c.RegisterOpenGeneric(reflect.TypeFor[*Repo[any]](), registration.Singleton()))

	orders, err := container.Resolve[*Repo[Order]](c)
	require.NoError(t, err)
	require.NotNil(t, orders)
	again, err := container.Resolve[*Repo[Order]](c)
	require.NoError(t, err)
	assert.Same(t, orders, again)

	labels, err := container.Resolve[*Repo[string]](c)
	require.NoError(t, err)
	assert.NotNil(t, labels)
	assert.Len(t, c.Registrations(), 1, "closed instantiations are not written back")
}

func TestOpenGeneric_Factory(t *testing.T) {
	c := container.New()
	require.NoError(t, c.RegisterGenericFactory(reflect.TypeFor[*Repo[any]](), func(closed reflect.Type, _ core.Resolver) (any, error) {
		return reflect.New(closed.Elem()).Interface(), nil
	}))

	r, err := container.Resolve[*Repo[int]](c)
	require.NoError(t, err)
	assert.NotNil(t, r)
}

// ── Decorators ────────────────────────────────────────────────────────────────

func TestDecorate_LaterDecoratorIsOutermost(t *testing.T) {
	c := container.New()
	require.NoError(t, container.RegisterType[notifier, *baseNotifier](c))
	require.NoError(t, container.Decorate[notifier](c, decorator("d1")))
	require.NoError(t, container.Decorate[notifier](c, decorator("d2")))

	n, err := container.Resolve[notifier](c)
	require.NoError(t, err)
	assert.Equal(t, "d2(d1(base))", n.Send())
}

func TestDecorate_InheritsDecoratedLifetime(t *testing.T) {
	c := container.New()
	require.NoError(t, container.RegisterType[notifier, *baseNotifier](c, registration.Singleton()))
	require.NoError(t, container.Decorate[notifier](c, decorator("d")))

	a, err := container.Resolve[notifier](c)
	require.NoError(t, err)
	b, err := container.Resolve[notifier](c)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestDecorate_AppliesToEveryCollectionItem(t *testing.T) {
	c := container.New()
	require.NoError(t, container.RegisterType[notifier, *baseNotifier](c, registration.WithName("one")))
	require.NoError(t, c.RegisterFactory(reflect.TypeFor[notifier](), func(core.Resolver) (any, error) {
		return &wrapped{label: "raw", inner: &baseNotifier{}}, nil
	}, registration.WithName("two")))
	require.NoError(t, container.Decorate[notifier](c, decorator("d")))

	all, err := container.ResolveAll[notifier](c)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "d(base)", all[0].Send())
	assert.Equal(t, "d(raw(base))", all[1].Send())
}

func TestReMapDecorator_ReplacesChain(t *testing.T) {
	c := container.New()
	require.NoError(t, container.RegisterType[notifier, *baseNotifier](c))
	require.NoError(t, container.Decorate[notifier](c, decorator("d1")))
	require.NoError(t, container.Decorate[notifier](c, decorator("d2")))
	require.NoError(t, c.ReMapDecorator(reflect.TypeFor[notifier](), decorator("only")))

	n, err := container.Resolve[notifier](c)
	require.NoError(t, err)
	assert.Equal(t, "only(base)", n.Send())
}

type greeting struct{ text string }

func (g *greeting) Send() string { return g.text }

func TestDecorate_ImplementationType(t *testing.T) {
	c := container.New()
	require.NoError(t, container.Provide[notifier](c, func() *greeting { return &greeting{text: "hi"} }))
	require.NoError(t, container.Decorate[*greeting](c, func(inner *greeting) *greeting {
		return &greeting{text: "[" + inner.text + "]"}
	}))

	n, err := container.Resolve[notifier](c)
	require.NoError(t, err)
	assert.Equal(t, "[hi]", n.Send())

	require.NoError(t, container.Decorate[notifier](c, decorator("d")))
	n, err = container.Resolve[notifier](c)
	require.NoError(t, err)
	assert.Equal(t, "d([hi])", n.Send(), "service decorators wrap implementation decorators")
}

type relay struct {
	Next notifier `ioc:"name=backup"`
}

func (r *relay) Send() string { return "relay(" + r.Next.Send() + ")" }

func TestDecorate_NotReappliedInsideOwnChain(t *testing.T) {
	c := container.New()
	require.NoError(t, container.RegisterType[notifier, *baseNotifier](c, registration.WithName("backup")))
	require.NoError(t, container.RegisterType[notifier, *relay](c))
	require.NoError(t, container.Decorate[notifier](c, decorator("d")))

	n, err := container.Resolve[notifier](c)
	require.NoError(t, err)
	assert.Equal(t, "d(relay(base))", n.Send(), "the decorated service's own dependencies stay undecorated")

	backup, err := container.ResolveNamed[notifier](c, "backup")
	require.NoError(t, err)
	assert.Equal(t, "d(base)", backup.Send())
}

// ── Remap ─────────────────────────────────────────────────────────────────────

func TestReMap(t *testing.T) {
	c := container.New()
	err := c.ReMap(reflect.TypeFor[ITest1](), reflect.TypeFor[*Test1]())
	assert.ErrorIs(t, err, core.ErrInvalidRegistration, "nothing to remap")

	require.NoError(t, container.RegisterType[ITest1, *Test1](c, registration.WithName("a")))
	require.NoError(t, container.RegisterType[ITest1, *Test12](c, registration.WithName("b")))
	require.NoError(t, c.ReMap(reflect.TypeFor[ITest1](), reflect.TypeFor[*Test11]()))

	all, err := container.ResolveAll[ITest1](c)
	require.NoError(t, err)
	assert.Equal(t, []string{"Test11"}, names(all))

	err = c.ReMap(reflect.TypeFor[ITest1](), reflect.TypeFor[*unitOfWork]())
	assert.ErrorIs(t, err, core.ErrInvalidRegistration, "implementation must implement the service")
}

// ── Wrappers ──────────────────────────────────────────────────────────────────

func TestLazy_DefersConstruction(t *testing.T) {
	c := container.New()
	var built atomic.Int32
	require.NoError(t, container.Provide[ITest1](c, func() *Test1 {
		built.Add(1)
		return &Test1{}
	}))

	lazy, err := container.Resolve[core.Lazy[ITest1]](c)
	require.NoError(t, err)
	assert.Zero(t, built.Load())

	v, err := lazy.Value()
	require.NoError(t, err)
	assert.Equal(t, "Test1", v.Name())
	_, _ = lazy()
	assert.EqualValues(t, 1, built.Load(), "a lazy is memoised")
}

func TestLazy_BreaksCycle(t *testing.T) {
	c := container.New()
	require.NoError(t, container.RegisterType[*chicken, *chicken](c))
	require.NoError(t, container.RegisterType[*egg, *egg](c))

	ch, err := container.Resolve[*chicken](c)
	require.NoError(t, err)
	e, err := ch.Egg()
	require.NoError(t, err)
	assert.NotNil(t, e.Chicken)
}

func TestLazy_UnresolvableFailsAtBuild(t *testing.T) {
	c := container.New()
	_, err := container.Resolve[core.Lazy[ITest1]](c)
	assert.ErrorIs(t, err, core.ErrUnresolvable)
}

func TestFunc_ArgumentsShadowRegistrations(t *testing.T) {
	type greeter struct{ Greeting string }
	c := container.New()
	require.NoError(t, container.Instance[string](c, "registered"))
	require.NoError(t, container.Provide[*greeter](c, func(s string) *greeter { return &greeter{Greeting: s} }))

	plain, err := container.Resolve[*greeter](c)
	require.NoError(t, err)
	assert.Equal(t, "registered", plain.Greeting)

	fn, err := container.Resolve[func(string) (*greeter, error)](c)
	require.NoError(t, err)
	g, err := fn("argument")
	require.NoError(t, err)
	assert.Equal(t, "argument", g.Greeting)
}

func TestFunc_SingleResultPanicsOnError(t *testing.T) {
	c := container.New()
	require.NoError(t, container.Provide[ITest1](c, func() (*Test1, error) { return nil, assert.AnError }))

	fn, err := container.Resolve[func() ITest1](c)
	require.NoError(t, err)
	assert.Panics(t, func() { fn() })
}

func TestMetadata_CarriesRegistrationData(t *testing.T) {
	c := container.New()
	require.NoError(t, container.RegisterType[ITest1, *Test1](c, registration.WithMetadata("eu")))
	require.NoError(t, container.RegisterType[ITest1, *Test12](c, registration.WithMetadata("us")))
	require.NoError(t, container.RegisterType[ITest1, *Test11](c, registration.WithMetadata(42)))

	all, err := container.ResolveAll[core.Metadata[ITest1, string]](c)
	require.NoError(t, err)
	require.Len(t, all, 2, "metadata of another type is filtered out")
	assert.Equal(t, "eu", all[0].Data)
	assert.Equal(t, "Test1", all[0].Service.Name())
	assert.Equal(t, "us", all[1].Data)
}

func TestKeyValue_CarriesRegistrationName(t *testing.T) {
	c := container.New()
	require.NoError(t, container.RegisterType[ITest1, *Test1](c, registration.WithName("a")))
	require.NoError(t, container.RegisterType[ITest1, *Test12](c, registration.WithName("b")))

	all, err := container.ResolveAll[core.KeyValue[string, ITest1]](c)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Key)
	assert.Equal(t, "Test12", all[1].Value.Name())
}

func TestSliceDependency(t *testing.T) {
	type fanout struct {
		All []ITest1 `ioc:""`
	}
	c := container.New()
	require.NoError(t, container.RegisterType[ITest1, *Test1](c))
	require.NoError(t, container.RegisterType[ITest1, *Test12](c))
	require.NoError(t, container.RegisterType[*fanout, *fanout](c))

	f, err := container.Resolve[*fanout](c)
	require.NoError(t, err)
	assert.Equal(t, []string{"Test1", "Test12"}, names(f.All))
}

// ── Cycles ────────────────────────────────────────────────────────────────────

func TestCycle_IsReported(t *testing.T) {
	c := container.New()
	require.NoError(t, container.RegisterType[*ping, *ping](c))
	require.NoError(t, container.RegisterType[*pong, *pong](c))

	_, err := container.Resolve[*ping](c)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCircularDependency)
	assert.Contains(t, err.Error(), "*container_test.ping")
}

// ── Overrides and scope values ────────────────────────────────────────────────

func TestResolveWith_OverrideWinsForOneCall(t *testing.T) {
	c := container.New()
	require.NoError(t, container.RegisterType[ITest1, *Test1](c))
	require.NoError(t, container.RegisterType[*consumer, *consumer](c))

	v, err := c.ResolveWith(reflect.TypeFor[*consumer](), []any{&Test12{}})
	require.NoError(t, err)
	assert.Equal(t, "Test12", v.(*consumer).Dep.Name())

	plain, err := container.Resolve[*consumer](c)
	require.NoError(t, err)
	assert.Equal(t, "Test1", plain.Dep.Name())
}

func TestPutInstanceInScope(t *testing.T) {
	c := container.New()
	require.NoError(t, container.RegisterType[ITest1, *Test1](c))
	require.NoError(t, container.RegisterType[*consumer, *consumer](c))

	// Warm the cache before the scope gets its own value.
	_, err := container.Resolve[*consumer](c)
	require.NoError(t, err)

	s := c.BeginScope("")
	require.NoError(t, c.PutInstanceInScope(s, reflect.TypeFor[ITest1](), &Test12{}, "", true))

	got, err := container.Resolve[*consumer](s.Begin(""))
	require.NoError(t, err)
	assert.Equal(t, "Test12", got.Dep.Name())

	other, err := container.Resolve[*consumer](c.BeginScope(""))
	require.NoError(t, err)
	assert.Equal(t, "Test1", other.Dep.Name())
}

// ── Optional resolution ───────────────────────────────────────────────────────

func TestResolveOrDefault_And_CanResolve(t *testing.T) {
	c := container.New()
	v, err := c.ResolveOrDefault(reflect.TypeFor[ITest1]())
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.False(t, c.CanResolve(reflect.TypeFor[ITest1]()))

	require.NoError(t, container.RegisterType[ITest1, *Test1](c))
	assert.True(t, c.CanResolve(reflect.TypeFor[ITest1]()))
	assert.True(t, c.CanResolve(reflect.TypeFor[[]ITest1]()))
	assert.True(t, c.CanResolve(reflect.TypeFor[func() ITest1]()))
	assert.True(t, c.CanResolve(core.ResolverType))
}

func TestResolveOrDefault_EmptiesWholeGraph(t *testing.T) {
	c := container.New(container.WithLifetimeValidation(true))
	require.NoError(t, container.RegisterType[*consumer, *consumer](c))

	v, err := c.ResolveOrDefault(reflect.TypeFor[*consumer]())
	require.NoError(t, err, "a missing dependency empties the result")
	assert.Nil(t, v)

	require.NoError(t, container.Provide[*unitOfWork](c, newUnitOfWork, registration.Scoped()))
	_, err = c.ResolveOrDefault(reflect.TypeFor[*unitOfWork]())
	assert.ErrorIs(t, err, core.ErrLifetimeValidation, "only unresolvable requests are emptied")
}

func TestCanResolve_WritesNoCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewPrometheus(reg, "ioc")
	require.NoError(t, err)
	c := container.New(container.WithMetrics(rec))
	require.NoError(t, container.RegisterType[ITest1, *Test1](c))

	for range 3 {
		assert.True(t, c.CanResolve(reflect.TypeFor[ITest1]()))
	}
	for range 2 {
		_, err := container.Resolve[ITest1](c)
		require.NoError(t, err)
	}

	expected := `
# HELP ioc_plan_cache_hits_total Resolve calls answered from the construction-plan cache
# TYPE ioc_plan_cache_hits_total counter
ioc_plan_cache_hits_total 1
# HELP ioc_plan_cache_misses_total Resolve calls that had to build a construction plan
# TYPE ioc_plan_cache_misses_total counter
ioc_plan_cache_misses_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"ioc_plan_cache_hits_total", "ioc_plan_cache_misses_total"))
}

func TestOptionalAndDefaultMembers(t *testing.T) {
	type settings struct {
		Dep     ITest1 `ioc:"optional"`
		Retries int    `ioc:"default=3"`
	}
	c := container.New()
	require.NoError(t, container.RegisterType[*settings, *settings](c))

	s, err := container.Resolve[*settings](c)
	require.NoError(t, err)
	assert.Nil(t, s.Dep)
	assert.Equal(t, 3, s.Retries)
}

func TestUnknownTypeResolution(t *testing.T) {
	c := container.New()
	_, err := container.Resolve[*consumer](c)
	assert.ErrorIs(t, err, core.ErrUnresolvable)

	c = container.New(container.WithUnknownTypeResolution(true))
	require.NoError(t, container.RegisterType[ITest1, *Test1](c))
	got, err := container.Resolve[*consumer](c)
	require.NoError(t, err)
	assert.Equal(t, "Test1", got.Dep.Name())
	assert.True(t, c.IsRegistered(reflect.TypeFor[*consumer](), ""))
}

// ── Contextual registration ───────────────────────────────────────────────────

type storage interface{ Kind() string }
type localFS struct{}
type s3FS struct{}

func (*localFS) Kind() string { return "local" }
func (*s3FS) Kind() string    { return "s3" }

type photoController struct {
	FS storage `ioc:""`
}

type videoController struct {
	FS storage `ioc:""`
}

func TestWhen_NeedsGive(t *testing.T) {
	c := container.New()
	require.NoError(t, container.RegisterType[storage, *localFS](c))
	require.NoError(t, c.When(reflect.TypeFor[*photoController]()).
		Needs(reflect.TypeFor[storage]()).
		Give(reflect.TypeFor[*s3FS]()))
	require.NoError(t, container.RegisterType[*photoController, *photoController](c))
	require.NoError(t, container.RegisterType[*videoController, *videoController](c))

	photo, err := container.Resolve[*photoController](c)
	require.NoError(t, err)
	video, err := container.Resolve[*videoController](c)
	require.NoError(t, err)

	assert.Equal(t, "s3", photo.FS.Kind())
	assert.Equal(t, "local", video.FS.Kind())
}

// ── Child containers ──────────────────────────────────────────────────────────

func TestChild_FallsBackToParent(t *testing.T) {
	parent := container.New()
	require.NoError(t, container.RegisterType[ITest1, *Test1](parent))
	child := parent.CreateChild()

	got, err := container.Resolve[ITest1](child)
	require.NoError(t, err)
	assert.Equal(t, "Test1", got.Name())

	require.NoError(t, container.RegisterType[ITest1, *Test12](child))
	got, err = container.Resolve[ITest1](child)
	require.NoError(t, err)
	assert.Equal(t, "Test12", got.Name())

	_, err = container.Resolve[ITest1](child, core.WithBehavior(core.BehaviorCurrent))
	require.NoError(t, err)
}

func TestChild_ParentDependencyUsesChildRegistrations(t *testing.T) {
	parent := container.New()
	require.NoError(t, container.RegisterType[*consumer, *consumer](parent))
	child := parent.CreateChild()
	require.NoError(t, container.RegisterType[ITest1, *Test12](child))

	_, err := container.Resolve[*consumer](child)
	assert.ErrorIs(t, err, core.ErrUnresolvable, "built in the parent, which lacks ITest1")

	got, err := container.Resolve[*consumer](child,
		core.WithBehavior(core.BehaviorDefault|core.BehaviorParentDependency))
	require.NoError(t, err)
	assert.Equal(t, "Test12", got.Dep.Name())
}

func TestChild_SeesParentMutations(t *testing.T) {
	parent := container.New()
	child := parent.CreateChild()
	assert.False(t, child.CanResolve(reflect.TypeFor[ITest1]()))
	_, err := child.ResolveOrDefault(reflect.TypeFor[ITest1]())
	require.NoError(t, err)

	before := child.Version()
	require.NoError(t, container.RegisterType[ITest1, *Test1](parent))
	assert.Greater(t, child.Version(), before)

	got, err := container.Resolve[ITest1](child)
	require.NoError(t, err)
	assert.Equal(t, "Test1", got.Name())
}

func TestGrandchild_SeesRootReplacement(t *testing.T) {
	root := container.New(container.WithConflictPolicy(registration.ReplaceExistingPolicy))
	grandchild := root.CreateChild().CreateChild()
	require.NoError(t, container.RegisterType[ITest1, *Test1](root, registration.WithName("a")))

	got, err := container.ResolveNamed[ITest1](grandchild, "a")
	require.NoError(t, err)
	require.Equal(t, "Test1", got.Name())

	require.NoError(t, container.RegisterType[ITest1, *Test11](root, registration.WithName("a")))

	got, err = container.ResolveNamed[ITest1](root, "a")
	require.NoError(t, err)
	assert.Equal(t, "Test11", got.Name())
	got, err = container.ResolveNamed[ITest1](grandchild, "a")
	require.NoError(t, err)
	assert.Equal(t, "Test11", got.Name(), "cached plans of every descendant are dropped")
}

// ── Concurrency ───────────────────────────────────────────────────────────────

func TestConcurrentRegistration_NoLostUpdates(t *testing.T) {
	for round := range 10 {
		c := container.New()
		var g errgroup.Group
		const n = 48
		for i := range n {
			g.Go(func() error {
				name := fmt.Sprintf("r%d-%d", round, i)
				if err := container.RegisterType[ITest1, *Test1](c, registration.WithName(name)); err != nil {
					return err
				}
				_, err := container.ResolveAll[ITest1](c)
				return err
			})
		}
		require.NoError(t, g.Wait())

		all, err := container.ResolveAll[ITest1](c)
		require.NoError(t, err)
		assert.Len(t, all, n)
		assert.Len(t, c.Registrations(), n)
	}
}

// ── Disposal ──────────────────────────────────────────────────────────────────

func TestDispose_ReleasesInReverseOrder(t *testing.T) {
	var closed []string
	c := container.New()
	require.NoError(t, container.Instance[*closer](c, &closer{closed: &closed, name: "instance"}))
	require.NoError(t, c.Register(reflect.TypeFor[ITest1](), func() *Test1 { return &Test1{} }))
	require.NoError(t, container.Provide[*closer](c, func() *closer {
		return &closer{closed: &closed, name: "singleton"}
	}, registration.WithName("s"), registration.Singleton()))

	_, err := container.ResolveNamed[*closer](c, "s")
	require.NoError(t, err)

	scoped := c.BeginScope("")
	require.NoError(t, c.PutInstanceInScope(scoped, reflect.TypeFor[*closer](), &closer{closed: &closed, name: "put"}, "p", false))
	require.NoError(t, scoped.Dispose())
	assert.Equal(t, []string{"put"}, closed)

	require.NoError(t, c.Dispose())
	assert.Equal(t, []string{"put", "singleton", "instance"}, closed)
	require.NoError(t, c.Dispose(), "second dispose is a no-op")

	_, err = container.Resolve[ITest1](c)
	assert.ErrorIs(t, err, core.ErrScopeDisposed)
	assert.ErrorIs(t, container.RegisterType[ITest1, *Test12](c), core.ErrContainerDisposed)
}

func TestFinalizerAndInitializer(t *testing.T) {
	var events []string
	c := container.New()
	require.NoError(t, container.Provide[*unitOfWork](c, newUnitOfWork,
		registration.Scoped(),
		registration.WithInitializer(func(any, core.Resolver) error {
			events = append(events, "init")
			return nil
		}),
		registration.WithFinalizer(func(any) { events = append(events, "final") })))

	s := c.BeginScope("")
	_, err := container.Resolve[*unitOfWork](s)
	require.NoError(t, err)
	require.NoError(t, s.Dispose())
	assert.Equal(t, []string{"init", "final"}, events)
}

// ── Activation ────────────────────────────────────────────────────────────────

type clock struct{ now string }

type reportHandler struct {
	Dep   ITest1 `ioc:""`
	Clock *clock `ioc:""`
}

func TestActivate_ArgumentsShadowRegistrations(t *testing.T) {
	c := container.New()
	require.NoError(t, container.RegisterType[ITest1, *Test1](c))
	require.NoError(t, container.Instance(c, &clock{now: "registered"}))

	h, err := container.Activate[*reportHandler](c, &clock{now: "argument"})
	require.NoError(t, err)
	assert.Equal(t, "Test1", h.Dep.Name())
	assert.Equal(t, "argument", h.Clock.now)

	h, err = container.Activate[*reportHandler](c)
	require.NoError(t, err)
	assert.Equal(t, "registered", h.Clock.now)
	assert.False(t, c.IsRegistered(reflect.TypeFor[*reportHandler](), ""), "activation registers nothing")

	_, err = c.Activate(reflect.TypeFor[ITest1]())
	assert.ErrorIs(t, err, core.ErrInvalidRegistration)
}

func TestBuildUp_InjectsTaggedFields(t *testing.T) {
	c := container.New()
	require.NoError(t, container.RegisterType[ITest1, *Test12](c))

	target := &consumer{}
	require.NoError(t, c.BuildUp(target))
	assert.Equal(t, "Test12", target.Dep.Name())

	assert.Error(t, c.BuildUp(consumer{}), "needs a pointer")
	assert.ErrorIs(t, container.New().BuildUp(&consumer{}), core.ErrUnresolvable)
}

// ── Ambient wiring ────────────────────────────────────────────────────────────

func TestFromConfig(t *testing.T) {
	cfg := config.Default().IoC
	cfg.RegistrationBehavior = "throw"
	cfg.DefaultLifetime = "singleton"
	opts, err := container.FromConfig(cfg)
	require.NoError(t, err)

	c := container.New(opts...)
	require.NoError(t, container.Provide[*unitOfWork](c, newUnitOfWork))
	a, err := container.Resolve[*unitOfWork](c)
	require.NoError(t, err)
	b, err := container.Resolve[*unitOfWork](c.BeginScope(""))
	require.NoError(t, err)
	assert.Same(t, a, b, "default lifetime comes from config")
	assert.ErrorIs(t, container.Provide[*unitOfWork](c, newUnitOfWork), core.ErrDuplicateRegistration)

	cfg.RegistrationBehavior = "sometimes"
	_, err = container.FromConfig(cfg)
	assert.Error(t, err)
}

func TestLogsRegistrationEvents(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	c := container.New(container.WithLogger(zap.New(obs)))
	require.NoError(t, container.RegisterType[ITest1, *Test1](c, registration.WithName("a")))
	require.NoError(t, container.RegisterType[ITest1, *Test11](c, registration.WithName("a"), registration.ReplaceExisting()))

	assert.Equal(t, 1, logs.FilterMessage("registered").Len())
	assert.Equal(t, 1, logs.FilterMessage("registration replaced").Len())
	assert.NotZero(t, logs.FilterMessage("plan cache invalidated").Len())
}

func TestMustResolve_Panics(t *testing.T) {
	c := container.New()
	assert.Panics(t, func() { container.MustResolve[ITest1](c) })
	require.NoError(t, container.RegisterType[ITest1, *Test1](c))
	assert.Equal(t, "Test1", container.MustResolve[ITest1](c).Name())
}
