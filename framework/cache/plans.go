package cache

import (
	"reflect"
	"strings"

	"github.com/km-arc/go-ioc/framework/core"
	"github.com/km-arc/go-ioc/framework/immutable"
	"github.com/km-arc/go-ioc/framework/metrics"
)

// Key identifies a cached construction plan.
type Key struct {
	Type     reflect.Type
	Name     string
	Behavior core.Behavior
	// Scopes is the joined list of enclosing scope names, which changes
	// which named-scope registrations are eligible.
	Scopes   string
	FromRoot bool
	// All marks a collection plan built by ResolveAll.
	All bool
}

// NewKey builds a key from the enclosing scope names.
func NewKey(t reflect.Type, name string, b core.Behavior, scopes []string, fromRoot, all bool) Key {
	return Key{Type: t, Name: name, Behavior: b, Scopes: strings.Join(scopes, "/"), FromRoot: fromRoot, All: all}
}

type generation struct {
	n     uint64
	plans immutable.Tree[Key, core.Plan]
}

// Plans caches construction plans per request key. Every container
// mutation drops the whole cache and starts a new generation; a plan built
// during an older generation is never stored.
type Plans struct {
	gen *immutable.Atom[generation]
	rec metrics.Recorder
}

// New creates an empty cache reporting hits and misses to rec.
func New(rec metrics.Recorder) *Plans {
	if rec == nil {
		rec = metrics.Noop
	}
	return &Plans{gen: immutable.NewAtom(generation{}), rec: rec}
}

// Get looks up k. The returned generation must be passed back to Put.
func (p *Plans) Get(k Key) (core.Plan, uint64, bool) {
	g := p.gen.Load()
	plan, ok := g.plans.Get(k)
	if ok {
		p.rec.CacheHit()
	} else {
		p.rec.CacheMiss()
	}
	return plan, g.n, ok
}

// Put stores plan under k unless the cache was invalidated since gen was
// read. Concurrent builders of the same key race; the last one wins.
func (p *Plans) Put(k Key, plan core.Plan, gen uint64) bool {
	_, stored := p.gen.Swap(func(old generation) (generation, bool) {
		if old.n != gen {
			return old, false
		}
		return generation{n: old.n, plans: old.plans.AddOrUpdate(k, plan, nil)}, true
	})
	return stored
}

// Invalidate drops every plan.
func (p *Plans) Invalidate() {
	p.gen.Swap(func(old generation) (generation, bool) {
		return generation{n: old.n + 1}, true
	})
	p.rec.CacheInvalidated()
}

// Generation returns the current generation number.
func (p *Plans) Generation() uint64 { return p.gen.Load().n }

// Len counts the cached plans.
func (p *Plans) Len() int { return p.gen.Load().plans.Len() }
