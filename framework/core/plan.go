package core

import (
	"reflect"
	"slices"
	"sync"
)

// Plan is a compiled construction plan: a chain of closures that produces an
// instance when executed against a runtime.
type Plan func(rt *Runtime) (any, error)

// Constant returns a plan that always yields v.
func Constant(v any) Plan {
	return func(*Runtime) (any, error) { return v, nil }
}

// Runtime is the state a plan executes against: the active scope, the
// per-call request context and the arguments of enclosing factory funcs.
type Runtime struct {
	Scope   Scope
	Request *RequestContext
	frames  [][]any
	chain   *Chain
}

// NewRuntime starts a runtime for a single resolve call.
func NewRuntime(s Scope, req *RequestContext) *Runtime {
	if req == nil {
		req = NewRequestContext(nil)
	}
	return &Runtime{Scope: s, Request: req, chain: &Chain{}}
}

// Continue makes rt part of the build chain c of the call that started it.
// A nil c leaves rt on its own chain.
func (rt *Runtime) Continue(c *Chain) *Runtime {
	if c != nil {
		rt.chain = c
	}
	return rt
}

// Chain returns the build chain rt belongs to.
func (rt *Runtime) Chain() *Chain { return rt.chain }

// Resolver returns rt.Scope as a Resolver whose calls stay on rt's build
// chain. Factories and initializers receive it.
func (rt *Runtime) Resolver() Resolver { return chained{Scope: rt.Scope, chain: rt.chain} }

// WithScope returns a runtime executing against s.
func (rt *Runtime) WithScope(s Scope) *Runtime {
	c := *rt
	c.Scope = s
	return &c
}

// WithArgs returns a runtime with one more argument frame.
func (rt *Runtime) WithArgs(args []any) *Runtime {
	c := *rt
	c.frames = append(slices.Clip(rt.frames), args)
	return &c
}

// Arg reads argument index of frame.
func (rt *Runtime) Arg(frame, index int) any { return rt.frames[frame][index] }

// ── Build chain ───────────────────────────────────────────────────────────────

// Chain records the cached instances under construction by one resolve call
// and the nested calls its factories make.
type Chain struct {
	mu     sync.Mutex
	active map[chainKey]struct{}
}

type chainKey struct {
	scope Scope
	id    uint64
}

// Enter marks the instance id of s as under construction. It reports false
// when the chain is already building it.
func (c *Chain) Enter(s Scope, id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := chainKey{s, id}
	if _, ok := c.active[k]; ok {
		return false
	}
	if c.active == nil {
		c.active = make(map[chainKey]struct{})
	}
	c.active[k] = struct{}{}
	return true
}

// Leave ends the construction Enter started.
func (c *Chain) Leave(s Scope, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, chainKey{s, id})
}

type chained struct {
	Scope
	chain *Chain
}

func (r chained) Resolve(t reflect.Type, opts ...ResolveOption) (any, error) {
	return r.Scope.Resolve(t, r.on(opts)...)
}

func (r chained) ResolveOrDefault(t reflect.Type, opts ...ResolveOption) (any, error) {
	return r.Scope.ResolveOrDefault(t, r.on(opts)...)
}

func (r chained) ResolveAll(t reflect.Type, opts ...ResolveOption) ([]any, error) {
	return r.Scope.ResolveAll(t, r.on(opts)...)
}

func (r chained) on(opts []ResolveOption) []ResolveOption {
	return append(slices.Clip(opts), OnChain(r.chain))
}

// ── Request context ───────────────────────────────────────────────────────────

// Override is a value supplied for a single resolve call. It takes
// precedence over registrations of any type it is assignable to; a non-empty
// Name restricts it to requests carrying that name.
type Override struct {
	Name  string
	Value any
}

// Named builds a name-restricted override.
func Named(name string, value any) Override {
	return Override{Name: name, Value: value}
}

// Matches reports whether o can satisfy a request for t under name.
func (o Override) Matches(t reflect.Type, name string) bool {
	if o.Value == nil || (o.Name != "" && o.Name != name) {
		return false
	}
	return reflect.TypeOf(o.Value).AssignableTo(t)
}

// RequestContext travels with one resolve call. Services can depend on
// *RequestContext to read the call's overrides or share values with other
// services built in the same call.
type RequestContext struct {
	overrides []Override

	mu    sync.Mutex
	items map[any]any
}

// NewRequestContext creates a request context carrying overrides.
func NewRequestContext(overrides []Override) *RequestContext {
	return &RequestContext{overrides: overrides}
}

// Overrides returns the overrides passed to the call.
func (r *RequestContext) Overrides() []Override { return slices.Clone(r.overrides) }

// Override finds the override for a request.
func (r *RequestContext) Override(t reflect.Type, name string) (any, bool) {
	for i := len(r.overrides) - 1; i >= 0; i-- {
		if r.overrides[i].Matches(t, name) {
			return r.overrides[i].Value, true
		}
	}
	return nil, false
}

// Get reads a value stored during this call.
func (r *RequestContext) Get(key any) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[key]
	return v, ok
}

// Set stores a value for the rest of this call.
func (r *RequestContext) Set(key, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items == nil {
		r.items = make(map[any]any)
	}
	r.items[key] = value
}
