package scope

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/km-arc/go-ioc/framework/core"
	"github.com/km-arc/go-ioc/framework/immutable"
)

// Engine answers the resolve calls made on a scope. The container
// implements it; s is the scope the call was made on.
type Engine interface {
	Resolve(s core.Scope, t reflect.Type, req core.Request) (any, error)
	ResolveOrDefault(s core.Scope, t reflect.Type, req core.Request) (any, error)
	ResolveAll(s core.Scope, t reflect.Type, req core.Request) ([]any, error)
	CanResolve(s core.Scope, t reflect.Type, req core.Request) bool
}

// Observer is told when scopes open and close.
type Observer interface {
	ScopeOpened()
	ScopeClosed()
}

// Option configures a root scope. Child scopes inherit it.
type Option func(*Scope)

// WithLogger logs disposal failures to log.
func WithLogger(log *zap.Logger) Option {
	return func(s *Scope) { s.log = log }
}

// WithObserver reports scope lifecycle events to o.
func WithObserver(o Observer) Option {
	return func(s *Scope) { s.observer = o }
}

type entry struct {
	once  sync.Once
	value any
	err   error
}

type putValues = immutable.KeyedBucket[string, any]

// Scope owns the scoped instances and the disposables created inside it.
// Lookups and inserts go through atomic swaps of persistent trees; only the
// disposal list takes a lock.
type Scope struct {
	id       string
	name     string
	parent   *Scope
	engine   Engine
	log      *zap.Logger
	observer Observer

	instances *immutable.Atom[immutable.Tree[uint64, *entry]]
	values    *immutable.Atom[immutable.Tree[reflect.Type, putValues]]
	hasValues atomic.Bool

	mu          sync.Mutex
	disposables []any
	disposed    atomic.Bool
}

var _ core.Scope = (*Scope)(nil)

// NewRoot creates the root scope of a container.
func NewRoot(engine Engine, opts ...Option) *Scope {
	s := &Scope{engine: engine, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.init()
	return s
}

func (s *Scope) init() {
	s.id = uuid.NewString()
	s.instances = immutable.NewAtom(immutable.Tree[uint64, *entry]{})
	s.values = immutable.NewAtom(immutable.Tree[reflect.Type, putValues]{})
	if s.observer != nil {
		s.observer.ScopeOpened()
	}
}

func (s *Scope) ID() string   { return s.id }
func (s *Scope) Name() string { return s.name }
func (s *Scope) IsRoot() bool { return s.parent == nil }

// ParentScope returns the enclosing scope, or nil for a root scope.
func (s *Scope) ParentScope() core.Scope {
	if s.parent == nil {
		return nil
	}
	return s.parent
}

// Root returns the root of the scope tree.
func (s *Scope) Root() *Scope {
	cur := s
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// IsDisposed reports whether Dispose has been called.
func (s *Scope) IsDisposed() bool { return s.disposed.Load() }

// BeginScope opens a child scope. An empty name opens an anonymous one.
func (s *Scope) BeginScope(name string) core.Scope { return s.Begin(name) }

// Begin is BeginScope returning the concrete type.
func (s *Scope) Begin(name string) *Scope {
	child := &Scope{
		name:     name,
		parent:   s,
		engine:   s.engine,
		log:      s.log,
		observer: s.observer,
	}
	child.init()
	return child
}

// NamedScope walks up from s to the nearest scope called name.
func (s *Scope) NamedScope(name string) (core.Scope, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.name == name {
			return cur, true
		}
	}
	return nil, false
}

// Names lists the names of s and its ancestors, innermost first.
func (s *Scope) Names() []string {
	var out []string
	for cur := s; cur != nil; cur = cur.parent {
		if cur.name != "" {
			out = append(out, cur.name)
		}
	}
	return out
}

// ── Scoped instances ──────────────────────────────────────────────────────────

// GetOrAddScoped returns the instance stored under key, building it on
// first use. Concurrent callers for the same key wait for a single build. A
// failed build is not cached.
func (s *Scope) GetOrAddScoped(key uint64, build func() (any, error)) (any, error) {
	if s.disposed.Load() {
		return nil, s.disposedError()
	}
	tree, _ := s.instances.Swap(func(old immutable.Tree[uint64, *entry]) (immutable.Tree[uint64, *entry], bool) {
		if _, ok := old.Get(key); ok {
			return old, false
		}
		return old.AddOrUpdate(key, &entry{}, nil), true
	})
	e := tree.GetOrDefault(key)
	e.once.Do(func() { e.value, e.err = build() })
	if e.err != nil {
		s.instances.Swap(func(old immutable.Tree[uint64, *entry]) (immutable.Tree[uint64, *entry], bool) {
			if cur, ok := old.Get(key); !ok || cur != e {
				return old, false
			}
			return old.Remove(key)
		})
		return nil, e.err
	}
	return e.value, nil
}

// PutInstance stores v in this scope as the answer to requests for t under
// name. Put values take precedence over registrations for requests made in
// this scope or its children.
func (s *Scope) PutInstance(t reflect.Type, name string, v any, track bool) error {
	if s.disposed.Load() {
		return s.disposedError()
	}
	if v == nil || !reflect.TypeOf(v).AssignableTo(t) {
		return &core.RegistrationError{Service: t, Impl: reflect.TypeOf(v), Name: name,
			Reason: "value does not implement the service", Err: core.ErrInvalidRegistration}
	}
	s.values.Swap(func(old immutable.Tree[reflect.Type, putValues]) (immutable.Tree[reflect.Type, putValues], bool) {
		b, ok := old.Get(t)
		if !ok {
			return old.AddOrUpdate(t, immutable.NewKeyedBucket[string, any](name, v), nil), true
		}
		return old.AddOrUpdate(t, b.AddOrUpdate(name, v, nil), nil), true
	})
	s.hasValues.Store(true)
	if track {
		s.TrackDisposable(v)
	}
	return nil
}

// ScopedInstance finds a value put into s or one of its ancestors.
func (s *Scope) ScopedInstance(t reflect.Type, name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if !cur.hasValues.Load() {
			continue
		}
		if v, ok := cur.values.Load().GetOrDefault(t).Get(name); ok {
			return v, true
		}
	}
	return nil, false
}

// HasScopedInstances reports whether s or an ancestor holds put values.
func (s *Scope) HasScopedInstances() bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.hasValues.Load() {
			return true
		}
	}
	return false
}

// ── Disposal ──────────────────────────────────────────────────────────────────

// TrackDisposable registers v for disposal with s. Values that are neither
// core.Disposable nor io.Closer are ignored.
func (s *Scope) TrackDisposable(v any) {
	if !core.IsDisposable(v) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposables = append(s.disposables, v)
}

// Dispose releases every tracked value in reverse creation order and
// forgets the scoped instances. Every failure is reported; the first call
// wins and later calls return nil.
func (s *Scope) Dispose() error {
	if !s.disposed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	tracked := s.disposables
	s.disposables = nil
	s.mu.Unlock()

	var err error
	for _, v := range slices.Backward(tracked) {
		if derr := core.DisposeValue(v); derr != nil {
			s.log.Warn("dispose failed",
				zap.String("scope", s.id),
				zap.String("type", fmt.Sprintf("%T", v)),
				zap.Error(derr))
			err = multierr.Append(err, derr)
		}
	}
	s.instances.Store(immutable.Tree[uint64, *entry]{})
	s.values.Store(immutable.Tree[reflect.Type, putValues]{})
	s.hasValues.Store(false)
	if s.observer != nil {
		s.observer.ScopeClosed()
	}
	return err
}

func (s *Scope) disposedError() error {
	return fmt.Errorf("%w: %s", core.ErrScopeDisposed, s.describe())
}

func (s *Scope) describe() string {
	if s.name != "" {
		return fmt.Sprintf("%q (%s)", s.name, s.id)
	}
	return s.id
}

// ── Resolver ──────────────────────────────────────────────────────────────────

func (s *Scope) Resolve(t reflect.Type, opts ...core.ResolveOption) (any, error) {
	if s.disposed.Load() {
		return nil, s.disposedError()
	}
	return s.engine.Resolve(s, t, core.NewRequest(opts...))
}

func (s *Scope) ResolveOrDefault(t reflect.Type, opts ...core.ResolveOption) (any, error) {
	if s.disposed.Load() {
		return nil, s.disposedError()
	}
	return s.engine.ResolveOrDefault(s, t, core.NewRequest(opts...))
}

func (s *Scope) ResolveAll(t reflect.Type, opts ...core.ResolveOption) ([]any, error) {
	if s.disposed.Load() {
		return nil, s.disposedError()
	}
	return s.engine.ResolveAll(s, t, core.NewRequest(opts...))
}

func (s *Scope) CanResolve(t reflect.Type, opts ...core.ResolveOption) bool {
	if s.disposed.Load() {
		return false
	}
	return s.engine.CanResolve(s, t, core.NewRequest(opts...))
}
