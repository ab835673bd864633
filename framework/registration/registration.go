package registration

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/km-arc/go-ioc/framework/core"
	"github.com/km-arc/go-ioc/framework/immutable"
	"github.com/km-arc/go-ioc/framework/lifetime"
	"github.com/km-arc/go-ioc/framework/typeinfo"
)

// Kind tells the activator how a registration produces instances.
type Kind uint8

const (
	// KindConstructor calls a function whose parameters are dependencies.
	KindConstructor Kind = iota
	// KindStruct allocates the implementation type and injects tagged fields.
	KindStruct
	// KindInstance hands out a pre-built value.
	KindInstance
	// KindFactory calls a func(core.Resolver) (any, error).
	KindFactory
)

func (k Kind) String() string {
	switch k {
	case KindConstructor:
		return "constructor"
	case KindStruct:
		return "struct"
	case KindInstance:
		return "instance"
	case KindFactory:
		return "factory"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// GenericFactory builds an instance of a closed generic type.
type GenericFactory func(closed reflect.Type, r core.Resolver) (any, error)

// Registration maps a requested service type onto something that can be
// built. It is immutable once it has been added to a Repository.
type Registration struct {
	// ID is unique and strictly increasing per container family; it is never
	// reused, not even by a replacement.
	ID uint64
	// Order is the enumeration position. A replacement inherits the Order
	// of the slot it replaces.
	Order uint64

	ServiceType reflect.Type
	ImplType    reflect.Type
	Name        string
	Lifetime    lifetime.Descriptor
	Kind        Kind

	Constructor reflect.Value
	Factory     core.Factory
	Instance    any

	Conditions Conditions
	Metadata   any

	IsDecorator bool

	OpenGeneric    bool
	Generic        typeinfo.Generic
	Constraints    map[int][]typeinfo.Constraint
	GenericFactory GenericFactory
	Promote        bool

	ReplaceExisting         bool
	ReplaceOnlyIfExists     bool
	WithoutDisposalTracking bool

	Initializer func(instance any, r core.Resolver) error
	Finalizer   func(instance any)

	derived *immutable.Atom[immutable.Tree[reflect.Type, *Registration]]
}

// Discriminator identifies the slot a registration occupies in its bucket:
// the name when set, otherwise the implementation type.
func (r *Registration) Discriminator() any {
	if r.Name != "" {
		return r.Name
	}
	return r.ImplType
}

// IsLifetimeManaged reports whether a lifetime applies to the output.
func (r *Registration) IsLifetimeManaged() bool {
	return r.Kind != KindInstance && !r.OpenGeneric
}

func (r *Registration) String() string {
	s := fmt.Sprintf("#%d %s -> %s (%s", r.ID, r.ServiceType, r.ImplType, r.Kind)
	if r.Name != "" {
		s += fmt.Sprintf(", name %q", r.Name)
	}
	if r.Lifetime != nil {
		s += ", " + r.Lifetime.Name()
	}
	return s + ")"
}

// ── Sequence ──────────────────────────────────────────────────────────────────

// Sequence hands out registration IDs. Child containers share the sequence
// of their parent so IDs stay unique across scope caches.
type Sequence struct {
	n atomic.Uint64
}

// Next returns the next ID.
func (s *Sequence) Next() uint64 { return s.n.Add(1) }

// ── Constructors ──────────────────────────────────────────────────────────────

var errorType = reflect.TypeFor[error]()

func invalid(service, impl reflect.Type, reason string) error {
	return &core.RegistrationError{Service: service, Impl: impl, Reason: reason, Err: core.ErrInvalidRegistration}
}

// FromConstructor registers fn, a func returning the service or
// (service, error). Its parameters are resolved as dependencies.
func FromConstructor(service reflect.Type, fn any) (*Registration, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, invalid(service, reflect.TypeOf(fn), "constructor must be a non-nil func")
	}
	ft := v.Type()
	if ft.NumOut() < 1 || ft.NumOut() > 2 || (ft.NumOut() == 2 && ft.Out(1) != errorType) {
		return nil, invalid(service, ft, "constructor must return T or (T, error)")
	}
	if !typeinfo.Implements(ft.Out(0), service) {
		return nil, invalid(service, ft.Out(0), "constructor result does not implement the service")
	}
	return &Registration{ServiceType: service, ImplType: ft.Out(0), Kind: KindConstructor, Constructor: v}, nil
}

// FromType registers a struct (or pointer to struct) implementation whose
// tagged fields are injected.
func FromType(service, impl reflect.Type) (*Registration, error) {
	st := impl
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() != reflect.Struct {
		return nil, invalid(service, impl, "implementation must be a struct or a pointer to one")
	}
	if !typeinfo.Implements(impl, service) {
		return nil, invalid(service, impl, "implementation does not implement the service")
	}
	return &Registration{ServiceType: service, ImplType: impl, Kind: KindStruct}, nil
}

// FromInstance registers a pre-built value.
func FromInstance(service reflect.Type, v any) (*Registration, error) {
	if v == nil {
		return nil, invalid(service, nil, "instance is nil")
	}
	it := reflect.TypeOf(v)
	if !typeinfo.Implements(it, service) {
		return nil, invalid(service, it, "instance does not implement the service")
	}
	return &Registration{ServiceType: service, ImplType: it, Kind: KindInstance, Instance: v}, nil
}

// FromFactory registers a factory function.
func FromFactory(service reflect.Type, f core.Factory) (*Registration, error) {
	if f == nil {
		return nil, invalid(service, nil, "factory is nil")
	}
	return &Registration{ServiceType: service, ImplType: service, Kind: KindFactory, Factory: f}, nil
}

// FromTemplate registers an open generic struct. sample is any
// instantiation of the generic type, e.g. reflect.TypeFor[*Repo[any]]();
// every request for another instantiation of it is built by allocating the
// requested type and injecting its tagged fields.
func FromTemplate(sample reflect.Type) (*Registration, error) {
	g, ok := typeinfo.DefinitionOf(sample)
	if !ok {
		return nil, invalid(sample, sample, "not an instantiated generic type")
	}
	st := sample
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() != reflect.Struct {
		return nil, invalid(sample, sample, "generic templates must be structs; use FromGenericFactory")
	}
	return newOpen(sample, g, KindStruct, nil), nil
}

// FromGenericFactory registers an open generic service produced by fn for
// every instantiation of sample's generic definition.
func FromGenericFactory(sample reflect.Type, fn GenericFactory) (*Registration, error) {
	g, ok := typeinfo.DefinitionOf(sample)
	if !ok {
		return nil, invalid(sample, sample, "not an instantiated generic type")
	}
	if fn == nil {
		return nil, invalid(sample, sample, "generic factory is nil")
	}
	return newOpen(sample, g, KindFactory, fn), nil
}

func newOpen(sample reflect.Type, g typeinfo.Generic, kind Kind, fn GenericFactory) *Registration {
	return &Registration{
		ServiceType:    sample,
		ImplType:       sample,
		Kind:           kind,
		OpenGeneric:    true,
		Generic:        g,
		GenericFactory: fn,
		derived:        immutable.NewAtom(immutable.Tree[reflect.Type, *Registration]{}),
	}
}

// Close specialises an open generic registration for closed. The closed
// registration is cached on the template so its ID, and with it any scoped
// or singleton instance, stays stable across requests; it is not written to
// any repository.
func (r *Registration) Close(closed reflect.Type, seq *Sequence) (*Registration, error) {
	if !r.OpenGeneric {
		return r, nil
	}
	if !typeinfo.IsInstanceOf(closed, r.Generic) {
		return nil, invalid(closed, r.ImplType, "requested type is not an instance of "+r.Generic.String())
	}
	if got, ok := r.derived.Load().Get(closed); ok {
		return got, nil
	}

	c := *r
	c.OpenGeneric = false
	c.derived = nil
	c.ServiceType, c.ImplType = closed, closed
	c.ID = seq.Next()
	if r.Kind == KindFactory {
		fn := r.GenericFactory
		c.Factory = func(res core.Resolver) (any, error) { return fn(closed, res) }
	}

	tree, _ := r.derived.Swap(func(old immutable.Tree[reflect.Type, *Registration]) (immutable.Tree[reflect.Type, *Registration], bool) {
		if _, ok := old.Get(closed); ok {
			return old, false
		}
		return old.AddOrUpdate(closed, &c, nil), true
	})
	return tree.GetOrDefault(closed), nil
}
