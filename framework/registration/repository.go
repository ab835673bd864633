package registration

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/km-arc/go-ioc/framework/core"
	"github.com/km-arc/go-ioc/framework/immutable"
	"github.com/km-arc/go-ioc/framework/typeinfo"
)

// ── Conflict policy ───────────────────────────────────────────────────────────

// ConflictPolicy decides what happens when a registration lands on an
// occupied slot (same service type and discriminator).
type ConflictPolicy uint8

const (
	// SkipDuplicates keeps the existing registration.
	SkipDuplicates ConflictPolicy = iota
	// ThrowOnDuplicate rejects the new registration.
	ThrowOnDuplicate
	// ReplaceExistingPolicy swaps the new registration into the existing slot.
	ReplaceExistingPolicy
	// PreserveBoth keeps the existing registration and appends the new one.
	PreserveBoth
)

func (p ConflictPolicy) String() string {
	switch p {
	case SkipDuplicates:
		return "skip"
	case ThrowOnDuplicate:
		return "throw"
	case ReplaceExistingPolicy:
		return "replace"
	case PreserveBoth:
		return "preserve"
	}
	return fmt.Sprintf("ConflictPolicy(%d)", uint8(p))
}

// ParsePolicy maps a configuration value onto a policy.
func ParsePolicy(s string) (ConflictPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return SkipDuplicates, nil
	case "throw":
		return ThrowOnDuplicate, nil
	case "replace":
		return ReplaceExistingPolicy, nil
	case "preserve":
		return PreserveBoth, nil
	}
	return 0, fmt.Errorf("registration: unknown conflict policy %q", s)
}

// ── Repository ────────────────────────────────────────────────────────────────

type bucket = immutable.KeyedBucket[any, *Registration]

// Repository maps service types to ordered buckets of registrations.
// Closed types and open generic definitions live in separate trees. Both
// are published through atomic swaps, so lookups never block.
type Repository struct {
	policy ConflictPolicy
	closed *immutable.Atom[immutable.Tree[reflect.Type, bucket]]
	open   *immutable.Atom[immutable.Tree[typeinfo.Generic, bucket]]
}

// NewRepository creates an empty repository.
func NewRepository(policy ConflictPolicy) *Repository {
	return &Repository{
		policy: policy,
		closed: immutable.NewAtom(immutable.Tree[reflect.Type, bucket]{}),
		open:   immutable.NewAtom(immutable.Tree[typeinfo.Generic, bucket]{}),
	}
}

// Policy returns the conflict policy.
func (r *Repository) Policy() ConflictPolicy { return r.policy }

// AddOrUpdate stores reg under its service type, honouring the conflict
// policy and the registration's replace flags. It reports whether the
// repository changed.
func (r *Repository) AddOrUpdate(reg *Registration) (bool, error) {
	if reg.OpenGeneric {
		return addOrUpdate(r.open, reg.Generic, reg, r.policy)
	}
	return addOrUpdate(r.closed, reg.ServiceType, reg, r.policy)
}

func addOrUpdate[K comparable](atom *immutable.Atom[immutable.Tree[K, bucket]], key K, reg *Registration, policy ConflictPolicy) (bool, error) {
	var conflict error
	_, changed := atom.Swap(func(tree immutable.Tree[K, bucket]) (immutable.Tree[K, bucket], bool) {
		conflict = nil
		disc := reg.Discriminator()
		b, found := tree.Get(key)
		var existing *Registration
		if found {
			existing, _ = b.Get(disc)
		}

		replace := func() (immutable.Tree[K, bucket], bool) {
			c := *reg
			c.Order = existing.Order
			next, _ := b.ReplaceIfExists(disc, &c, nil)
			return tree.AddOrUpdate(key, next, nil), true
		}

		switch {
		case reg.ReplaceOnlyIfExists:
			if existing == nil {
				return tree, false
			}
			return replace()
		case existing == nil:
			if !found {
				return tree.AddOrUpdate(key, immutable.NewKeyedBucket[any](disc, reg), nil), true
			}
			return tree.AddOrUpdate(key, b.Add(disc, reg), nil), true
		case reg.ReplaceExisting || policy == ReplaceExistingPolicy:
			return replace()
		case policy == ThrowOnDuplicate:
			conflict = &core.RegistrationError{
				Service: reg.ServiceType,
				Impl:    reg.ImplType,
				Name:    reg.Name,
				Reason:  "slot already taken by " + existing.String(),
				Err:     core.ErrDuplicateRegistration,
			}
			return tree, false
		case policy == PreserveBoth:
			return tree.AddOrUpdate(key, b.Add(disc, reg), nil), true
		}
		return tree, false
	})
	return changed, conflict
}

// AddOrRemap replaces every registration of reg's service type with reg.
// When onlyIfExists is set and nothing is registered for the type, the
// repository is left alone and false is returned.
func (r *Repository) AddOrRemap(reg *Registration, onlyIfExists bool) bool {
	if reg.OpenGeneric {
		return remap(r.open, reg.Generic, reg, onlyIfExists)
	}
	return remap(r.closed, reg.ServiceType, reg, onlyIfExists)
}

func remap[K comparable](atom *immutable.Atom[immutable.Tree[K, bucket]], key K, reg *Registration, onlyIfExists bool) bool {
	_, changed := atom.Swap(func(tree immutable.Tree[K, bucket]) (immutable.Tree[K, bucket], bool) {
		if _, found := tree.Get(key); onlyIfExists && !found {
			return tree, false
		}
		return tree.AddOrUpdate(key, immutable.NewKeyedBucket[any](reg.Discriminator(), reg), nil), true
	})
	return changed
}

// Contains reports whether t has a registration, named name when name is set.
func (r *Repository) Contains(t reflect.Type, name string) bool {
	for _, reg := range r.candidates(t) {
		if name == "" || reg.Name == name {
			return true
		}
	}
	return false
}

// ForType returns every registration stored for t, open generic templates
// matching t last.
func (r *Repository) ForType(t reflect.Type) []*Registration {
	return r.candidates(t)
}

// BestMatch selects the eligible registration with the highest weight, ties
// going to the most recent ID. Direct registrations of t are preferred over
// open generic templates.
func (r *Repository) BestMatch(info *typeinfo.Info, ctx Context, rules []Rule) *Registration {
	if best := bestOf(r.closed.Load().GetOrDefault(info.Type).Values(), info, ctx, rules); best != nil {
		return best
	}
	return bestOf(r.openFor(info.Type), info, ctx, rules)
}

func bestOf(regs []*Registration, info *typeinfo.Info, ctx Context, rules []Rule) *Registration {
	var (
		best   *Registration
		weight = -1
	)
	for _, reg := range regs {
		w := score(info, reg, ctx, rules)
		if w < 0 {
			continue
		}
		if w > weight || (w == weight && reg.ID > best.ID) {
			best, weight = reg, w
		}
	}
	return best
}

// AllMatches returns every eligible registration in ascending Order (which
// is the ID of the slot's first occupant), open generic templates last.
func (r *Repository) AllMatches(info *typeinfo.Info, ctx Context, rules []Rule) []*Registration {
	direct := filter(r.closed.Load().GetOrDefault(info.Type).Values(), info, ctx, rules)
	open := filter(r.openFor(info.Type), info, ctx, rules)
	return append(direct, open...)
}

func filter(regs []*Registration, info *typeinfo.Info, ctx Context, rules []Rule) []*Registration {
	out := regs[:0:0]
	for _, reg := range regs {
		if score(info, reg, ctx, rules) >= 0 {
			out = append(out, reg)
		}
	}
	slices.SortStableFunc(out, func(a, b *Registration) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// All lists every registration ordered by ID.
func (r *Repository) All() []*Registration {
	var out []*Registration
	for _, b := range r.closed.Load().All() {
		out = append(out, b.Values()...)
	}
	for _, b := range r.open.Load().All() {
		out = append(out, b.Values()...)
	}
	slices.SortStableFunc(out, func(a, b *Registration) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Len counts the registrations held.
func (r *Repository) Len() int {
	n := 0
	for _, b := range r.closed.Load().All() {
		n += b.Len()
	}
	for _, b := range r.open.Load().All() {
		n += b.Len()
	}
	return n
}

func (r *Repository) candidates(t reflect.Type) []*Registration {
	return append(r.closed.Load().GetOrDefault(t).Values(), r.openFor(t)...)
}

func (r *Repository) openFor(t reflect.Type) []*Registration {
	g, ok := typeinfo.DefinitionOf(t)
	if !ok {
		return nil
	}
	return r.open.Load().GetOrDefault(g).Values()
}
