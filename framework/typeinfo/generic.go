package typeinfo

import (
	"fmt"
	"reflect"
	"strings"
)

// Generic identifies a generic type definition independently of its type
// arguments: Repo[Order] and Repo[User] share the definition Repo. Pointer
// records whether the instantiation was requested through a pointer.
type Generic struct {
	PkgPath string
	Name    string
	Pointer bool
}

func (g Generic) String() string {
	s := g.PkgPath + "." + g.Name + "[...]"
	if g.Pointer {
		return "*" + s
	}
	return s
}

// GenericOf returns the generic definition of an instantiated type along with
// the textual type arguments reflect reports for it.
func GenericOf(t reflect.Type) (Generic, []string, bool) {
	if t == nil {
		return Generic{}, nil, false
	}
	ptr := false
	if t.Kind() == reflect.Pointer && t.Name() == "" {
		t, ptr = t.Elem(), true
	}
	name := t.Name()
	open := strings.IndexByte(name, '[')
	if open < 0 || !strings.HasSuffix(name, "]") {
		return Generic{}, nil, false
	}
	return Generic{PkgPath: t.PkgPath(), Name: name[:open], Pointer: ptr},
		splitArgs(name[open+1 : len(name)-1]), true
}

// DefinitionOf is GenericOf without the type arguments.
func DefinitionOf(t reflect.Type) (Generic, bool) {
	g, _, ok := GenericOf(t)
	return g, ok
}

// IsInstanceOf reports whether t instantiates the definition g.
func IsInstanceOf(t reflect.Type, g Generic) bool {
	d, ok := DefinitionOf(t)
	return ok && d == g
}

// splitArgs splits a type argument list on top-level commas.
func splitArgs(s string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '[', '(', '{':
			depth++
		case ']', ')', '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

// TypeArguments recovers the reflect.Type of each type argument of an
// instantiated generic type. reflect has no direct accessor for them, so the
// types reachable from t's fields, elements and method signatures are
// matched against the names reflect prints. Arguments that never appear in
// t's structure are returned as nil.
func TypeArguments(t reflect.Type) []reflect.Type {
	_, names, ok := GenericOf(t)
	if !ok {
		return nil
	}
	seen := map[string]reflect.Type{}
	collect(t, seen, 0)

	out := make([]reflect.Type, len(names))
	for i, n := range names {
		out[i] = seen[n]
	}
	return out
}

func collect(t reflect.Type, seen map[string]reflect.Type, depth int) {
	if t == nil || depth > 6 {
		return
	}
	name := QualifiedName(t)
	if _, ok := seen[name]; ok {
		return
	}
	seen[name] = t

	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Chan:
		collect(t.Elem(), seen, depth+1)
	case reflect.Map:
		collect(t.Key(), seen, depth+1)
		collect(t.Elem(), seen, depth+1)
	case reflect.Struct:
		for i := range t.NumField() {
			collect(t.Field(i).Type, seen, depth+1)
		}
	case reflect.Func:
		for i := range t.NumIn() {
			collect(t.In(i), seen, depth+1)
		}
		for i := range t.NumOut() {
			collect(t.Out(i), seen, depth+1)
		}
	}
	for i := range t.NumMethod() {
		collect(t.Method(i).Type, seen, depth+1)
	}
}

// QualifiedName renders t the way reflect spells type arguments: named types
// carry their full import path.
func QualifiedName(t reflect.Type) string {
	if t.Name() != "" {
		if t.PkgPath() == "" {
			return t.Name()
		}
		return t.PkgPath() + "." + t.Name()
	}
	switch t.Kind() {
	case reflect.Pointer:
		return "*" + QualifiedName(t.Elem())
	case reflect.Slice:
		return "[]" + QualifiedName(t.Elem())
	case reflect.Array:
		return fmt.Sprintf("[%d]%s", t.Len(), QualifiedName(t.Elem()))
	case reflect.Map:
		return "map[" + QualifiedName(t.Key()) + "]" + QualifiedName(t.Elem())
	case reflect.Chan:
		return "chan " + QualifiedName(t.Elem())
	}
	return t.String()
}

// ── Constraints ───────────────────────────────────────────────────────────────

// Constraint restricts the type arguments an open generic registration can
// be closed over.
type Constraint interface {
	Satisfied(arg reflect.Type) bool
	String() string
}

type kindConstraint struct {
	name string
	fn   func(reflect.Type) bool
}

func (c kindConstraint) Satisfied(arg reflect.Type) bool { return c.fn(arg) }
func (c kindConstraint) String() string                  { return c.name }

// ReferenceType accepts pointer, interface, map, slice, channel and func arguments.
var ReferenceType Constraint = kindConstraint{name: "reference", fn: isReference}

// ValueType accepts every argument ReferenceType rejects.
var ValueType Constraint = kindConstraint{name: "value", fn: func(t reflect.Type) bool { return !isReference(t) }}

// DefaultConstructible accepts structs and pointers to structs.
var DefaultConstructible Constraint = kindConstraint{name: "default-constructible", fn: func(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}}

type implementsConstraint struct{ iface reflect.Type }

func (c implementsConstraint) Satisfied(arg reflect.Type) bool {
	return arg.Implements(c.iface) || (arg.Kind() != reflect.Pointer && reflect.PointerTo(arg).Implements(c.iface))
}

func (c implementsConstraint) String() string { return "implements " + c.iface.String() }

// Implementing accepts arguments whose value or pointer implements iface.
func Implementing(iface reflect.Type) Constraint { return implementsConstraint{iface: iface} }

func isReference(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return true
	}
	return false
}

// SatisfiesConstraints checks every constrained type argument of closed.
// constraints is indexed by type parameter position. Arguments that cannot
// be recovered structurally are not checked.
func SatisfiesConstraints(closed reflect.Type, constraints map[int][]Constraint) bool {
	if len(constraints) == 0 {
		return true
	}
	args := TypeArguments(closed)
	for i, cs := range constraints {
		if i >= len(args) || args[i] == nil {
			continue
		}
		for _, c := range cs {
			if !c.Satisfied(args[i]) {
				return false
			}
		}
	}
	return true
}

// ── Assignability ─────────────────────────────────────────────────────────────

// Implements reports whether a value of impl can be handed out for service.
func Implements(impl, service reflect.Type) bool {
	if impl == nil || service == nil {
		return false
	}
	if service.Kind() == reflect.Interface {
		return impl.Implements(service)
	}
	return impl.AssignableTo(service)
}
