package core

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ── Sentinel errors ───────────────────────────────────────────────────────────

var (
	ErrUnresolvable          = errors.New("ioc: unresolvable dependency")
	ErrInvalidRegistration   = errors.New("ioc: invalid registration")
	ErrLifetimeValidation    = errors.New("ioc: lifetime validation failed")
	ErrDuplicateRegistration = errors.New("ioc: duplicate registration")
	ErrCircularDependency    = errors.New("ioc: circular dependency")
	ErrScopeDisposed         = errors.New("ioc: scope disposed")
	ErrContainerDisposed     = errors.New("ioc: container disposed")
)

// ── Typed errors ──────────────────────────────────────────────────────────────

// ResolutionError reports a request that could not be satisfied. Path names
// the chain of services and members that led to the failing dependency.
type ResolutionError struct {
	Type   reflect.Type
	Name   string
	Path   string
	Reason string
	Err    error
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v: %s", e.Err, typeName(e.Type))
	if e.Name != "" {
		fmt.Fprintf(&b, " (name %q)", e.Name)
	}
	if e.Path != "" && strings.Contains(e.Path, "->") {
		fmt.Fprintf(&b, " via %s", e.Path)
	}
	if e.Reason != "" {
		b.WriteString(": " + e.Reason)
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// RegistrationError reports a register or remap call that was rejected.
type RegistrationError struct {
	Service reflect.Type
	Impl    reflect.Type
	Name    string
	Reason  string
	Err     error
}

func (e *RegistrationError) Error() string {
	s := fmt.Sprintf("%v: %s", e.Err, typeName(e.Service))
	if e.Impl != nil {
		s += " -> " + e.Impl.String()
	}
	if e.Name != "" {
		s += fmt.Sprintf(" (name %q)", e.Name)
	}
	if e.Reason != "" {
		s += ": " + e.Reason
	}
	return s
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// LifetimeError reports a lifetime policy violation found while building a plan.
type LifetimeError struct {
	Type     reflect.Type
	Lifetime string
	Path     string
	Reason   string
}

func (e *LifetimeError) Error() string {
	return fmt.Sprintf("%v: %s service %s: %s", ErrLifetimeValidation, e.Lifetime, typeName(e.Type), e.Reason)
}

func (e *LifetimeError) Unwrap() error { return ErrLifetimeValidation }

// CycleError reports a constructor graph that refers back to itself.
type CycleError struct {
	Path string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCircularDependency, e.Path)
}

func (e *CycleError) Unwrap() error { return ErrCircularDependency }

// IsUnresolvable reports whether err means "nothing could satisfy the request".
func IsUnresolvable(err error) bool { return errors.Is(err, ErrUnresolvable) }

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
