package container

import (
	"reflect"

	"github.com/km-arc/go-ioc/framework/registration"
)

// ContextualBuilder implements the fluent contextual registration API: the
// registration it adds only answers dependencies of the given parent types.
//
//	c.When(reflect.TypeFor[*PhotoController]()).
//	    Needs(reflect.TypeFor[Filesystem]()).
//	    Give(NewS3Filesystem)
type ContextualBuilder struct {
	container *Container
	parents   []reflect.Type
	needs     reflect.Type
}

// When starts a contextual registration for dependencies of parents.
func (c *Container) When(parents ...reflect.Type) *ContextualBuilder {
	return &ContextualBuilder{container: c, parents: parents}
}

// Needs specifies which service the parent types depend on.
func (b *ContextualBuilder) Needs(service reflect.Type) *ContextualBuilder {
	b.needs = service
	return b
}

// Give registers impl, a constructor func or a struct type, as the service
// the parents receive.
func (b *ContextualBuilder) Give(impl any, opts ...registration.Option) error {
	return b.container.Register(b.needs, impl, append(b.conditions(), opts...)...)
}

// GiveValue is a shorthand for Give when the value is pre-built.
//
//	c.When(reflect.TypeFor[*PhotoController]()).
//	    Needs(reflect.TypeFor[StoragePath]()).
//	    GiveValue(StoragePath("/tmp/photos"))
func (b *ContextualBuilder) GiveValue(value any, opts ...registration.Option) error {
	return b.container.RegisterInstance(b.needs, value, append(b.conditions(), opts...)...)
}

func (b *ContextualBuilder) conditions() []registration.Option {
	opts := make([]registration.Option, 0, len(b.parents))
	for _, p := range b.parents {
		opts = append(opts, registration.WhenDependantIs(p))
	}
	return opts
}
