package core

import (
	"reflect"

	"github.com/km-arc/go-ioc/framework/typeinfo"
)

// Lazy defers construction of a T until it is first called. The result is
// memoised; a construction error is returned on every call.
type Lazy[T any] func() (T, error)

// Value invokes the lazy.
func (l Lazy[T]) Value() (T, error) { return l() }

// Metadata pairs a resolved service with the metadata it was registered with.
type Metadata[T, M any] struct {
	Service T
	Data    M
}

// KeyValue pairs a resolved service with the name it was registered under.
type KeyValue[K comparable, T any] struct {
	Key   K
	Value T
}

var (
	lazyDef, _     = typeinfo.DefinitionOf(reflect.TypeFor[Lazy[any]]())
	metadataDef, _ = typeinfo.DefinitionOf(reflect.TypeFor[Metadata[any, any]]())
	keyValueDef, _ = typeinfo.DefinitionOf(reflect.TypeFor[KeyValue[string, any]]())
)

// IsLazy reports whether t is an instantiation of Lazy.
func IsLazy(t reflect.Type) bool { return typeinfo.IsInstanceOf(t, lazyDef) }

// IsMetadata reports whether t is an instantiation of Metadata.
func IsMetadata(t reflect.Type) bool { return typeinfo.IsInstanceOf(t, metadataDef) }

// IsKeyValue reports whether t is an instantiation of KeyValue.
func IsKeyValue(t reflect.Type) bool { return typeinfo.IsInstanceOf(t, keyValueDef) }
