package typeinfo

import (
	"reflect"
	"slices"
	"strings"
)

// Info describes a single dependency request: the type being asked for, the
// dependency name, and where the request comes from.
type Info struct {
	Type       reflect.Type
	Name       string
	ParentType reflect.Type
	MemberName string
	Markers    []string
	Optional   bool
	HasDefault bool
	Default    any
	Parent     *Info
}

// Of creates a top-level request for t.
func Of(t reflect.Type, name string) *Info {
	return &Info{Type: t, Name: name}
}

// Child creates a request for a dependency of the service described by i.
func (i *Info) Child(t reflect.Type, name, member string) *Info {
	return &Info{Type: t, Name: name, ParentType: i.Type, MemberName: member, Parent: i}
}

// WithType returns a copy of i asking for t instead, keeping name and origin.
func (i *Info) WithType(t reflect.Type) *Info {
	c := *i
	c.Type = t
	return &c
}

// WithName returns a copy of i with a different dependency name.
func (i *Info) WithName(name string) *Info {
	c := *i
	c.Name = name
	return &c
}

// HasMarker reports whether the requesting member carries marker m.
func (i *Info) HasMarker(m string) bool { return slices.Contains(i.Markers, m) }

// Path renders the request chain from the outermost service down to i.
func (i *Info) Path() string {
	var parts []string
	for cur := i; cur != nil; cur = cur.Parent {
		part := cur.Type.String()
		if cur.MemberName != "" {
			part = cur.MemberName + " " + part
		}
		parts = append(parts, part)
	}
	slices.Reverse(parts)
	return strings.Join(parts, " -> ")
}

// Depth returns the number of services above i.
func (i *Info) Depth() int {
	d := 0
	for cur := i.Parent; cur != nil; cur = cur.Parent {
		d++
	}
	return d
}
