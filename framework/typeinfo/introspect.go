package typeinfo

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// TagName is the struct tag consulted for member injection.
const TagName = "ioc"

// Member is one injectable struct field.
type Member struct {
	Index []int
	Info  *Info
}

// Introspector enumerates the dependencies of an implementation.
type Introspector interface {
	// Params lists the parameters of a constructor function.
	Params(fn reflect.Type, parent *Info) []*Info
	// Members lists the tagged fields of a struct (or pointer to struct).
	Members(st reflect.Type, parent *Info) ([]Member, error)
}

// Reflector is the reflect-backed Introspector.
type Reflector struct {
	// NameAsDependency makes a field's name its dependency name unless the
	// tag sets one explicitly.
	NameAsDependency bool
}

var _ Introspector = Reflector{}

func (r Reflector) Params(fn reflect.Type, parent *Info) []*Info {
	out := make([]*Info, fn.NumIn())
	for i := range fn.NumIn() {
		out[i] = parent.Child(fn.In(i), "", "arg"+strconv.Itoa(i))
	}
	return out
}

func (r Reflector) Members(st reflect.Type, parent *Info) ([]Member, error) {
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() != reflect.Struct {
		return nil, nil
	}

	var out []Member
	for i := range st.NumField() {
		f := st.Field(i)
		tag, ok := f.Tag.Lookup(TagName)
		if !ok || tag == "-" {
			continue
		}
		if !f.IsExported() {
			return nil, fmt.Errorf("field %s.%s is tagged for injection but unexported", st, f.Name)
		}

		opts, err := ParseTag(tag)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", st, f.Name, err)
		}
		name := opts.Name
		if name == "" && r.NameAsDependency {
			name = f.Name
		}

		info := parent.Child(f.Type, name, f.Name)
		info.Optional = opts.Optional
		info.Markers = opts.Markers
		if opts.Default != nil {
			v, err := ParseDefault(f.Type, *opts.Default)
			if err != nil {
				return nil, fmt.Errorf("field %s.%s: %w", st, f.Name, err)
			}
			info.HasDefault, info.Default = true, v
		}
		out = append(out, Member{Index: f.Index, Info: info})
	}
	return out, nil
}

// HasMembers reports whether st declares any injectable field.
func HasMembers(st reflect.Type) bool {
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() != reflect.Struct {
		return false
	}
	for i := range st.NumField() {
		if tag, ok := st.Field(i).Tag.Lookup(TagName); ok && tag != "-" {
			return true
		}
	}
	return false
}

// ── Tags ──────────────────────────────────────────────────────────────────────

// TagOptions is the parsed form of an `ioc:"..."` tag.
type TagOptions struct {
	Name     string
	Optional bool
	Markers  []string
	Default  *string
}

// ParseTag parses name=<dep>,optional,marker=<m>,default=<v>. An empty tag
// injects by type alone.
func ParseTag(tag string) (TagOptions, error) {
	var opts TagOptions
	if strings.TrimSpace(tag) == "" {
		return opts, nil
	}
	for part := range strings.SplitSeq(tag, ",") {
		key, value, hasValue := strings.Cut(strings.TrimSpace(part), "=")
		switch key {
		case "name":
			opts.Name = value
		case "optional":
			opts.Optional = true
		case "marker":
			if value == "" {
				return opts, fmt.Errorf("empty marker in tag %q", tag)
			}
			opts.Markers = append(opts.Markers, value)
		case "default":
			if !hasValue {
				return opts, fmt.Errorf("default without value in tag %q", tag)
			}
			v := value
			opts.Default = &v
		case "":
		default:
			return opts, fmt.Errorf("unknown option %q in tag %q", key, tag)
		}
	}
	return opts, nil
}

// ParseDefault converts a textual default into a value of type t.
func ParseDefault(t reflect.Type, s string) (any, error) {
	v := reflect.New(t).Elem()
	if t == reflect.TypeFor[time.Duration]() {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, err
		}
		v.SetInt(int64(d))
		return v.Interface(), nil
	}
	switch t.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(s, 10, t.Bits())
		if err != nil {
			return nil, err
		}
		v.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(s, 10, t.Bits())
		if err != nil {
			return nil, err
		}
		v.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, t.Bits())
		if err != nil {
			return nil, err
		}
		v.SetFloat(f)
	default:
		return nil, fmt.Errorf("no textual default for %s", t)
	}
	return v.Interface(), nil
}
