package immutable

import "slices"

// ── Bucket ────────────────────────────────────────────────────────────────────

// Bucket is an immutable ordered sequence. Every mutation returns a new
// bucket with its own backing array; the receiver is never modified, so a
// bucket can be shared freely between goroutines once published.
type Bucket[V any] struct {
	items []V
}

// NewBucket creates a bucket holding a copy of items.
func NewBucket[V any](items ...V) Bucket[V] {
	return Bucket[V]{items: slices.Clone(items)}
}

// Len returns the number of items.
func (b Bucket[V]) Len() int { return len(b.items) }

// At returns the item at index i. It panics when i is out of range.
func (b Bucket[V]) At(i int) V { return b.items[i] }

// Last returns the final item, if any.
func (b Bucket[V]) Last() (V, bool) {
	if len(b.items) == 0 {
		var zero V
		return zero, false
	}
	return b.items[len(b.items)-1], true
}

// Items returns a copy of the underlying items.
func (b Bucket[V]) Items() []V { return slices.Clone(b.items) }

// Add returns a new bucket with v appended.
func (b Bucket[V]) Add(v V) Bucket[V] {
	out := make([]V, len(b.items)+1)
	copy(out, b.items)
	out[len(b.items)] = v
	return Bucket[V]{items: out}
}

// Insert returns a new bucket with v placed at index i. Indexes past the end
// are clamped so Insert(Len(), v) behaves like Add.
func (b Bucket[V]) Insert(i int, v V) Bucket[V] {
	i = max(0, min(i, len(b.items)))
	out := make([]V, 0, len(b.items)+1)
	out = append(out, b.items[:i]...)
	out = append(out, v)
	out = append(out, b.items[i:]...)
	return Bucket[V]{items: out}
}

// ReplaceAt returns a new bucket where the item at index i is v.
func (b Bucket[V]) ReplaceAt(i int, v V) Bucket[V] {
	out := slices.Clone(b.items)
	out[i] = v
	return Bucket[V]{items: out}
}

// IndexFunc returns the first index satisfying pred, or -1.
func (b Bucket[V]) IndexFunc(pred func(V) bool) int {
	return slices.IndexFunc(b.items, pred)
}

// ── KeyedBucket ───────────────────────────────────────────────────────────────

type entry[K comparable, V any] struct {
	key   K
	value V
}

// KeyedBucket is an immutable ordered sequence of key/value pairs. Keys are
// compared with ==, which is reference equality for pointer keys and value
// equality for everything else; GetFunc covers custom matching.
type KeyedBucket[K comparable, V any] struct {
	entries []entry[K, V]
}

// NewKeyedBucket creates a bucket with a single entry.
func NewKeyedBucket[K comparable, V any](key K, value V) KeyedBucket[K, V] {
	return KeyedBucket[K, V]{entries: []entry[K, V]{{key: key, value: value}}}
}

// Len returns the number of entries.
func (b KeyedBucket[K, V]) Len() int { return len(b.entries) }

// At returns the entry at index i.
func (b KeyedBucket[K, V]) At(i int) (K, V) {
	e := b.entries[i]
	return e.key, e.value
}

// Get returns the value of the first entry with key.
func (b KeyedBucket[K, V]) Get(key K) (V, bool) {
	if i := b.index(key); i >= 0 {
		return b.entries[i].value, true
	}
	var zero V
	return zero, false
}

// GetOrDefault returns the value stored under key or the zero value.
func (b KeyedBucket[K, V]) GetOrDefault(key K) V {
	v, _ := b.Get(key)
	return v
}

// GetFunc returns the value of the first entry whose key satisfies eq.
func (b KeyedBucket[K, V]) GetFunc(eq func(K) bool) (V, bool) {
	for _, e := range b.entries {
		if eq(e.key) {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// Values returns a copy of all values in order.
func (b KeyedBucket[K, V]) Values() []V {
	out := make([]V, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.value
	}
	return out
}

// Add returns a new bucket with the entry appended, even if key already exists.
func (b KeyedBucket[K, V]) Add(key K, value V) KeyedBucket[K, V] {
	out := make([]entry[K, V], len(b.entries)+1)
	copy(out, b.entries)
	out[len(b.entries)] = entry[K, V]{key: key, value: value}
	return KeyedBucket[K, V]{entries: out}
}

// AddOrUpdate appends a new entry, or replaces the value of the existing one
// in place. merge, when non-nil, computes the stored value from the old and
// the new one.
func (b KeyedBucket[K, V]) AddOrUpdate(key K, value V, merge func(old, new V) V) KeyedBucket[K, V] {
	if next, ok := b.ReplaceIfExists(key, value, merge); ok {
		return next
	}
	return b.Add(key, value)
}

// ReplaceIfExists replaces the value stored under key, keeping the slot's
// position. It reports false and returns the receiver when key is absent.
func (b KeyedBucket[K, V]) ReplaceIfExists(key K, value V, merge func(old, new V) V) (KeyedBucket[K, V], bool) {
	i := b.index(key)
	if i < 0 {
		return b, false
	}
	if merge != nil {
		value = merge(b.entries[i].value, value)
	}
	out := slices.Clone(b.entries)
	out[i] = entry[K, V]{key: key, value: value}
	return KeyedBucket[K, V]{entries: out}, true
}

// Remove drops the first entry with key.
func (b KeyedBucket[K, V]) Remove(key K) (KeyedBucket[K, V], bool) {
	i := b.index(key)
	if i < 0 {
		return b, false
	}
	return KeyedBucket[K, V]{entries: slices.Delete(slices.Clone(b.entries), i, i+1)}, true
}

func (b KeyedBucket[K, V]) index(key K) int {
	for i, e := range b.entries {
		if e.key == key {
			return i
		}
	}
	return -1
}
