package immutable

import (
	"hash/maphash"
	"iter"
)

var seed = maphash.MakeSeed()

// Tree is a persistent AVL tree ordered by a 64-bit hash of its keys.
//
// Keys whose hashes collide share one node and are told apart with ==, so
// two distinct keys are always retrievable independently. Every mutation
// returns a new Tree that shares all untouched subtrees with the receiver.
// The zero value is an empty tree hashing with hash/maphash.
type Tree[K comparable, V any] struct {
	root *node[K, V]
	hash func(K) uint64
	size int
}

type pair[K comparable, V any] struct {
	key   K
	value V
}

type node[K comparable, V any] struct {
	hash   uint64
	key    K
	value  V
	extra  []pair[K, V]
	height int
	left   *node[K, V]
	right  *node[K, V]
}

// NewTree returns an empty tree using hash for key ordering. A nil hash
// selects maphash.Comparable.
func NewTree[K comparable, V any](hash func(K) uint64) Tree[K, V] {
	return Tree[K, V]{hash: hash}
}

// Len returns the number of keys.
func (t Tree[K, V]) Len() int { return t.size }

// IsEmpty reports whether the tree holds no keys.
func (t Tree[K, V]) IsEmpty() bool { return t.size == 0 }

// Get looks up key.
func (t Tree[K, V]) Get(key K) (V, bool) {
	h := t.hashOf(key)
	n := t.root
	for n != nil {
		switch {
		case h < n.hash:
			n = n.left
		case h > n.hash:
			n = n.right
		default:
			if n.key == key {
				return n.value, true
			}
			for _, p := range n.extra {
				if p.key == key {
					return p.value, true
				}
			}
			var zero V
			return zero, false
		}
	}
	var zero V
	return zero, false
}

// GetOrDefault returns the value stored under key, or the zero value.
func (t Tree[K, V]) GetOrDefault(key K) V {
	v, _ := t.Get(key)
	return v
}

// AddOrUpdate stores value under key. When key exists and merge is non-nil
// the stored value becomes merge(old, value).
func (t Tree[K, V]) AddOrUpdate(key K, value V, merge func(old, new V) V) Tree[K, V] {
	root, added := t.root.add(t.hashOf(key), key, value, merge)
	size := t.size
	if added {
		size++
	}
	return Tree[K, V]{root: root, hash: t.hash, size: size}
}

// UpdateIfExists replaces the value under key with fn(old). The receiver is
// returned unchanged, with false, when key is absent.
func (t Tree[K, V]) UpdateIfExists(key K, fn func(old V) V) (Tree[K, V], bool) {
	root, ok := t.root.update(t.hashOf(key), key, fn)
	if !ok {
		return t, false
	}
	return Tree[K, V]{root: root, hash: t.hash, size: t.size}, true
}

// Remove deletes key.
func (t Tree[K, V]) Remove(key K) (Tree[K, V], bool) {
	root, ok := t.root.remove(t.hashOf(key), key)
	if !ok {
		return t, false
	}
	return Tree[K, V]{root: root, hash: t.hash, size: t.size - 1}, true
}

// All iterates keys in hash order.
func (t Tree[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		t.root.walk(yield)
	}
}

func (t Tree[K, V]) hashOf(key K) uint64 {
	if t.hash != nil {
		return t.hash(key)
	}
	return maphash.Comparable(seed, key)
}

// ── node operations ───────────────────────────────────────────────────────────

func (n *node[K, V]) h() int {
	if n == nil {
		return 0
	}
	return n.height
}

// with copies n with new children and a recomputed height.
func (n *node[K, V]) with(left, right *node[K, V]) *node[K, V] {
	c := *n
	c.left, c.right = left, right
	c.height = max(left.h(), right.h()) + 1
	return &c
}

func (n *node[K, V]) add(hash uint64, key K, value V, merge func(old, new V) V) (*node[K, V], bool) {
	if n == nil {
		return &node[K, V]{hash: hash, key: key, value: value, height: 1}, true
	}
	switch {
	case hash < n.hash:
		left, added := n.left.add(hash, key, value, merge)
		return n.with(left, n.right).balance(), added
	case hash > n.hash:
		right, added := n.right.add(hash, key, value, merge)
		return n.with(n.left, right).balance(), added
	}

	c := *n
	if n.key == key {
		if merge != nil {
			value = merge(n.value, value)
		}
		c.value = value
		return &c, false
	}
	for i, p := range n.extra {
		if p.key == key {
			if merge != nil {
				value = merge(p.value, value)
			}
			c.extra = append([]pair[K, V](nil), n.extra...)
			c.extra[i] = pair[K, V]{key: key, value: value}
			return &c, false
		}
	}
	c.extra = append(append([]pair[K, V](nil), n.extra...), pair[K, V]{key: key, value: value})
	return &c, true
}

func (n *node[K, V]) update(hash uint64, key K, fn func(V) V) (*node[K, V], bool) {
	if n == nil {
		return nil, false
	}
	switch {
	case hash < n.hash:
		left, ok := n.left.update(hash, key, fn)
		if !ok {
			return n, false
		}
		return n.with(left, n.right), true
	case hash > n.hash:
		right, ok := n.right.update(hash, key, fn)
		if !ok {
			return n, false
		}
		return n.with(n.left, right), true
	}

	c := *n
	if n.key == key {
		c.value = fn(n.value)
		return &c, true
	}
	for i, p := range n.extra {
		if p.key == key {
			c.extra = append([]pair[K, V](nil), n.extra...)
			c.extra[i] = pair[K, V]{key: key, value: fn(p.value)}
			return &c, true
		}
	}
	return n, false
}

func (n *node[K, V]) remove(hash uint64, key K) (*node[K, V], bool) {
	if n == nil {
		return nil, false
	}
	switch {
	case hash < n.hash:
		left, ok := n.left.remove(hash, key)
		if !ok {
			return n, false
		}
		return n.with(left, n.right).balance(), true
	case hash > n.hash:
		right, ok := n.right.remove(hash, key)
		if !ok {
			return n, false
		}
		return n.with(n.left, right).balance(), true
	}

	if n.key != key {
		for i, p := range n.extra {
			if p.key == key {
				c := *n
				c.extra = append(append([]pair[K, V](nil), n.extra[:i]...), n.extra[i+1:]...)
				return &c, true
			}
		}
		return n, false
	}

	// Promote a colliding key into the slot before unlinking the node.
	if len(n.extra) > 0 {
		c := *n
		c.key, c.value = n.extra[0].key, n.extra[0].value
		c.extra = append([]pair[K, V](nil), n.extra[1:]...)
		return &c, true
	}
	switch {
	case n.left == nil:
		return n.right, true
	case n.right == nil:
		return n.left, true
	}
	succ := n.right
	for succ.left != nil {
		succ = succ.left
	}
	return succ.with(n.left, n.right.removeMin()).balance(), true
}

func (n *node[K, V]) removeMin() *node[K, V] {
	if n.left == nil {
		return n.right
	}
	return n.with(n.left.removeMin(), n.right).balance()
}

func (n *node[K, V]) balance() *node[K, V] {
	switch diff := n.left.h() - n.right.h(); {
	case diff > 1:
		left := n.left
		if left.left.h() < left.right.h() {
			left = left.rotateLeft()
		}
		return n.with(left, n.right).rotateRight()
	case diff < -1:
		right := n.right
		if right.right.h() < right.left.h() {
			right = right.rotateRight()
		}
		return n.with(n.left, right).rotateLeft()
	}
	return n
}

func (n *node[K, V]) rotateRight() *node[K, V] {
	l := n.left
	return l.with(l.left, n.with(l.right, n.right))
}

func (n *node[K, V]) rotateLeft() *node[K, V] {
	r := n.right
	return r.with(n.with(n.left, r.left), r.right)
}

func (n *node[K, V]) walk(yield func(K, V) bool) bool {
	if n == nil {
		return true
	}
	if !n.left.walk(yield) {
		return false
	}
	if !yield(n.key, n.value) {
		return false
	}
	for _, p := range n.extra {
		if !yield(p.key, p.value) {
			return false
		}
	}
	return n.right.walk(yield)
}
