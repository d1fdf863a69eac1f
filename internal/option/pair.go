// Package option holds the typed (option, value) pairs that configure transfer handles.
package option

// Setting is anything a handle can apply: a key plus an untyped value.
type Setting[K comparable] interface {
	Key() K
	Any() any
}

// Pair is an immutable (option, value) tuple.
type Pair[K comparable, V any] struct {
	key   K
	value V
}

// New builds a pair.
func New[K comparable, V any](key K, value V) Pair[K, V] {
	return Pair[K, V]{key: key, value: value}
}

func (p Pair[K, V]) Key() K {
	return p.key
}

func (p Pair[K, V]) Value() V {
	return p.value
}

func (p Pair[K, V]) Any() any {
	return p.value
}
