// Package store provides an in-memory collection with secondary indexes.
package store

import (
	"sort"
)

// KeyFunc extracts an index key from an item. Items for which ok is false
// are left out of that index.
type KeyFunc[T any] func(item T) (key string, ok bool)

// Indexed keeps items in insertion order and maintains named indexes over
// them. It is meant to be embedded by typed collections.
type Indexed[T any] struct {
	items   []T
	keyFns  map[string]KeyFunc[T]
	indexes map[string]map[string][]int
}

func NewIndexed[T any]() *Indexed[T] {
	return &Indexed[T]{
		keyFns:  make(map[string]KeyFunc[T]),
		indexes: make(map[string]map[string][]int),
	}
}

// AddIndex registers an index and builds it over the existing items.
func (c *Indexed[T]) AddIndex(name string, fn KeyFunc[T]) {
	c.keyFns[name] = fn
	c.indexes[name] = make(map[string][]int)
	for i, item := range c.items {
		c.indexOne(name, fn, i, item)
	}
}

func (c *Indexed[T]) indexOne(name string, fn KeyFunc[T], pos int, item T) {
	if key, ok := fn(item); ok {
		c.indexes[name][key] = append(c.indexes[name][key], pos)
	}
}

func (c *Indexed[T]) rebuild() {
	for name, fn := range c.keyFns {
		c.indexes[name] = make(map[string][]int)
		for i, item := range c.items {
			c.indexOne(name, fn, i, item)
		}
	}
}

// Insert appends item and indexes it.
func (c *Indexed[T]) Insert(item T) {
	pos := len(c.items)
	c.items = append(c.items, item)
	for name, fn := range c.keyFns {
		c.indexOne(name, fn, pos, item)
	}
}

// Remove deletes every item matched and returns how many were removed.
func (c *Indexed[T]) Remove(match func(T) bool) int {
	kept := c.items[:0]
	removed := 0
	for _, item := range c.items {
		if match(item) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	var zero T
	for i := len(kept); i < len(c.items); i++ {
		c.items[i] = zero
	}
	c.items = kept
	if removed > 0 {
		c.rebuild()
	}
	return removed
}

// Select returns the items whose index key equals key, in insertion order.
func (c *Indexed[T]) Select(index, key string) []T {
	positions := c.indexes[index][key]
	out := make([]T, 0, len(positions))
	for _, p := range positions {
		out = append(out, c.items[p])
	}
	return out
}

// Count is len(Select(index, key)) without the copy.
func (c *Indexed[T]) Count(index, key string) int {
	return len(c.indexes[index][key])
}

// Keys returns the distinct keys of an index.
func (c *Indexed[T]) Keys(index string) []string {
	keys := make([]string, 0, len(c.indexes[index]))
	for k := range c.indexes[index] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// All returns a copy of the items in insertion order.
func (c *Indexed[T]) All() []T {
	return append([]T(nil), c.items...)
}

func (c *Indexed[T]) Len() int {
	return len(c.items)
}

// Each calls fn for every item until fn returns false.
func (c *Indexed[T]) Each(fn func(T) bool) {
	for _, item := range c.items {
		if !fn(item) {
			return
		}
	}
}

// Sort reorders the items stably and rebuilds the indexes.
func (c *Indexed[T]) Sort(less func(a, b T) bool) {
	sort.SliceStable(c.items, func(i, j int) bool { return less(c.items[i], c.items[j]) })
	c.rebuild()
}

// Clear removes all items but keeps the index definitions.
func (c *Indexed[T]) Clear() {
	c.items = nil
	c.rebuild()
}
