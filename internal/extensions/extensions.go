// Package extensions implements the bag of host-provided objects that native
// functions read and mutate during a session, keyed by Go type.
package extensions

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// Bag holds at most one value per concrete type. Values are boxed as *T so
// that GetMut can hand out a stable pointer. A Bag is owned by a single
// session and is not safe for concurrent use.
type Bag struct {
	items map[reflect.Type]any
}

// New returns an empty bag.
func New() *Bag {
	return &Bag{items: make(map[reflect.Type]any)}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Insert stores v under its type T, replacing any previous value of that
// type.
func Insert[T any](b *Bag, v T) {
	if b.items == nil {
		b.items = make(map[reflect.Type]any)
	}
	b.items[typeOf[T]()] = &v
}

// Get returns the value stored under T.
func Get[T any](b *Bag) (T, bool) {
	var zero T
	if b == nil {
		return zero, false
	}
	v, ok := b.items[typeOf[T]()]
	if !ok {
		return zero, false
	}
	return *v.(*T), true
}

// GetMut returns a pointer to the value stored under T so callers can update
// it in place. The pointer stays valid until the next Insert or Remove of T.
func GetMut[T any](b *Bag) (*T, bool) {
	if b == nil {
		return nil, false
	}
	v, ok := b.items[typeOf[T]()]
	if !ok {
		return nil, false
	}
	return v.(*T), true
}

// MustGet is Get for extensions a native cannot work without.
func MustGet[T any](b *Bag) (T, error) {
	v, ok := Get[T](b)
	if !ok {
		return v, fmt.Errorf("extensions: %s not present", typeOf[T]())
	}
	return v, nil
}

// Remove deletes the value stored under T and returns it.
func Remove[T any](b *Bag) (T, bool) {
	v, ok := Get[T](b)
	if ok {
		delete(b.items, typeOf[T]())
	}
	return v, ok
}

// Len returns the number of stored extensions.
func (b *Bag) Len() int {
	if b == nil {
		return 0
	}
	return len(b.items)
}

// Names lists the stored types, sorted.
func (b *Bag) Names() []string {
	if b == nil {
		return nil
	}
	out := make([]string, 0, len(b.items))
	for t := range b.items {
		out = append(out, t.String())
	}
	slices.Sort(out)
	return out
}

func (b *Bag) String() string {
	return "extensions[" + strings.Join(b.Names(), ", ") + "]"
}
