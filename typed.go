// SPDX-License-Identifier: Apache-2.0

package slab

import "unsafe"

// destroyer is implemented by object types that need cleanup before their
// backing memory is recycled. TypedCache.Free calls Destroy if *T implements
// this interface.
type destroyer interface {
	Destroy()
}

// TypedCache is a generic, type-safe façade over a Cache sized and aligned
// for T. Objects are zeroed on allocation, mirroring ordinary Go
// allocation semantics (new(T), make([]T, 1)) even though the backing
// memory is recycled from a free list rather than freshly mapped.
type TypedCache[T any] struct {
	cache *Cache
}

// NewTypedCache constructs a TypedCache for T. Any options accepted by New
// are accepted here as well, except WithConstructor and WithDestructor:
// TypedCache installs its own zeroing constructor and, if *T implements
// destroyer, its own destructor.
func NewTypedCache[T any](name string, opts ...Option) (*TypedCache[T], error) {
	var zero T
	size := unsafe.Sizeof(zero)
	align := unsafe.Alignof(zero)

	allOpts := make([]Option, 0, len(opts)+2)
	allOpts = append(allOpts, WithAlignment(align))
	allOpts = append(allOpts, opts...)
	allOpts = append(allOpts, WithConstructor(func(ptr unsafe.Pointer, sz uintptr) {
		*(*T)(ptr) = zero
	}))
	if _, ok := any(&zero).(destroyer); ok {
		allOpts = append(allOpts, WithDestructor(func(ptr unsafe.Pointer, sz uintptr) {
			any((*T)(ptr)).(destroyer).Destroy()
		}))
	}

	c, err := New(name, size, allOpts...)
	if err != nil {
		return nil, err
	}
	return &TypedCache[T]{cache: c}, nil
}

// Alloc returns a pointer to a freshly zeroed T.
func (t *TypedCache[T]) Alloc() (*T, error) {
	p, err := t.cache.Alloc()
	if err != nil {
		return nil, err
	}
	return (*T)(p), nil
}

// Free returns p to the cache. If *T implements destroyer, Destroy is
// called first. Freeing a pointer this TypedCache did not allocate panics.
func (t *TypedCache[T]) Free(p *T) {
	t.cache.Free(unsafe.Pointer(p))
}

// Destroy releases every slab backing this cache.
func (t *TypedCache[T]) Destroy() {
	t.cache.Destroy()
}

// Len returns the number of objects currently allocated from this cache.
func (t *TypedCache[T]) Len() int { return t.cache.Len() }

// Cache exposes the untyped Cache backing this TypedCache, for callers
// that need accessors (Name, ObjectSize, Slabs, ...) not mirrored here.
func (t *TypedCache[T]) Cache() *Cache { return t.cache }
