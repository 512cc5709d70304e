// SPDX-License-Identifier: Apache-2.0

// Package slab implements a fixed-size object allocator that amortizes the
// cost of general-purpose heap allocation by carving same-sized objects out
// of page-aligned slabs and maintaining per-slab free lists.
//
// A Cache is parameterized by exactly one object size. Small objects (at
// most one eighth of the host page size) are packed into a single
// mmap'd page with the bookkeeping header living at the tail of that same
// page; larger objects get a multi-page backing block with the bookkeeping
// kept off to the side in ordinary Go-heap memory, indexed by a map from
// object address to its control record. Both regimes sit behind the same
// Alloc/Free/Destroy surface.
package slab

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// CtorFunc is invoked on every slot handed out by Alloc, after the slot has
// been popped from its slab's free list but before the pointer is returned
// to the caller.
type CtorFunc func(ptr unsafe.Pointer, size uintptr)

// DtorFunc is invoked on every slot passed to Free, before the slot is
// pushed back onto its slab's free list.
type DtorFunc func(ptr unsafe.Pointer, size uintptr)

const defaultAlign = uintptr(8)

type config struct {
	align      uintptr
	ctor       CtorFunc
	dtor       DtorFunc
	threadSafe bool
}

// Option configures a Cache at construction time.
type Option func(*config)

// WithAlignment overrides the default alignment (8 bytes) for slots in the
// cache. align must be a power of two. An alignment smaller than a
// pointer's is raised to a pointer's alignment, since a free slot holds its
// free-list link in its first word.
func WithAlignment(align uintptr) Option {
	return func(c *config) { c.align = align }
}

// WithConstructor installs a callback invoked on every object Alloc hands
// out, after it is popped from the free list.
func WithConstructor(fn CtorFunc) Option {
	return func(c *config) { c.ctor = fn }
}

// WithDestructor installs a callback invoked on every object passed to
// Free, before it is pushed back onto the free list.
func WithDestructor(fn DtorFunc) Option {
	return func(c *config) { c.dtor = fn }
}

// WithThreadSafe makes every public Cache operation acquire a cache-wide
// mutex for its duration. Caches are single-threaded by default.
func WithThreadSafe() Option {
	return func(c *config) { c.threadSafe = true }
}

// freeNode is how the small regime threads its free list through the
// object slots themselves: the first machine word of a free slot holds the
// address of the next free slot (or nil).
type freeNode struct {
	next unsafe.Pointer
}

// bufCtl is the large-regime per-object bookkeeping record: it remembers
// the object's address, the next free bufCtl in its slab's free list, and
// the slab that owns it.
type bufCtl struct {
	buf  unsafe.Pointer
	next *bufCtl
	slab *slabHeader
}

// slabHeader describes one backing block. For the small regime it is
// placed, via unsafe.Pointer arithmetic, at the tail of the single
// mmap'd page it describes; for the large regime it is an ordinary
// Go-heap struct kept separate from its (possibly multi-page) backing
// block.
type slabHeader struct {
	next, prev *slabHeader
	ownerID    uint64
	freeList   unsafe.Pointer
	inUse      int
	base       unsafe.Pointer
	memSize    uintptr
	bufs       []bufCtl // large regime only; nil for small-regime slabs
}

// Cache is a fixed-size object allocator. The zero value is not usable;
// construct one with New.
type Cache struct {
	mu         sync.Mutex
	threadSafe bool

	id uint64

	name           string
	objectSize     uintptr
	align          uintptr
	effectiveSize  uintptr
	smallThreshold uintptr
	slabMaxBuf     int
	large          bool

	ctor CtorFunc
	dtor DtorFunc

	head, tail *slabHeader
	numSlabs   int

	largeLookup map[unsafe.Pointer]*bufCtl
}

var cacheIDCounter atomic.Uint64

// New constructs a Cache for objects of objectSize bytes. No slab is
// allocated until the first Alloc. It returns ErrInvalidArgument if name is
// empty, objectSize is zero, or an explicit alignment is not a power of
// two.
func New(name string, objectSize uintptr, opts ...Option) (*Cache, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidArgument)
	}
	if objectSize == 0 {
		return nil, fmt.Errorf("%w: object size must be > 0", ErrInvalidArgument)
	}

	cfg := config{align: defaultAlign}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.align == 0 {
		cfg.align = defaultAlign
	}
	if cfg.align&(cfg.align-1) != 0 {
		return nil, fmt.Errorf("%w: alignment %d is not a power of two", ErrInvalidArgument, cfg.align)
	}
	if cfg.align < unsafe.Alignof(uintptr(0)) {
		cfg.align = unsafe.Alignof(uintptr(0))
	}

	page := PageSize()
	effectiveSize := roundUp(objectSize, cfg.align)
	threshold := page / 8
	large := objectSize > threshold

	var maxBuf int
	if !large {
		maxBuf = int((page - unsafe.Sizeof(slabHeader{})) / effectiveSize)
	} else {
		maxBuf = 8
	}
	if maxBuf < 1 {
		maxBuf = 1
	}

	c := &Cache{
		id:             cacheIDCounter.Add(1),
		name:           name,
		objectSize:     objectSize,
		align:          cfg.align,
		effectiveSize:  effectiveSize,
		smallThreshold: threshold,
		slabMaxBuf:     maxBuf,
		large:          large,
		ctor:           cfg.ctor,
		dtor:           cfg.dtor,
		threadSafe:     cfg.threadSafe,
	}
	if large {
		c.largeLookup = make(map[unsafe.Pointer]*bufCtl)
	}
	return c, nil
}

func roundUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

func (c *Cache) lock() {
	if c.threadSafe {
		c.mu.Lock()
	}
}

func (c *Cache) unlock() {
	if c.threadSafe {
		c.mu.Unlock()
	}
}

// Alloc returns a pointer to an aligned, EffectiveSize()-byte object. If a
// constructor was installed, it is called on the object before Alloc
// returns. Alloc grows the cache (acquiring a new slab from the OS) when
// necessary; a failed grow leaves the cache unchanged and returns a wrapped
// ErrOutOfMemory.
func (c *Cache) Alloc() (unsafe.Pointer, error) {
	c.lock()
	defer c.unlock()

	if c.head == nil {
		if err := c.grow(); err != nil {
			return nil, err
		}
	}
	if c.head.inUse == c.slabMaxBuf {
		if err := c.grow(); err != nil {
			return nil, err
		}
	}

	s := c.head

	var slot unsafe.Pointer
	if !c.large {
		slot = s.freeList
		if slot == nil {
			panic("slab: internal error: free list empty but expected a free slot")
		}
		s.freeList = (*freeNode)(slot).next
	} else {
		b := (*bufCtl)(s.freeList)
		if b == nil {
			panic("slab: internal error: free list empty but expected a free slot")
		}
		s.freeList = unsafe.Pointer(b.next)
		slot = b.buf
	}
	s.inUse++

	if c.ctor != nil {
		c.ctor(slot, c.objectSize)
	}

	if s.inUse == c.slabMaxBuf {
		c.moveToBack(s)
	}
	return slot, nil
}

// Free returns an object previously obtained from Alloc to its slab's free
// list. Freeing nil is a no-op. Freeing a pointer this cache did not
// allocate panics. If a destructor was installed, it is called on the
// object before the slot is returned to the free list. If this was the
// slab's last in-use object, the slab (and its backing memory) is released
// to the OS.
func (c *Cache) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	c.lock()
	defer c.unlock()

	var s *slabHeader
	var large *bufCtl
	if !c.large {
		page := PageSize()
		mem := unsafe.Pointer(uintptr(p) &^ (page - 1))
		s = (*slabHeader)(unsafe.Pointer(uintptr(mem) + page - unsafe.Sizeof(slabHeader{})))
		if s.ownerID != c.id {
			panic("slab: free of a pointer not allocated by this cache")
		}
	} else {
		var ok bool
		large, ok = c.largeLookup[p]
		if !ok {
			panic("slab: free of a pointer not allocated by this cache")
		}
		s = large.slab
	}

	if c.dtor != nil {
		c.dtor(p, c.objectSize)
	}

	if !c.large {
		(*freeNode)(p).next = s.freeList
		s.freeList = p
	} else {
		large.next = (*bufCtl)(s.freeList)
		s.freeList = unsafe.Pointer(large)
	}
	s.inUse--

	if s.inUse == 0 {
		c.remove(s)
		c.releaseSlab(s)
	} else if s.inUse == c.slabMaxBuf-1 {
		c.moveToFront(s)
	}
}

// Destroy unconditionally releases every slab this cache holds, returning
// their backing memory to the OS. It does not invoke the destructor on
// objects still marked in-use — outstanding allocations at the time of
// Destroy are a programming error. The cache remains usable afterward and
// will regrow on the next Alloc.
func (c *Cache) Destroy() {
	c.lock()
	defer c.unlock()

	for c.head != nil {
		s := c.head
		c.remove(s)
		c.releaseSlab(s)
	}
	c.head, c.tail = nil, nil
	if c.large {
		c.largeLookup = make(map[unsafe.Pointer]*bufCtl)
	}
}

func (c *Cache) grow() error {
	page := PageSize()
	if !c.large {
		return c.growSmall(page)
	}
	return c.growLarge(page)
}

// growSmall acquires one new page-aligned page, places a slab header at its
// tail, links every slot into the free list in address order, and inserts
// the slab at the head of the slab list.
func (c *Cache) growSmall(page uintptr) error {
	base, err := pageAlloc(page)
	if err != nil {
		return err
	}

	hdrOffset := page - unsafe.Sizeof(slabHeader{})
	s := (*slabHeader)(unsafe.Pointer(uintptr(base) + hdrOffset))
	*s = slabHeader{}
	s.ownerID = c.id
	s.base = base
	s.memSize = page

	e := c.effectiveSize
	p := base
	for i := 0; i < c.slabMaxBuf-1; i++ {
		next := unsafe.Pointer(uintptr(p) + e)
		(*freeNode)(p).next = next
		p = next
	}
	(*freeNode)(p).next = nil
	s.freeList = base

	c.moveToFront(s)
	c.numSlabs++
	return nil
}

// growLarge acquires a fresh, possibly multi-page, backing block and an
// off-slab array of bufCtl records, one per object, linking them into the
// slab's free list and the cache-wide side map.
func (c *Cache) growLarge(page uintptr) error {
	e := c.effectiveSize
	m := uintptr(c.slabMaxBuf)
	need := e * m
	pages := (need + page - 1) / page
	memSize := pages * page

	base, err := pageAlloc(memSize)
	if err != nil {
		return err
	}

	s := &slabHeader{
		ownerID: c.id,
		base:    base,
		memSize: memSize,
		bufs:    make([]bufCtl, c.slabMaxBuf),
	}

	s.bufs[0].buf = base
	s.bufs[0].slab = s
	s.bufs[0].next = nil
	s.freeList = unsafe.Pointer(&s.bufs[0])
	c.largeLookup[s.bufs[0].buf] = &s.bufs[0]

	for i := 1; i < c.slabMaxBuf; i++ {
		s.bufs[i].next = (*bufCtl)(s.freeList)
		s.bufs[i].buf = unsafe.Pointer(uintptr(base) + uintptr(i)*e)
		s.bufs[i].slab = s
		s.freeList = unsafe.Pointer(&s.bufs[i])
		c.largeLookup[s.bufs[i].buf] = &s.bufs[i]
	}

	c.moveToFront(s)
	c.numSlabs++
	return nil
}

// releaseSlab returns a drained slab's resources to the OS (and, for the
// large regime, to the garbage collector). The caller must have already
// unlinked s from the slab list.
func (c *Cache) releaseSlab(s *slabHeader) {
	if c.large {
		for i := range s.bufs {
			delete(c.largeLookup, s.bufs[i].buf)
		}
	}
	pageFree(s.base, s.memSize)
	c.numSlabs--
}

// Name returns the cache's name, as given to New.
func (c *Cache) Name() string { return c.name }

// ObjectSize returns the nominal object size S, as given to New.
func (c *Cache) ObjectSize() uintptr { return c.objectSize }

// EffectiveSize returns the effective object size E (S rounded up to the
// cache's alignment).
func (c *Cache) EffectiveSize() uintptr { return c.effectiveSize }

// SlabMaxBuf returns the maximum number of objects a single slab in this
// cache can hold.
func (c *Cache) SlabMaxBuf() int { return c.slabMaxBuf }

// Large reports whether this cache uses the large-object storage regime
// (off-slab bookkeeping plus a side map) rather than the small-object
// regime (inline bookkeeping at the tail of a single page).
func (c *Cache) Large() bool { return c.large }

// Len returns the number of objects currently allocated from this cache.
func (c *Cache) Len() int {
	c.lock()
	defer c.unlock()

	if c.head == nil {
		return 0
	}
	n := 0
	for s := c.head; ; {
		n += s.inUse
		s = s.next
		if s == c.head {
			break
		}
	}
	return n
}

// Slabs returns the number of slabs this cache currently holds.
func (c *Cache) Slabs() int {
	c.lock()
	defer c.unlock()
	return c.numSlabs
}
