// SPDX-License-Identifier: Apache-2.0

package slab

import (
	"sync"
	"weak"
)

// Pool recycles *Cache values by object size, saving the setup cost (slab
// list state, and for the large regime the side map) of constructing a
// fresh Cache for a use case that repeatedly asks for same-sized objects.
//
// Pool holds only weak references to its idle caches, so the GC can
// reclaim an idle cache's bookkeeping at any time; Acquire only ever reuses
// a cache the GC has not gotten to yet. Release already returns a cache's
// slabs to the OS before the cache goes idle, so a collected idle entry
// loses nothing but the Cache struct itself.
type Pool struct {
	mu    sync.Mutex
	idle  []weak.Pointer[PoolItem]
	stats map[uintptr]*poolSizeStats
}

// poolSizeStats tracks the running-average live object count at release
// time for one object size. Once 50 samples have been taken, the total is
// collapsed to the average so far and counted as a single sample, so older
// releases keep a shrinking weight rather than dropping out.
type poolSizeStats struct {
	count    int
	totalLen int
}

// PoolItem wraps a pooled Cache together with the object size it was
// constructed for.
type PoolItem struct {
	Cache *Cache
	Size  uintptr
}

// NewPool creates an empty cache pool.
func NewPool() *Pool {
	return &Pool{stats: make(map[uintptr]*poolSizeStats)}
}

// Acquire returns a PoolItem wrapping a cache for objects of the given
// size, reusing an idle one of the same size if available, or constructing
// a fresh one via New otherwise. opts are only consulted when a new Cache
// must be constructed; a reused cache keeps the options it was originally
// built with.
func (p *Pool) Acquire(size uintptr, opts ...Option) (*PoolItem, error) {
	p.mu.Lock()
	var reinsert []weak.Pointer[PoolItem]
	var found *PoolItem
	for len(p.idle) > 0 {
		lastIdx := len(p.idle) - 1
		wp := p.idle[lastIdx]
		p.idle = p.idle[:lastIdx]

		item := wp.Value()
		if item == nil {
			// GC already reclaimed it.
			continue
		}
		if item.Cache.ObjectSize() == size {
			found = item
			break
		}
		reinsert = append(reinsert, wp)
	}
	p.idle = append(p.idle, reinsert...)
	p.mu.Unlock()

	if found != nil {
		return found, nil
	}

	c, err := New("pooled", size, opts...)
	if err != nil {
		return nil, err
	}
	return &PoolItem{Cache: c, Size: size}, nil
}

// Release destroys item's cache, returning its slabs to the OS, records
// its live object count for AverageLen, and makes item available for
// reuse by a future Acquire of the same size.
func (p *Pool) Release(item *PoolItem) {
	length := item.Cache.Len()
	item.Cache.Destroy()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordAndReinsert(item, length)
}

// ReleaseMany is Release for a batch of items, amortizing the pool lock
// acquisition across the whole batch.
func (p *Pool) ReleaseMany(items []*PoolItem) {
	lengths := make([]int, len(items))
	for i, item := range items {
		lengths[i] = item.Cache.Len()
		item.Cache.Destroy()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, item := range items {
		p.recordAndReinsert(item, lengths[i])
	}
}

func (p *Pool) recordAndReinsert(item *PoolItem, length int) {
	stats, ok := p.stats[item.Size]
	if !ok {
		stats = &poolSizeStats{}
		p.stats[item.Size] = stats
	}
	if stats.count == 50 {
		stats.count = 1
		stats.totalLen = stats.totalLen / 50
	}
	stats.count++
	stats.totalLen += length

	p.idle = append(p.idle, weak.Make(item))
}

// AverageLen returns the running average number of objects that were live,
// at release time, in caches of the given object size (weighted as
// poolSizeStats describes). It returns 0 if no cache of that size has ever
// been released.
func (p *Pool) AverageLen(size uintptr) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats, ok := p.stats[size]
	if !ok || stats.count == 0 {
		return 0
	}
	return stats.totalLen / stats.count
}
