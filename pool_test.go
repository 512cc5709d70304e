// SPDX-License-Identifier: Apache-2.0

package slab

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolAcquireReusesReleasedCache(t *testing.T) {
	p := NewPool()

	item1, err := p.Acquire(32)
	require.NoError(t, err)
	require.Equal(t, uintptr(32), item1.Size)

	_, err = item1.Cache.Alloc()
	require.NoError(t, err)
	require.Greater(t, item1.Cache.Slabs(), 0)

	p.Release(item1)
	require.Equal(t, 0, item1.Cache.Slabs())

	item2, err := p.Acquire(32)
	require.NoError(t, err)
	require.Same(t, item1.Cache, item2.Cache)
	require.Equal(t, 0, item2.Cache.Slabs())
}

func TestPoolAcquireDifferentSizesDoNotCollide(t *testing.T) {
	p := NewPool()

	itemA, err := p.Acquire(16)
	require.NoError(t, err)
	p.Release(itemA)

	itemB, err := p.Acquire(64)
	require.NoError(t, err)
	require.NotSame(t, itemA.Cache, itemB.Cache)

	// The size-16 item is still sitting idle in the pool, not discarded by
	// the size-64 acquire.
	itemA2, err := p.Acquire(16)
	require.NoError(t, err)
	require.Same(t, itemA.Cache, itemA2.Cache)
}

func TestPoolAverageLen(t *testing.T) {
	p := NewPool()
	require.Equal(t, 0, p.AverageLen(8))

	item, err := p.Acquire(8)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := item.Cache.Alloc()
		require.NoError(t, err)
	}
	p.Release(item)

	require.Equal(t, 4, p.AverageLen(8))
}

func TestPoolReleaseMany(t *testing.T) {
	p := NewPool()

	item1, err := p.Acquire(48)
	require.NoError(t, err)
	item2, err := p.Acquire(48)
	require.NoError(t, err)
	require.NotSame(t, item1.Cache, item2.Cache)

	p.ReleaseMany([]*PoolItem{item1, item2})
	require.Equal(t, 0, item1.Cache.Slabs())
	require.Equal(t, 0, item2.Cache.Slabs())
}
