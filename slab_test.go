// SPDX-License-Identifier: Apache-2.0

package slab

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestNewValidatesArguments(t *testing.T) {
	_, err := New("", 16)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New("zero", 0)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New("bad-align", 16, WithAlignment(3))
	require.ErrorIs(t, err, ErrInvalidArgument)

	c, err := New("ints", 8)
	require.NoError(t, err)
	require.Equal(t, "ints", c.Name())
	require.Equal(t, uintptr(8), c.ObjectSize())
	require.False(t, c.Large())
}

func TestSmallRegimeAllocFree(t *testing.T) {
	c, err := New("small", 32)
	require.NoError(t, err)
	require.False(t, c.Large())

	p1, err := c.Alloc()
	require.NoError(t, err)
	require.NotNil(t, p1)
	require.Equal(t, 1, c.Len())
	require.Equal(t, 1, c.Slabs())

	p2, err := c.Alloc()
	require.NoError(t, err)
	require.NotEqual(t, p1, p2)
	require.Equal(t, 2, c.Len())

	c.Free(p1)
	require.Equal(t, 1, c.Len())

	// The freed slot is recycled by the next Alloc.
	p3, err := c.Alloc()
	require.NoError(t, err)
	require.Equal(t, p1, p3)

	c.Free(p2)
	c.Free(p3)
	require.Equal(t, 0, c.Len())
	require.Equal(t, 0, c.Slabs())
}

func TestSmallRegimeGrowsAcrossSlabs(t *testing.T) {
	c, err := New("grow", 64)
	require.NoError(t, err)

	m := c.SlabMaxBuf()
	require.Greater(t, m, 0)

	ptrs := make([]unsafe.Pointer, 0, m+1)
	for i := 0; i < m+1; i++ {
		p, err := c.Alloc()
		require.NoError(t, err)
		ptrs = append(ptrs, p)
	}
	require.Equal(t, 2, c.Slabs())
	require.Equal(t, m+1, c.Len())

	for _, p := range ptrs {
		c.Free(p)
	}
	require.Equal(t, 0, c.Len())
	require.Equal(t, 0, c.Slabs())
}

func TestLargeRegimeAllocFree(t *testing.T) {
	bigSize := PageSize() // bigger than page/8, forces the large regime
	c, err := New("large", bigSize)
	require.NoError(t, err)
	require.True(t, c.Large())
	require.Equal(t, 8, c.SlabMaxBuf())

	p1, err := c.Alloc()
	require.NoError(t, err)
	p2, err := c.Alloc()
	require.NoError(t, err)
	require.NotEqual(t, p1, p2)
	require.Equal(t, 2, c.Len())
	require.Equal(t, 1, c.Slabs())

	c.Free(p1)
	c.Free(p2)
	require.Equal(t, 0, c.Len())
	require.Equal(t, 0, c.Slabs())
}

func TestAllocAlignment(t *testing.T) {
	c, err := New("aligned", 10, WithAlignment(16))
	require.NoError(t, err)
	require.Equal(t, uintptr(16), c.EffectiveSize())

	for i := 0; i < 20; i++ {
		p, err := c.Alloc()
		require.NoError(t, err)
		require.Zero(t, uintptr(p)%16)
	}
}

func TestConstructorAndDestructorAreCalled(t *testing.T) {
	var constructed, destructed int

	c, err := New("cbs", 8,
		WithConstructor(func(ptr unsafe.Pointer, size uintptr) { constructed++ }),
		WithDestructor(func(ptr unsafe.Pointer, size uintptr) { destructed++ }),
	)
	require.NoError(t, err)

	p, err := c.Alloc()
	require.NoError(t, err)
	require.Equal(t, 1, constructed)
	require.Equal(t, 0, destructed)

	c.Free(p)
	require.Equal(t, 1, destructed)
}

func TestFreeNilIsNoop(t *testing.T) {
	c, err := New("nilfree", 8)
	require.NoError(t, err)
	require.NotPanics(t, func() { c.Free(nil) })
	require.Equal(t, 0, c.Len())
}

func TestFreeAlienPointerPanics(t *testing.T) {
	c1, err := New("owner", 16)
	require.NoError(t, err)
	c2, err := New("other", 16)
	require.NoError(t, err)

	p, err := c1.Alloc()
	require.NoError(t, err)

	require.Panics(t, func() { c2.Free(p) })
}

func TestDestroyReleasesAllSlabs(t *testing.T) {
	c, err := New("destroy", 40)
	require.NoError(t, err)

	for i := 0; i < c.SlabMaxBuf()*3; i++ {
		_, err := c.Alloc()
		require.NoError(t, err)
	}
	require.Greater(t, c.Slabs(), 1)

	c.Destroy()
	require.Equal(t, 0, c.Slabs())
	require.Equal(t, 0, c.Len())

	// Still usable afterward.
	p, err := c.Alloc()
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestThreadSafeCacheIsUsable(t *testing.T) {
	c, err := New("ts", 24, WithThreadSafe())
	require.NoError(t, err)

	p, err := c.Alloc()
	require.NoError(t, err)
	c.Free(p)
	require.Equal(t, 0, c.Len())
}

func TestErrInvalidArgumentIsWrapped(t *testing.T) {
	_, err := New("bad-align", 16, WithAlignment(5))
	require.True(t, errors.Is(err, ErrInvalidArgument))
}
