// SPDX-License-Identifier: Apache-2.0

package slab

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

var pageSizeOnce = sync.OnceValue(func() uintptr {
	return uintptr(unix.Getpagesize())
})

// PageSize returns the host's page size in bytes. The value is queried once
// and cached for the lifetime of the process.
func PageSize() uintptr {
	return pageSizeOnce()
}

// pageAlloc obtains a zeroed, page-aligned block of the given size (a
// multiple of the page size) from the operating system via an anonymous
// mapping. The returned pointer is always aligned to at least PageSize().
func pageAlloc(size uintptr) (unsafe.Pointer, error) {
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("slab: mmap %d bytes: %w: %v", size, ErrOutOfMemory, err)
	}
	return unsafe.Pointer(unsafe.SliceData(data)), nil
}

// pageFree returns a block previously obtained from pageAlloc to the
// operating system. size must match the size passed to pageAlloc.
func pageFree(ptr unsafe.Pointer, size uintptr) {
	data := unsafe.Slice((*byte)(ptr), size)
	_ = unix.Munmap(data)
}
