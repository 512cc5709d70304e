// SPDX-License-Identifier: Apache-2.0

package slab

import "errors"

// ErrOutOfMemory is returned when the operating system denies a page-aligned
// allocation request. The cache is left unchanged.
var ErrOutOfMemory = errors.New("slab: out of memory")

// ErrInvalidArgument is returned by New and TypedCache constructors when a
// construction-time precondition is violated (zero object size, a non-power-
// of-two alignment, or an empty name).
var ErrInvalidArgument = errors.New("slab: invalid argument")
