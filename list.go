// SPDX-License-Identifier: Apache-2.0

package slab

// The slab list is a circular, doubly-linked list in which every partially
// full slab precedes every full slab: Alloc always takes from the front,
// Free always returns a newly-partial slab to the front, and a slab that
// fills up is pushed to the back so it is the last one Alloc revisits.
// Partial slabs are not kept in any order of fullness among themselves.

// remove unlinks s from the list. It is a no-op if s is not currently
// linked (both of its pointers are nil).
func (c *Cache) remove(s *slabHeader) {
	if s.next == nil && s.prev == nil {
		return
	}

	s.next.prev = s.prev
	s.prev.next = s.next

	if c.head == s {
		if s.prev == s {
			c.head = nil
		} else {
			c.head = s.prev
		}
	}
	if c.tail == s {
		if s.next == s {
			c.tail = nil
		} else {
			c.tail = s.next
		}
	}
	s.next, s.prev = nil, nil
}

// moveToFront unlinks s from wherever it is (if anywhere) and relinks it at
// the front of the list.
func (c *Cache) moveToFront(s *slabHeader) {
	if c.head == s {
		return
	}
	c.remove(s)

	if c.head == nil {
		s.prev, s.next = s, s
		c.tail = s
	} else {
		s.prev = c.head
		c.head.next = s
		s.next = c.tail
		c.tail.prev = s
	}
	c.head = s
}

// moveToBack unlinks s from wherever it is and relinks it at the back of
// the list. s must already be linked.
func (c *Cache) moveToBack(s *slabHeader) {
	if c.tail == s {
		return
	}
	c.remove(s)

	if c.head == nil {
		s.prev, s.next = s, s
		c.head = s
	} else {
		s.prev = c.head
		c.head.next = s
		s.next = c.tail
		c.tail.prev = s
	}
	c.tail = s
}
