/*
Copyright © 2026 unikernel-tools

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package hotswap

// HeapExtent reports whether a candidate storage location overlaps
// memory the running image still needs: its own ELF extent or its
// current heap (spec.md §3/§4.1, and step 2 of §4.5 — "must not
// overlap the running image's ELF extent, and must not lie within the
// current heap"). A real unikernel target supplies these bounds from
// its loader and allocator; Exec treats a nil HeapExtent as
// permissive, since a hosted test/demo process has no addressable
// heap extent of its own to guard.
type HeapExtent interface {
	// Overlaps reports whether the half-open byte range
	// [addr, addr+length) intersects either guarded extent.
	Overlaps(addr uintptr, length int) bool
}

// StaticHeapExtent guards one fixed [Start, Start+Length) range,
// suitable when the caller already knows its image/heap bounds ahead
// of time (e.g. read from a linker symbol or a boot-time allocator
// snapshot). Image and heap extents are tracked together here since
// both are "memory the running image still needs" from Exec's point
// of view; a caller guarding both ranges composes two StaticHeapExtent
// values with MultiHeapExtent.
type StaticHeapExtent struct {
	Start  uintptr
	Length int
}

func (h StaticHeapExtent) Overlaps(addr uintptr, length int) bool {
	if h.Length == 0 || length == 0 {
		return false
	}
	end := addr + uintptr(length)
	guardEnd := h.Start + uintptr(h.Length)
	return addr < guardEnd && h.Start < end
}

// MultiHeapExtent overlaps if any of its members does, letting a
// caller guard the image extent and the heap extent as two
// independently-tracked StaticHeapExtent values.
type MultiHeapExtent []HeapExtent

func (m MultiHeapExtent) Overlaps(addr uintptr, length int) bool {
	for _, h := range m {
		if h != nil && h.Overlaps(addr, length) {
			return true
		}
	}
	return false
}
