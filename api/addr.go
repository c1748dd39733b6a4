package api

import "fmt"

// Addr is a heap address.
type Addr uintptr

// Vtable is an opaque, non-zero, type handle. Allocator copies it
// verbatim into the first header word of an object.
type Vtable uintptr

// Range of addresses [Start, End).
type Range struct {
	Start Addr
	End   Addr
}

// Size of the range in bytes.
func (r Range) Size() int64 {
	return int64(r.End - r.Start)
}

// Contains return true if addr falls inside the range.
func (r Range) Contains(addr Addr) bool {
	return r.Start <= addr && addr < r.End
}

// Overlaps return true if both ranges share at least one byte.
func (r Range) Overlaps(other Range) bool {
	return r.Start < other.End && other.Start < r.End
}

func (r Range) String() string {
	return fmt.Sprintf("[%x,%x)", uintptr(r.Start), uintptr(r.End))
}

// Alignup round `size` up to Alignment.
func Alignup(size int64) int64 {
	return (size + Alignment - 1) &^ (Alignment - 1)
}

// Isaligned return true if addr is a multiple of Alignment.
func Isaligned(addr Addr) bool {
	return (int64(addr) & (Alignment - 1)) == 0
}
