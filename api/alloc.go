package api

// Tracer is the tracing collector plugged in behind the allocator. Both
// calls block until collection is complete and are invoked with the world
// stopped and every TLAB retired.
type Tracer interface {
	// Minor collect the nursery. Return nursery ranges occupied by
	// objects that stay in place, like pinned objects, and overflow as
	// true if the old generation needs a major collection right away.
	Minor(reason string) (survivors []Range, overflow bool)

	// Major collect the whole heap, nursery included. Return nursery
	// ranges occupied by objects that stay in place.
	Major(reason string) (survivors []Range)
}

// Majorheap is the old generation, used for degraded allocation when
// the nursery cannot satisfy a request.
type Majorheap interface {
	// Allocdegraded allocate an object of `size` bytes directly in the
	// major heap, header initialized with `length` and `vt`, vtable
	// written last.
	Allocdegraded(vt Vtable, size int64, length uint64) (Addr, bool)

	// Sections return the number of sections currently in use.
	Sections() int64

	// Sectionsize return the size of a single major heap section.
	Sectionsize() int64
}

// Largeobjects is the large-object-space, serving objects larger than
// the small object threshold.
type Largeobjects interface {
	// Alloclarge allocate an object of `size` bytes, header initialized
	// with `length` and `vt`, vtable written last.
	Alloclarge(vt Vtable, size int64, length uint64) (Addr, bool)

	// Usage return bytes currently allocated in the space.
	Usage() int64
}

// Spacer accounts for memory committed outside the nursery. Major heap
// and large object space implementations reserve and release their
// memory with it. Safe for concurrent use.
type Spacer interface {
	// Tryallocspace reserve `size` bytes under the maximum heap size.
	Tryallocspace(size int64) bool

	// Releasespace give back `size` bytes reserved earlier.
	Releasespace(size int64)

	// Registersections count `n` new major heap sections towards the
	// minor collection allowance.
	Registersections(n int64)
}

// Concurrent is optionally implemented by a Tracer that runs major
// collections concurrently with mutators.
type Concurrent interface {
	// Workersdone return true once concurrent marking has finished and
	// the collection is ready to be completed.
	Workersdone() bool
}
