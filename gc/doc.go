// Package gc implement the allocation and collection triggering core of
// a generational garbage collector.
//
// Heap owns the nursery, its fragments and the memory governor. Each
// mutator goroutine attaches itself to the heap and allocates through
// its own Mutator, which carries a thread local allocation buffer, TLAB.
//
// Fast path bump allocates from the TLAB without locks. When the TLAB
// is exhausted, or the object is large, or a collection is about to
// start, the slow path takes the GC lock, refills the TLAB from nursery
// fragments, allocates large objects from the large object space, or
// degrades to major heap allocation when nursery cannot serve even after
// a minor collection.
//
// Memory governor decides when a minor or a major collection is due and
// computes how many bytes may be allocated between major collections,
// based on the effectiveness of the previous major collection.
//
// Tracing, stop-the-world suspension of OS threads, object layout and
// finalization are left to the collaborators defined in package api.
package gc
