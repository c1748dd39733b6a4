// Package gcalloc implement the allocation side of a generational,
// tracing garbage collector: thread local allocation buffers carved out
// of a nursery, and the policy that decides when to collect it.
//
// api:
//
// Addresses, object header layout and the interfaces gc depends on, the
// tracing collector, the major heap, the large object space and space
// accounting.
//
// nursery:
//
// Nursery memory, object headers, scan start hints and the fragment
// allocator that hands out free nursery ranges after every collection.
//
// gc:
//
// Heap and mutators. Fast path bump allocation from TLABs, slow path
// replenishing TLABs under the GC lock, large object and degraded
// allocation, and the memory governor computing minor collection
// allowance from the outcome of previous major collections.
//
// simheap:
//
// Reference collaborators for gc, a sectioned major heap, a large object
// space and a root based tracer that promotes survivors.
//
// lib:
//
// Convinience functions that can be used by other packages, like
// statistical histograms for sizes and durations.
//
// tools/gcsim:
//
// Command line simulator that drives a heap with concurrent mutators and
// reports allocation and collection statistics.
package gcalloc
