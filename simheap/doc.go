// Package simheap supplies reference collaborators for package gc: an
// old generation made of fixed size sections, a large object space and
// a tracer that keeps objects alive through explicit roots.
//
// They are meant for tests and simulations, objects are never scanned
// for references, only registered roots keep them alive.
package simheap
