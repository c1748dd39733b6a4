package api

import "errors"

// ErrorOutofMemory neither the nursery, nor the major heap, nor the
// large object space could supply memory even after a forced major
// collection.
var ErrorOutofMemory = errors.New("gc.outofmemory")

// Alignment of every object address and size handed out by the
// allocator, in bytes.
const Alignment = int64(8)

// Wordsize size of a header word.
const Wordsize = int64(8)

// MinObjsize smallest object, a two word header made of vtable and a
// size-relevant field like array length.
const MinObjsize = 2 * Wordsize
