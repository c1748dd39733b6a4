// Package nursery supplies the youngest generation of a generational
// heap, with a limited scope:
//
//  * Nursery is a single block of memory, allocated once, that is carved
//    into thread local allocation buffers and directly allocated objects.
//  * Free space is tracked as a list of fragments, rebuilt from scratch
//    after every collection as the complement of objects that stayed in
//    place.
//  * Fragments are consumed from the front, a fragment is dropped when
//    its remaining space falls below the configured waste threshold.
//  * Types and functions exported by this package are not thread safe,
//    except for header publication, header reads and scan start hints.
//    Callers serialize everything else under their GC lock.
//  * Memory handed out by this package is always 64-bit aligned.
//
// Every object starts with a two word header, the vtable followed by a
// size-relevant field like array length. Vtable is always written last,
// so that a concurrent scanner that observes a non-zero vtable also
// observes the rest of the header.
package nursery
