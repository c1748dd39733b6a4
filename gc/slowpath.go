package gc

import "sync/atomic"

import "github.com/bnclabs/gcalloc/api"

// slowalloc is the allocation path taken when the fast path misses,
// TLAB is exhausted, object is large, or a collection is starting.
func (heap *Heap) slowalloc(
	m *Mutator, vt api.Vtable, size int64, length uint64) (api.Addr, error) {

	heap.mu.Lock()
	defer heap.mu.Unlock()

	atomic.AddInt64(&heap.n_slowpath, 1)
	m.n_slowpath++

	if size > heap.maxsmallobj {
		return heap.alloclarge(vt, size, length)
	}

	// once in degraded mode, keep allocating from major heap for a
	// while to avoid useless minor collections.
	if degraded := atomic.LoadInt64(&heap.degraded); degraded > 0 {
		if degraded < heap.nurserysize {
			return heap.allocdegraded(vt, size, length)
		}
		heap.collect(GenerationOld, size, "degraded mode overflow")
	}

	// fast path lost the race with a collection that did not happen.
	if ptr, ok := m.bump(vt, size, length); ok {
		return ptr, nil
	}

	if size > heap.tlabsize || m.tlab.leftover() > heap.maxwaste {
		// too big for a TLAB, or TLAB is worth keeping.
		if ptr, ok := heap.allocdirect(size); ok {
			m.publish(ptr, vt, length)
			return ptr, nil
		}
		return heap.allocdegraded(vt, size, length)
	}

	if ok := heap.newtlab(m, size); !ok {
		return heap.allocdegraded(vt, size, length)
	}
	heap.nursery.Setscanstart(m.tlab.start)
	ptr, ok := m.bump(vt, size, length)
	if !ok {
		panicerr("fresh tlab %v cannot fit %v bytes", m.tlab.Range(), size)
	}
	return ptr, nil
}

// allocdirect allocate `size` bytes straight from nursery fragments,
// with one collection and retry on failure.
func (heap *Heap) allocdirect(size int64) (api.Addr, bool) {
	ptr, ok := heap.frags.Alloc(size)
	if !ok {
		heap.ensurefreespace(size, GenerationNursery)
		if atomic.LoadInt64(&heap.degraded) == 0 {
			ptr, ok = heap.frags.Alloc(size)
		}
	}
	if !ok {
		return 0, false
	}
	if heap.clearattlab {
		heap.nursery.Clear(ptr, size)
	}
	heap.nursery.Setscanstart(ptr)
	return ptr, true
}

// newtlab retire mutator's TLAB and carve a new one that can fit at
// least `size` bytes, with one collection and retry on failure.
func (heap *Heap) newtlab(m *Mutator, size int64) bool {
	heap.retiretlab(m)

	start, got, ok := heap.frags.Allocrange(heap.tlabsize, size)
	if !ok {
		heap.ensurefreespace(size, GenerationNursery)
		if atomic.LoadInt64(&heap.degraded) == 0 {
			start, got, ok = heap.frags.Allocrange(heap.tlabsize, size)
		}
	}
	if !ok {
		return false
	}
	if heap.clearattlab {
		heap.nursery.Clear(start, got)
	}
	m.tlab = Tlab{
		start:   start,
		next:    start,
		tempend: start + api.Addr(minint64(heap.scanstart, got)),
		realend: start + api.Addr(got),
	}
	m.n_tlabs++
	heap.h_tlabsize.Add(got)
	return true
}

// retiretlab abandon TLAB's tail, it is small enough to be left unused
// till next collection.
func (heap *Heap) retiretlab(m *Mutator) {
	if m.tlab.realend != 0 {
		m.wasted += m.tlab.leftover()
		fmsg := "%v mutator %v retire tlab %v, %v bytes left\n"
		tracef(fmsg, heap.logprefix, m.id, m.tlab.Range(), m.tlab.leftover())
	}
	m.tlab = Tlab{}
}

// alloclarge allocate from large object space, TLABs are not touched.
func (heap *Heap) alloclarge(
	vt api.Vtable, size int64, length uint64) (api.Addr, error) {

	heap.ensurefreespace(size, GenerationOld)
	ptr, ok := heap.los.Alloclarge(vt, size, length)
	if !ok {
		heap.collect(GenerationOld, 0, "LOS allocation failure")
		ptr, ok = heap.los.Alloclarge(vt, size, length)
	}
	if !ok {
		atomic.AddInt64(&heap.n_ooms, 1)
		errorf("%v out of memory allocating %v large bytes\n", heap.logprefix, size)
		return 0, api.ErrorOutofMemory
	}
	atomic.AddInt64(&heap.n_large, 1)
	return ptr, nil
}
