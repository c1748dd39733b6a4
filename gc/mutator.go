package gc

import "fmt"
import "sync/atomic"

import "github.com/bnclabs/gcalloc/api"

// Tlab is a thread local allocation buffer, a range of nursery owned by
// a single mutator. Objects are bump allocated from next, crossing
// tempend records a scan start hint.
type Tlab struct {
	start   api.Addr
	next    api.Addr
	tempend api.Addr
	realend api.Addr
}

// Range return the nursery range owned by tlab.
func (tlab Tlab) Range() api.Range {
	return api.Range{Start: tlab.start, End: tlab.realend}
}

// Next return the bump pointer.
func (tlab Tlab) Next() api.Addr {
	return tlab.next
}

// Tempend return the soft limit for next scan start hint.
func (tlab Tlab) Tempend() api.Addr {
	return tlab.tempend
}

func (tlab Tlab) leftover() int64 {
	return int64(tlab.realend - tlab.next)
}

func (tlab Tlab) validate() {
	if tlab.start > tlab.next || tlab.next > tlab.tempend || tlab.tempend > tlab.realend {
		fmsg := "tlab out of order {%x,%x,%x,%x}"
		panic(fmt.Errorf(fmsg, tlab.start, tlab.next, tlab.tempend, tlab.realend))
	}
}

// Mutator is an allocating goroutine's context. Obtain one with
// Heap.Attach() and release it with Detach(). Methods on mutator are not
// thread safe, except that a collection running on another goroutine
// may retire its TLAB.
type Mutator struct {
	// 64-bit aligned, accessed atomically
	incritical int64

	// statistics
	n_allocs   int64
	n_slowpath int64
	n_tlabs    int64
	wasted     int64

	id   int64
	tlab Tlab
	heap *Heap
}

// ID return mutator's id, unique within its heap.
func (m *Mutator) ID() int64 {
	return m.id
}

// Tlab return a copy of mutator's current TLAB.
func (m *Mutator) Tlab() Tlab {
	return m.tlab
}

// Tryalloc allocate an object of `size` bytes from mutator's TLAB
// without taking the GC lock, size shall be aligned and not more than
// "maxsmallobj". Return false when TLAB is exhausted or a collection
// is starting, in which case the caller shall use Alloc().
func (m *Mutator) Tryalloc(vt api.Vtable, size int64) (api.Addr, bool) {
	return m.tryalloc(vt, size, 0)
}

// Alloc allocate an object of `size` bytes and publish its header with
// vt. Size shall be aligned to api.Alignment and at least
// api.MinObjsize. Return api.ErrorOutofMemory when heap is exhausted.
func (m *Mutator) Alloc(vt api.Vtable, size int64) (api.Addr, error) {
	return m.Allocvector(vt, size, 0)
}

// Allocvector same as Alloc, in addition store length in the header,
// before publishing the vtable.
func (m *Mutator) Allocvector(
	vt api.Vtable, size int64, length uint64) (api.Addr, error) {

	checksize(size)
	if size <= m.heap.maxsmallobj {
		if ptr, ok := m.tryalloc(vt, size, length); ok {
			return ptr, nil
		}
	}
	return m.heap.slowalloc(m, vt, size, length)
}

// Detach mutator from its heap. Unused tail of its TLAB, if large
// enough, is returned to nursery. Mutator shall not be used after
// this call.
func (m *Mutator) Detach() {
	m.heap.detach(m)
}

// Stats return mutator statistics.
func (m *Mutator) Stats() map[string]interface{} {
	return map[string]interface{}{
		"n_allocs":   m.n_allocs,
		"n_slowpath": m.n_slowpath,
		"n_tlabs":    m.n_tlabs,
		"wasted":     m.wasted,
	}
}

//---- local functions

func (m *Mutator) tryalloc(
	vt api.Vtable, size int64, length uint64) (api.Addr, bool) {

	if size > m.heap.maxsmallobj || !m.enter() {
		return 0, false
	}
	ptr, ok := m.bump(vt, size, length)
	m.exit()
	return ptr, ok
}

// enter critical region, back out if a collection is starting.
func (m *Mutator) enter() bool {
	atomic.StoreInt64(&m.incritical, 1)
	if atomic.LoadInt64(&m.heap.stopping) > 0 {
		atomic.StoreInt64(&m.incritical, 0)
		return false
	}
	return true
}

func (m *Mutator) exit() {
	atomic.StoreInt64(&m.incritical, 0)
}

// bump allocate from TLAB, either in critical region or with GC lock.
func (m *Mutator) bump(
	vt api.Vtable, size int64, length uint64) (api.Addr, bool) {

	tlab := &m.tlab
	ptr, newnext := tlab.next, tlab.next+api.Addr(size)
	if tlab.realend == 0 || newnext > tlab.realend {
		return 0, false
	}
	tlab.next = newnext
	if newnext > tlab.tempend {
		m.heap.nursery.Setscanstart(ptr)
		tlab.tempend = minaddr(tlab.realend, newnext+api.Addr(m.heap.scanstart))
	}
	if heavyassert {
		tlab.validate()
	}
	m.publish(ptr, vt, length)
	return ptr, true
}

func (m *Mutator) publish(ptr api.Addr, vt api.Vtable, length uint64) {
	if length > 0 {
		m.heap.nursery.Publishvector(ptr, vt, length)
	} else {
		m.heap.nursery.Publish(ptr, vt)
	}
	m.n_allocs++
}
