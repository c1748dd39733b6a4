package gc

import "sync/atomic"

import "github.com/bnclabs/golog"
import "github.com/bnclabs/gcalloc/api"

// allocdegraded allocate a small object directly from major heap, when
// nursery cannot serve it even after a collection.
func (heap *Heap) allocdegraded(
	vt api.Vtable, size int64, length uint64) (api.Addr, error) {

	heap.warndegraded()
	atomic.AddInt64(&heap.degraded, size)
	atomic.AddInt64(&heap.n_degraded, 1)
	heap.ensurefreespace(size, GenerationOld)

	ptr, ok := heap.major.Allocdegraded(vt, size, length)
	if !ok {
		heap.collect(GenerationOld, 0, "degraded allocation failure")
		ptr, ok = heap.major.Allocdegraded(vt, size, length)
	}
	if !ok {
		atomic.AddInt64(&heap.n_ooms, 1)
		errorf("%v out of memory allocating %v degraded bytes\n", heap.logprefix, size)
		return 0, api.ErrorOutofMemory
	}
	return ptr, nil
}

// warndegraded count one degraded episode per major collection epoch,
// and warn on the 1st, 3rd and 10th episode.
func (heap *Heap) warndegraded() {
	majors := atomic.LoadInt64(&heap.n_majors)
	if heap.warnedat >= majors {
		return
	}
	heap.warnedat = majors
	switch atomic.AddInt64(&heap.n_episodes, 1) {
	case 1, 3:
		fmsg := "%v degraded allocation, consider increasing " +
			"nursery.size if the warning persists\n"
		log.Warnf(fmsg, heap.logprefix)
	case 10:
		fmsg := "%v repeated degraded allocation, consider increasing nursery.size\n"
		log.Warnf(fmsg, heap.logprefix)
	}
}
