package gc

import "fmt"
import "runtime"
import "sync"
import "time"
import "sync/atomic"

import s "github.com/bnclabs/gosettings"
import "github.com/bnclabs/gcalloc/api"
import "github.com/bnclabs/gcalloc/lib"
import "github.com/bnclabs/gcalloc/nursery"

// GenerationNursery identifies a minor collection.
const GenerationNursery = 0

// GenerationOld identifies a major collection.
const GenerationOld = 1

// Heap owns the nursery, its fragments and the memory governor. Mutators
// attach to a heap and allocate from it. Slow path allocations and
// collections are serialized by the GC lock.
type Heap struct {
	// 64-bit aligned, accessed atomically
	stopping   int64 // collector wants to run
	degraded   int64 // bytes allocated in degraded mode since last major
	n_minors   int64
	n_majors   int64
	n_degraded int64
	n_large    int64
	n_slowpath int64
	n_ooms     int64

	// degraded warnings
	n_episodes int64 // major epochs that saw degraded allocation
	warnedat   int64 // n_majors at last counted episode

	mu       sync.Mutex // GC lock
	name     string
	nursery  *nursery.Nursery
	frags    *nursery.Fragments
	governor *Governor
	tracer   api.Tracer
	major    api.Majorheap
	los      api.Largeobjects
	mutators map[*Mutator]struct{}
	nextid   int64

	h_tlabsize *lib.HistogramSize
	a_pause    *lib.AverageDuration // world stopped for collection
	logprefix  string

	// settings
	tlabsize    int64
	maxsmallobj int64
	nurserysize int64
	maxwaste    int64
	scanstart   int64
	clearattlab bool
	setts       s.Settings
}

// NewHeap create a heap named `name` collected by tracer, with major
// as old generation and los as large object space. Refer to
// Defaultsettings() for configurables.
func NewHeap(
	name string, setts s.Settings,
	tracer api.Tracer, major api.Majorheap, los api.Largeobjects) *Heap {

	setts = make(s.Settings).Mixin(Defaultsettings(), setts)
	heap := &Heap{
		name:      name,
		tracer:    tracer,
		major:     major,
		los:       los,
		mutators:  make(map[*Mutator]struct{}),
		warnedat:  -1,
		setts:     setts,
		logprefix: fmt.Sprintf("GC [%s]", name),
	}
	heap.readsettings(setts)
	heap.nursery = nursery.New(setts.Section("nursery").Trim("nursery."))
	heap.frags = heap.nursery.Fragments()
	heap.clearattlab = heap.nursery.Clearattlab()
	heap.governor = NewGovernor(setts, major, los)
	heap.h_tlabsize = lib.NewhistogramSize(api.MinObjsize, heap.nurserysize)
	heap.a_pause = &lib.AverageDuration{}

	infof("%v started with nursery %v\n", heap.logprefix, heap.nursery.Bounds())
	return heap
}

//---- accessors

// Name return heap's name.
func (heap *Heap) Name() string {
	return heap.name
}

// Governor return heap's memory governor.
func (heap *Heap) Governor() *Governor {
	return heap.governor
}

// Nursery return heap's nursery.
func (heap *Heap) Nursery() *nursery.Nursery {
	return heap.nursery
}

// Degraded return bytes allocated in degraded mode since last major
// collection.
func (heap *Heap) Degraded() int64 {
	return atomic.LoadInt64(&heap.degraded)
}

// Minors return number of minor collections so far.
func (heap *Heap) Minors() int64 {
	return atomic.LoadInt64(&heap.n_minors)
}

// Majors return number of major collections so far.
func (heap *Heap) Majors() int64 {
	return atomic.LoadInt64(&heap.n_majors)
}

// Getsettings return the settings heap is configured with.
func (heap *Heap) Getsettings() s.Settings {
	return heap.setts
}

//---- mutators

// Attach a new mutator to the heap. Mutator is owned by the calling
// goroutine and shall not be shared.
func (heap *Heap) Attach() *Mutator {
	heap.mu.Lock()
	defer heap.mu.Unlock()

	heap.nextid++
	m := &Mutator{heap: heap, id: heap.nextid}
	heap.mutators[m] = struct{}{}
	debugf("%v mutator %v attached\n", heap.logprefix, m.id)
	return m
}

func (heap *Heap) detach(m *Mutator) {
	heap.mu.Lock()
	defer heap.mu.Unlock()

	if _, ok := heap.mutators[m]; !ok {
		panicerr("mutator %v is not attached to %v", m.id, heap.name)
	}
	tlab := m.tlab
	if tlab.realend != 0 && heap.frags.Retire(tlab.next, tlab.realend) {
		debugf("%v mutator %v retired %v bytes\n", heap.logprefix, m.id, tlab.leftover())
	} else {
		m.wasted += tlab.leftover()
	}
	m.tlab = Tlab{}
	delete(heap.mutators, m)
	debugf("%v mutator %v detached\n", heap.logprefix, m.id)
}

//---- collection

// Collect run a collection of `generation`, GenerationNursery for
// minor collection and GenerationOld for major collection. Blocks
// till the collection is complete.
func (heap *Heap) Collect(generation int, reason string) {
	heap.mu.Lock()
	defer heap.mu.Unlock()
	heap.collect(generation, 0, reason)
}

// Beginconcurrent mark the start of a major collection that runs
// concurrently with mutators. Major collections are not triggered by
// the governor till the tracer reports its workers done, refer to
// api.Concurrent.
func (heap *Heap) Beginconcurrent() {
	heap.mu.Lock()
	defer heap.mu.Unlock()
	heap.governor.Beginconcurrent()
	debugf("%v concurrent major collection started\n", heap.logprefix)
}

// ensurefreespace decide whether a collection is needed before
// allocating `size` bytes in `generation`, and run it. Called with
// GC lock held.
func (heap *Heap) ensurefreespace(size int64, generation int) {
	collect, reason := -1, ""
	gov := heap.governor
	if generation == GenerationOld {
		if gov.Needmajor(size) {
			collect, reason = GenerationOld, "LOS overflow"
		}
	} else if atomic.LoadInt64(&heap.degraded) > 0 {
		if gov.Needmajor(size) {
			collect, reason = GenerationOld, "degraded mode overflow"
		}
	} else if gov.Needmajor(size) {
		collect, reason = GenerationOld, "minor allowance"
	} else {
		collect, reason = GenerationNursery, "nursery full"
	}

	if collect < 0 && gov.Concurrent() {
		if c, ok := heap.tracer.(api.Concurrent); ok && c.Workersdone() {
			collect, reason = GenerationOld, "finish concurrent collection"
		}
	}
	if collect >= 0 {
		heap.collect(collect, size, reason)
	}
}

// collect with GC lock held. `requested` is the allocation size that
// caused the collection, a minor collection that leaves no room for it
// switches the heap to degraded allocation.
func (heap *Heap) collect(generation int, requested int64, reason string) {
	begin := time.Now()
	heap.stopworld()
	if generation == GenerationNursery {
		if overflow := heap.minor(reason); overflow {
			heap.majorcollect("minor overflow")
		}
	} else {
		heap.majorcollect(reason)
	}
	if generation == GenerationNursery && requested > 0 && !heap.frags.Canalloc(requested) {
		fmsg := "%v collection %q found no room for %v bytes in nursery\n"
		debugf(fmsg, heap.logprefix, reason, requested)
		atomic.CompareAndSwapInt64(&heap.degraded, 0, 1)
	}
	heap.restartworld()
	heap.a_pause.Add(time.Since(begin))
}

func (heap *Heap) minor(reason string) bool {
	debugf("%v minor collection %q\n", heap.logprefix, reason)
	heap.governor.Minorstart()
	survivors, overflow := heap.tracer.Minor(reason)
	free := heap.nursery.Rebuild(survivors)
	heap.governor.Minorend()
	atomic.AddInt64(&heap.n_minors, 1)
	tracef("%v minor collection freed %v bytes\n", heap.logprefix, free)
	return overflow
}

func (heap *Heap) majorcollect(reason string) {
	debugf("%v major collection %q\n", heap.logprefix, reason)
	concurrent := heap.governor.Concurrent()
	if !concurrent {
		heap.governor.Majorstart()
	}
	survivors := heap.tracer.Major(reason)
	free := heap.nursery.Rebuild(survivors)
	atomic.StoreInt64(&heap.degraded, 0)
	if concurrent {
		heap.governor.Endconcurrent()
	} else {
		heap.governor.Majorend()
	}
	atomic.AddInt64(&heap.n_majors, 1)
	tracef("%v major collection freed %v nursery bytes\n", heap.logprefix, free)
}

// stopworld raise the stopping flag and wait for every mutator to leave
// its critical region, then retire all TLABs.
func (heap *Heap) stopworld() {
	atomic.StoreInt64(&heap.stopping, 1)
	for m := range heap.mutators {
		for atomic.LoadInt64(&m.incritical) > 0 {
			runtime.Gosched()
		}
	}
	for m := range heap.mutators {
		if heavyassert {
			m.tlab.validate()
		}
		m.tlab = Tlab{}
	}
}

func (heap *Heap) restartworld() {
	atomic.StoreInt64(&heap.stopping, 0)
}
