package gc

import "fmt"
import "sync/atomic"

import humanize "github.com/dustin/go-humanize"
import "github.com/bnclabs/golog"

// Stats return heap statistics, nursery and governor statistics are
// nested under "nursery" and "governor".
func (heap *Heap) Stats() map[string]interface{} {
	heap.mu.Lock()
	defer heap.mu.Unlock()
	return heap.stats()
}

// Log heap statistics, byte counts are humanized if `humanize` is true.
func (heap *Heap) Log(humanize bool) {
	heap.mu.Lock()
	defer heap.mu.Unlock()
	heap.log(humanize)
}

func (heap *Heap) stats() map[string]interface{} {
	stats := map[string]interface{}{
		"name":       heap.name,
		"mutators":   int64(len(heap.mutators)),
		"degraded":   atomic.LoadInt64(&heap.degraded),
		"n_minors":   atomic.LoadInt64(&heap.n_minors),
		"n_majors":   atomic.LoadInt64(&heap.n_majors),
		"n_degraded": atomic.LoadInt64(&heap.n_degraded),
		"n_large":    atomic.LoadInt64(&heap.n_large),
		"n_slowpath": atomic.LoadInt64(&heap.n_slowpath),
		"n_ooms":     atomic.LoadInt64(&heap.n_ooms),
		"n_episodes": atomic.LoadInt64(&heap.n_episodes),
		"h_tlabsize": heap.h_tlabsize.Fullstats(),
		"a_pause":    heap.a_pause.Fullstats(),
		"nursery":    heap.nursery.Stats(),
		"governor":   heap.governor.Stats(),
	}
	return stats
}

func (heap *Heap) log(humanize bool) {
	stats := heap.stats()
	nstats := stats["nursery"].(map[string]interface{})
	gstats := stats["governor"].(map[string]interface{})

	dohumanize := func(val interface{}) interface{} {
		if humanize {
			return humanizebytes(val.(int64))
		}
		return val.(int64)
	}

	fmsg := "%v collections minor:%v major:%v slowpath:%v large:%v ooms:%v\n"
	log.Infof(
		fmsg, heap.logprefix, stats["n_minors"], stats["n_majors"],
		stats["n_slowpath"], stats["n_large"], stats["n_ooms"])

	size, avail := dohumanize(nstats["size"]), dohumanize(nstats["available"])
	wasted := dohumanize(nstats["wasted"])
	fmsg = "%v nursery(%v): available %v wasted %v rebuilds %v\n"
	log.Infof(fmsg, heap.logprefix, size, avail, wasted, nstats["n_rebuilds"])

	allowance := dohumanize(gstats["allowance"])
	allocated := dohumanize(gstats["allocatedheap"])
	degraded := dohumanize(stats["degraded"])
	fmsg = "%v governor allowance %v allocated %v degraded %v (%v allocs)\n"
	log.Infof(
		fmsg, heap.logprefix, allowance, allocated, degraded,
		stats["n_degraded"])

	log.Infof("%v tlab sizes %v\n", heap.logprefix, heap.h_tlabsize.Logstring())
	log.Infof("%v pauses %v\n", heap.logprefix, heap.a_pause.Logstring())
}

func humanizebytes(n int64) string {
	if n < 0 {
		return fmt.Sprintf("-%v", humanize.IBytes(uint64(-n)))
	}
	return humanize.IBytes(uint64(n))
}
