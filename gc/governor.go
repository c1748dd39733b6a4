package gc

import "sync/atomic"

import s "github.com/bnclabs/gosettings"
import humanize "github.com/dustin/go-humanize"
import "github.com/bnclabs/golog"
import "github.com/bnclabs/gcalloc/api"
import "github.com/bnclabs/gcalloc/lib"

// Governor decides when a major collection is due and computes the
// minor collection allowance, the number of bytes that may be promoted
// to major heap or allocated in large object space before next major
// collection. Mutations happen under the GC lock, except for space
// accounting and section registration which are atomic.
type Governor struct {
	// 64-bit aligned, accessed atomically
	allocatedheap   int64 // bytes committed outside nursery
	sectionsalloced int64 // sections allocated since last major
	minorsections   int64 // sections allocated during this minor cycle
	allowance       int64
	lastlos         int64 // los usage after last major
	concurrent      int64 // major collection in flight

	// history of last major collection
	oldsections   int64 // major sections before
	newsections   int64 // major sections after
	oldlos        int64 // los usage before
	losalloced    int64 // los growth between previous major and last major
	sectionsdelta int64 // sections allocated between the two majors
	needcalc      bool

	// statistics
	n_computes   int64
	h_allowance  *lib.HistogramSize
	h_minorsects *lib.HistogramSize

	major api.Majorheap
	los   api.Largeobjects

	// settings
	maxheap      int64
	softlimit    int64
	minallowance int64
	saveratio    float64
	logallowance bool
}

// NewGovernor create a memory governor for the nursery configured in
// setts. Refer to Defaultsettings() for configurables.
func NewGovernor(setts s.Settings, major api.Majorheap, los api.Largeobjects) *Governor {
	gov := &Governor{major: major, los: los}
	gov.readsettings(setts)
	gov.allowance = gov.minallowance
	gov.h_allowance = lib.NewhistogramSize(1024*1024, 1024*1024*1024*1024)
	gov.h_minorsects = lib.NewhistogramSize(1, 1024*1024)
	return gov
}

//---- admission

// Needmajor return true if allocating `space` bytes calls for a major
// collection, either because heap headroom is short or because more
// than allowance bytes were allocated since last major collection.
// Safe to call without the GC lock, stale values can only cause an
// extra collection.
func (gov *Governor) Needmajor(space int64) bool {
	if atomic.LoadInt64(&gov.concurrent) > 0 {
		return false
	}
	losusage := gov.los.Usage()
	losalloced := losusage - minint64(atomic.LoadInt64(&gov.lastlos), losusage)
	sections := atomic.LoadInt64(&gov.sectionsalloced)
	alloced := sections*gov.major.Sectionsize() + losalloced
	return space > gov.Availablespace() || alloced > atomic.LoadInt64(&gov.allowance)
}

// Allowance return current minor collection allowance.
func (gov *Governor) Allowance() int64 {
	return atomic.LoadInt64(&gov.allowance)
}

// Minallowance return the floor for minor collection allowance.
func (gov *Governor) Minallowance() int64 {
	return gov.minallowance
}

//---- space accounting, implements api.Spacer

// Availablespace return bytes that can still be committed outside
// nursery.
func (gov *Governor) Availablespace() int64 {
	return gov.maxheap - minint64(atomic.LoadInt64(&gov.allocatedheap), gov.maxheap)
}

// Allocatedheap return bytes committed outside nursery.
func (gov *Governor) Allocatedheap() int64 {
	return atomic.LoadInt64(&gov.allocatedheap)
}

// Tryallocspace implement api.Spacer{} interface.
func (gov *Governor) Tryallocspace(size int64) bool {
	if gov.Availablespace() < size {
		return false
	}
	atomic.AddInt64(&gov.allocatedheap, size)
	return true
}

// Releasespace implement api.Spacer{} interface.
func (gov *Governor) Releasespace(size int64) {
	atomic.AddInt64(&gov.allocatedheap, -size)
}

// Registersections implement api.Spacer{} interface.
func (gov *Governor) Registersections(n int64) {
	atomic.AddInt64(&gov.sectionsalloced, n)
	atomic.AddInt64(&gov.minorsections, n)
}

//---- collection hooks, called under the GC lock.

// Minorstart compute a pending allowance, if a major collection
// completed since the last computation.
func (gov *Governor) Minorstart() {
	if atomic.LoadInt64(&gov.concurrent) == 0 {
		gov.trycalculate()
	}
}

// Minorend reset per minor cycle counters.
func (gov *Governor) Minorend() {
	gov.h_minorsects.Add(atomic.SwapInt64(&gov.minorsections, 0))
}

// Majorstart snapshot major heap occupancy before collection.
func (gov *Governor) Majorstart() {
	gov.oldsections = gov.major.Sections()
	losusage := gov.los.Usage()
	gov.losalloced = losusage - minint64(atomic.LoadInt64(&gov.lastlos), losusage)
	gov.oldlos = losusage
}

// Majorend snapshot occupancy after collection and mark allowance for
// computation at the start of next minor collection.
func (gov *Governor) Majorend() {
	gov.newsections = gov.major.Sections()
	gov.sectionsdelta = atomic.SwapInt64(&gov.sectionsalloced, 0)
	atomic.StoreInt64(&gov.lastlos, gov.los.Usage())
	gov.needcalc = true
}

// Beginconcurrent mark the start of a major collection running
// concurrently with mutators, no major collection is triggered till
// Endconcurrent.
func (gov *Governor) Beginconcurrent() {
	gov.Majorstart()
	atomic.StoreInt64(&gov.concurrent, 1)
}

// Endconcurrent mark the end of concurrent major collection.
func (gov *Governor) Endconcurrent() {
	atomic.StoreInt64(&gov.concurrent, 0)
	gov.Majorend()
}

// Concurrent return true if a concurrent major collection is in flight.
func (gov *Governor) Concurrent() bool {
	return atomic.LoadInt64(&gov.concurrent) > 0
}

// Stats return governor statistics.
func (gov *Governor) Stats() map[string]interface{} {
	return map[string]interface{}{
		"allocatedheap":   gov.Allocatedheap(),
		"availablespace":  gov.Availablespace(),
		"sectionsalloced": atomic.LoadInt64(&gov.sectionsalloced),
		"allowance":       gov.Allowance(),
		"minallowance":    gov.minallowance,
		"n_computes":      gov.n_computes,
		"h_allowance":     gov.h_allowance.Fullstats(),
		"h_minorsects":    gov.h_minorsects.Fullstats(),
	}
}

//---- local functions

// trycalculate extrapolate next allowance assuming the next major
// collection will be as effective as the last one:
//
//      saved by last major         save target
//  --------------------------- == ------------------
//  allocated before last major     next allowance
//
func (gov *Governor) trycalculate() {
	if !gov.needcalc {
		return
	}
	secsize := gov.major.Sectionsize()
	lastlos := atomic.LoadInt64(&gov.lastlos)

	newmajor := gov.newsections * secsize
	newheap := newmajor + lastlos
	saved := maxint64(gov.oldsections-gov.newsections, 0) * secsize
	saved += maxint64(gov.oldlos-lastlos, 0)
	alloced := gov.sectionsdelta*secsize + gov.losalloced
	savetarget := int64(float64(newheap) * gov.saveratio)

	allowance := gov.minallowance
	if saved > 0 {
		target := int64(float64(savetarget) * (float64(alloced) / float64(saved)))
		allowance = maxint64(minint64(target, newheap), gov.minallowance)
	}
	if newheap > gov.softlimit {
		allowance = gov.minallowance
	} else if newheap+allowance > gov.softlimit {
		allowance = maxint64(gov.softlimit-newheap, gov.minallowance)
	}
	atomic.StoreInt64(&gov.allowance, allowance)
	gov.h_allowance.Add(allowance)
	gov.n_computes++
	gov.needcalc = false

	if gov.logallowance {
		fmsg := "governor heap before:%v after:%v saved:%v target:%v allowance:%v\n"
		before := gov.oldsections*secsize + gov.oldlos
		hb := humanize.IBytes
		log.Infof(fmsg, hb(uint64(before)), hb(uint64(newheap)),
			hb(uint64(saved)), hb(uint64(savetarget)), hb(uint64(allowance)))
	}
}

func minint64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxint64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
