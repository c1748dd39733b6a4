package gc

import "math"

import s "github.com/bnclabs/gosettings"
import "github.com/cloudfoundry/gosigar"
import "github.com/bnclabs/gcalloc/api"
import "github.com/bnclabs/gcalloc/nursery"

// Defaulttlabsize nominal size of a TLAB.
const Defaulttlabsize = int64(4 * 1024)

// Defaultmaxsmallobj objects larger than this are allocated from the
// large object space.
const Defaultmaxsmallobj = int64(8000)

// Defaultsettings for heap, along with its nursery.
//
// "tlab.size" (int64, default: <Defaulttlabsize>)
//		Nominal size of a thread local allocation buffer.
//
// "maxsmallobj" (int64, default: <Defaultmaxsmallobj>)
//		Objects larger than this threshold never live in a TLAB, they
//		are allocated from large object space.
//
// "maxheap" (int64, default: total system memory)
//		Hard limit on memory committed outside the nursery, shall be at
//		least 4 times "nursery.size". Zero means no limit.
//
// "softlimit" (int64, default: 0)
//		Soft limit on heap size, minor collection allowance is trimmed to
//		keep the heap under this limit. Zero means no limit.
//
// "allowance.ratio" (float64, default: 4.0)
//		Minimum minor collection allowance, as a multiple of
//		"nursery.size".
//
// "savetarget.ratio" (float64, default: 0.5)
//		Fraction of major heap that next major collection is expected
//		to reclaim.
//
// "log.allowance" (bool, default: false)
//		Log the computed allowance after every major collection.
//
// "nursery.*"
//		Refer to nursery.Defaultsettings().
func Defaultsettings() s.Settings {
	total, _, _ := getsysmem()
	setts := s.Settings{
		"tlab.size":        Defaulttlabsize,
		"maxsmallobj":      Defaultmaxsmallobj,
		"maxheap":          int64(total),
		"softlimit":        int64(0),
		"allowance.ratio":  float64(4.0),
		"savetarget.ratio": float64(0.5),
		"log.allowance":    false,
	}
	nsetts := nursery.Defaultsettings().AddPrefix("nursery.")
	return setts.Mixin(nsetts)
}

func (heap *Heap) readsettings(setts s.Settings) {
	heap.tlabsize = setts.Int64("tlab.size")
	heap.maxsmallobj = setts.Int64("maxsmallobj")
	heap.nurserysize = setts.Int64("nursery.size")
	heap.maxwaste = setts.Int64("nursery.maxwaste")
	heap.scanstart = setts.Int64("nursery.scanstart")

	if heap.tlabsize < api.MinObjsize || (heap.tlabsize%api.Alignment) != 0 {
		panicerr("tlab.size %v not a multiple of %v", heap.tlabsize, api.Alignment)
	} else if heap.tlabsize > heap.nurserysize {
		panicerr("tlab.size %v exceeds nursery.size %v", heap.tlabsize, heap.nurserysize)
	} else if heap.maxsmallobj < api.MinObjsize {
		panicerr("maxsmallobj %v less than %v", heap.maxsmallobj, api.MinObjsize)
	} else if heap.maxsmallobj > heap.nurserysize {
		panicerr("maxsmallobj %v exceeds nursery.size", heap.maxsmallobj)
	}
}

func (gov *Governor) readsettings(setts s.Settings) {
	nurserysize := setts.Int64("nursery.size")
	maxheap, softlimit := setts.Int64("maxheap"), setts.Int64("softlimit")
	ratio := setts.Float64("allowance.ratio")
	gov.saveratio = setts.Float64("savetarget.ratio")
	gov.logallowance = setts.Bool("log.allowance")

	if maxheap < 0 || softlimit < 0 {
		panicerr("negative maxheap %v or softlimit %v", maxheap, softlimit)
	} else if maxheap > 0 && maxheap < softlimit {
		panicerr("maxheap %v must be at least softlimit %v", maxheap, softlimit)
	} else if maxheap > 0 && maxheap < 4*nurserysize {
		panicerr("maxheap %v must be at least 4 x nursery.size", maxheap)
	} else if ratio < 1.0 {
		panicerr("allowance.ratio %v must be at least 1", ratio)
	} else if gov.saveratio <= 0 || gov.saveratio > 1 {
		panicerr("savetarget.ratio %v must be in (0,1]", gov.saveratio)
	}

	gov.maxheap = math.MaxInt64
	if maxheap > 0 {
		gov.maxheap = maxheap - nurserysize // nursery is not accounted
	}
	gov.softlimit = math.MaxInt64
	if softlimit > 0 {
		gov.softlimit = softlimit
	}
	gov.minallowance = int64(float64(nurserysize) * ratio)
}

func getsysmem() (total, used, free uint64) {
	mem := sigar.Mem{}
	mem.Get()
	return mem.Total, mem.Used, mem.Free
}
