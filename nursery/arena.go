package nursery

import "unsafe"
import "sync/atomic"

import s "github.com/bnclabs/gosettings"
import "github.com/bnclabs/gcalloc/api"

// Nursery is a single block of memory, from which TLABs and directly
// allocated objects are carved. Nursery memory is addressed with
// api.Addr and accessed word by word.
type Nursery struct {
	backing    []uint64 // nursery memory
	scanstarts []uint64 // one hint per section of `scanstart` bytes
	frags      *Fragments

	// configuration
	start       api.Addr
	end         api.Addr
	size        int64
	maxwaste    int64
	scanstart   int64
	clearpolicy string
}

// New create a new nursery. Refer to Defaultsettings() for
// configurables.
func New(setts s.Settings) *Nursery {
	setts = make(s.Settings).Mixin(Defaultsettings(), setts)
	size, maxwaste := setts.Int64("size"), setts.Int64("maxwaste")
	scanstart, clearpolicy := setts.Int64("scanstart"), setts.String("clear")
	validatesettings(size, maxwaste, scanstart, clearpolicy)

	n := &Nursery{
		backing:     make([]uint64, size/api.Wordsize),
		scanstarts:  make([]uint64, size/scanstart),
		size:        size,
		maxwaste:    maxwaste,
		scanstart:   scanstart,
		clearpolicy: clearpolicy,
	}
	n.start = api.Addr(uintptr(unsafe.Pointer(&n.backing[0])))
	n.end = n.start + api.Addr(size)
	n.frags = newfragments(n.Bounds(), maxwaste)
	n.frags.Rebuild(nil)

	fmsg := "nursery %v bytes at %v, maxwaste:%v scanstart:%v clear:%v\n"
	infof(fmsg, size, n.Bounds(), maxwaste, scanstart, clearpolicy)
	return n
}

//---- accessors

// Bounds return nursery's address range.
func (n *Nursery) Bounds() api.Range {
	return api.Range{Start: n.start, End: n.end}
}

// Size return nursery size in bytes.
func (n *Nursery) Size() int64 {
	return n.size
}

// Maxwaste return the waste threshold.
func (n *Nursery) Maxwaste() int64 {
	return n.maxwaste
}

// Scanstartsize return the granularity of scan start hints.
func (n *Nursery) Scanstartsize() int64 {
	return n.scanstart
}

// Contains return true if addr points into nursery.
func (n *Nursery) Contains(addr api.Addr) bool {
	return n.start <= addr && addr < n.end
}

// Fragments return nursery's fragment allocator.
func (n *Nursery) Fragments() *Fragments {
	return n.frags
}

// Clearattlab return true if memory is to be zeroed when carved out,
// false if it is zeroed at collection time.
func (n *Nursery) Clearattlab() bool {
	return n.clearpolicy == "tlab"
}

//---- object headers

// Publish initialize an object's header at addr with vtable. Thread safe.
func (n *Nursery) Publish(addr api.Addr, vt api.Vtable) {
	if vt == 0 {
		panicerr("publishing object at %x with nil vtable", uintptr(addr))
	}
	idx := n.index(addr)
	if heavyassert && atomic.LoadUint64(&n.backing[idx]) != 0 {
		panicerr("object header at %x is not zero", uintptr(addr))
	}
	atomic.StoreUint64(&n.backing[idx], uint64(vt))
}

// Publishvector initialize header at addr with array length and vtable,
// vtable is stored last. Thread safe.
func (n *Nursery) Publishvector(addr api.Addr, vt api.Vtable, length uint64) {
	idx := n.index(addr)
	atomic.StoreUint64(&n.backing[idx+1], length)
	n.Publish(addr, vt)
}

// Header return the vtable and the size-relevant field of an object.
// A zero vtable means the object is not published yet. Thread safe.
func (n *Nursery) Header(addr api.Addr) (api.Vtable, uint64) {
	idx := n.index(addr)
	vt := api.Vtable(atomic.LoadUint64(&n.backing[idx]))
	return vt, atomic.LoadUint64(&n.backing[idx+1])
}

// Store a word into nursery. Thread safe.
func (n *Nursery) Store(addr api.Addr, word uint64) {
	atomic.StoreUint64(&n.backing[n.index(addr)], word)
}

// Load a word from nursery. Thread safe.
func (n *Nursery) Load(addr api.Addr) uint64 {
	return atomic.LoadUint64(&n.backing[n.index(addr)])
}

// Clear zero `size` bytes starting from addr.
func (n *Nursery) Clear(addr api.Addr, size int64) {
	checkaligned(addr, size)
	from := n.index(addr)
	till := from + int(size/api.Wordsize)
	if size > 0 && (till-1) >= len(n.backing) {
		panicerr("clearing %v bytes at %x beyond nursery", size, uintptr(addr))
	}
	for i := from; i < till; i++ {
		atomic.StoreUint64(&n.backing[i], 0)
	}
}

//---- scan starts

// Setscanstart remember addr as the lowest known object start in its
// section. Thread safe.
func (n *Nursery) Setscanstart(addr api.Addr) {
	slot := &n.scanstarts[int64(addr-n.start)/n.scanstart]
	for {
		old := atomic.LoadUint64(slot)
		if old != 0 && old <= uint64(addr) {
			return
		} else if atomic.CompareAndSwapUint64(slot, old, uint64(addr)) {
			return
		}
	}
}

// Scanstarts iterate over scan start hints in address order, stops when
// callback returns false. Thread safe.
func (n *Nursery) Scanstarts(callb func(addr api.Addr) bool) {
	for i := range n.scanstarts {
		if addr := atomic.LoadUint64(&n.scanstarts[i]); addr != 0 {
			if !callb(api.Addr(addr)) {
				return
			}
		}
	}
}

//---- collection

// Rebuild free space after a collection, survivors are nursery ranges
// occupied by objects that stayed in place. Scan starts are reset. With
// "gc" clear policy free space is zeroed. Must be called with all
// allocators excluded. Return the number of free bytes.
func (n *Nursery) Rebuild(survivors []api.Range) int64 {
	for i := range n.scanstarts {
		atomic.StoreUint64(&n.scanstarts[i], 0)
	}
	for _, r := range survivors {
		n.Setscanstart(r.Start)
	}
	free := n.frags.Rebuild(survivors)
	if !n.Clearattlab() {
		n.frags.Walk(func(start, _, end api.Addr) bool {
			n.Clear(start, int64(end-start))
			return true
		})
	}
	return free
}

// Stats return nursery statistics.
func (n *Nursery) Stats() map[string]interface{} {
	stats := n.frags.Stats()
	stats["size"] = n.size
	stats["maxwaste"] = n.maxwaste
	stats["scanstart"] = n.scanstart
	stats["clear"] = n.clearpolicy
	return stats
}

func (n *Nursery) index(addr api.Addr) int {
	if addr < n.start || addr >= n.end {
		panicerr("address %x outside nursery %v", uintptr(addr), n.Bounds())
	}
	return int((addr - n.start) / api.Addr(api.Wordsize))
}
