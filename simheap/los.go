package simheap

import "sync"
import "sync/atomic"
import "unsafe"

import s "github.com/bnclabs/gosettings"
import "github.com/bnclabs/gcalloc/api"

// Largespace is a large object space, every object gets its own block
// of memory rounded up to a page. Implements api.Largeobjects.
type Largespace struct {
	// 64-bit aligned stats
	usage    int64
	n_allocs int64
	n_frees  int64
	n_fails  int64

	mu       sync.Mutex
	pagesize int64
	objects  map[api.Addr][]uint64
	spacer   api.Spacer
}

// NewLargespace create an empty large object space. Refer to
// Defaultsettings().
func NewLargespace(setts s.Settings) *Largespace {
	setts = make(s.Settings).Mixin(Defaultsettings(), setts)
	pagesize := setts.Int64("los.pagesize")
	checksize("los.pagesize", pagesize)
	return &Largespace{
		pagesize: pagesize,
		objects:  make(map[api.Addr][]uint64),
	}
}

// Bind space accounting, every object is reserved with spacer. Shall be
// called before the first allocation.
func (los *Largespace) Bind(spacer api.Spacer) {
	los.mu.Lock()
	defer los.mu.Unlock()
	los.spacer = spacer
}

// Alloclarge implement api.Largeobjects{} interface.
func (los *Largespace) Alloclarge(
	vt api.Vtable, size int64, length uint64) (api.Addr, bool) {

	los.mu.Lock()
	defer los.mu.Unlock()

	checksize("object size", size)
	if los.spacer == nil {
		panic("large object space is not bound to a spacer")
	}
	if size < api.MinObjsize {
		los.n_fails++
		return 0, false
	}
	size = roundup(size, los.pagesize)
	if !los.spacer.Tryallocspace(size) {
		los.n_fails++
		return 0, false
	}
	words := make([]uint64, size/api.Wordsize)
	addr := api.Addr(uintptr(unsafe.Pointer(&words[0])))
	atomic.StoreUint64(&words[1], length)
	atomic.StoreUint64(&words[0], uint64(vt))
	los.objects[addr] = words
	atomic.AddInt64(&los.usage, size)
	los.n_allocs++
	return addr, true
}

// Usage implement api.Largeobjects{} interface.
func (los *Largespace) Usage() int64 {
	return atomic.LoadInt64(&los.usage)
}

// Contains return true if addr is the start of a large object.
func (los *Largespace) Contains(addr api.Addr) bool {
	los.mu.Lock()
	defer los.mu.Unlock()
	_, ok := los.objects[addr]
	return ok
}

// Header return vtable and length of object at addr.
func (los *Largespace) Header(addr api.Addr) (api.Vtable, uint64) {
	los.mu.Lock()
	defer los.mu.Unlock()
	words, ok := los.objects[addr]
	if !ok {
		return 0, 0
	}
	vt := api.Vtable(atomic.LoadUint64(&words[0]))
	return vt, atomic.LoadUint64(&words[1])
}

// Sweep free every object that is not live. Return bytes freed.
func (los *Largespace) Sweep(live func(addr api.Addr) bool) int64 {
	los.mu.Lock()
	defer los.mu.Unlock()

	freed := int64(0)
	for addr, words := range los.objects {
		if live(addr) {
			continue
		}
		size := int64(len(words)) * api.Wordsize
		delete(los.objects, addr)
		los.spacer.Releasespace(size)
		atomic.AddInt64(&los.usage, -size)
		freed += size
		los.n_frees++
	}
	debugf("simheap swept large object space, freed %v bytes\n", freed)
	return freed
}

// Stats return large object space statistics.
func (los *Largespace) Stats() map[string]interface{} {
	los.mu.Lock()
	defer los.mu.Unlock()
	return map[string]interface{}{
		"usage":    atomic.LoadInt64(&los.usage),
		"objects":  int64(len(los.objects)),
		"n_allocs": los.n_allocs,
		"n_frees":  los.n_frees,
		"n_fails":  los.n_fails,
	}
}
