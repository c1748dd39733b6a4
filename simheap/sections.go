package simheap

import "fmt"
import "sync"
import "sync/atomic"
import "unsafe"

import s "github.com/bnclabs/gosettings"
import "github.com/bnclabs/gcalloc/api"

type section struct {
	words []uint64
	start api.Addr
	used  int64
	objs  []api.Addr
}

func (sec *section) contains(addr api.Addr) bool {
	return sec.start <= addr && addr < sec.start+api.Addr(len(sec.words)*8)
}

func (sec *section) index(addr api.Addr) int {
	return int((addr - sec.start) / api.Addr(api.Wordsize))
}

// Sectionheap is an old generation made of fixed size sections, objects
// are bump allocated within a section and a section is released when
// none of its objects survive a sweep. Implements api.Majorheap.
type Sectionheap struct {
	// 64-bit aligned stats
	n_allocs   int64
	n_sections int64
	n_releases int64
	n_fails    int64

	mu          sync.Mutex
	sectionsize int64
	sections    []*section
	current     *section
	spacer      api.Spacer
}

// NewSectionheap create an empty major heap. Refer to Defaultsettings().
func NewSectionheap(setts s.Settings) *Sectionheap {
	setts = make(s.Settings).Mixin(Defaultsettings(), setts)
	sectionsize := setts.Int64("section.size")
	checksize("section.size", sectionsize)
	return &Sectionheap{sectionsize: sectionsize}
}

// Bind space accounting, new sections are reserved and registered with
// spacer. Shall be called before the first allocation.
func (major *Sectionheap) Bind(spacer api.Spacer) {
	major.mu.Lock()
	defer major.mu.Unlock()
	major.spacer = spacer
}

// Allocdegraded implement api.Majorheap{} interface.
func (major *Sectionheap) Allocdegraded(
	vt api.Vtable, size int64, length uint64) (api.Addr, bool) {

	major.mu.Lock()
	defer major.mu.Unlock()

	checksize("object size", size)
	if size < api.MinObjsize || size > major.sectionsize {
		major.n_fails++
		return 0, false
	}
	sec := major.current
	if sec == nil || sec.used+size > major.sectionsize {
		if sec = major.newsection(); sec == nil {
			major.n_fails++
			return 0, false
		}
	}
	addr := sec.start + api.Addr(sec.used)
	sec.used += size
	sec.objs = append(sec.objs, addr)
	idx := sec.index(addr)
	atomic.StoreUint64(&sec.words[idx+1], length)
	atomic.StoreUint64(&sec.words[idx], uint64(vt))
	major.n_allocs++
	return addr, true
}

// Sections implement api.Majorheap{} interface.
func (major *Sectionheap) Sections() int64 {
	major.mu.Lock()
	defer major.mu.Unlock()
	return int64(len(major.sections))
}

// Sectionsize implement api.Majorheap{} interface.
func (major *Sectionheap) Sectionsize() int64 {
	return major.sectionsize
}

// Contains return true if addr points into one of the sections.
func (major *Sectionheap) Contains(addr api.Addr) bool {
	major.mu.Lock()
	defer major.mu.Unlock()
	return major.lookup(addr) != nil
}

// Header return vtable and length of object at addr.
func (major *Sectionheap) Header(addr api.Addr) (api.Vtable, uint64) {
	major.mu.Lock()
	defer major.mu.Unlock()
	sec := major.mustlookup(addr)
	idx := sec.index(addr)
	vt := atomic.LoadUint64(&sec.words[idx])
	return api.Vtable(vt), atomic.LoadUint64(&sec.words[idx+1])
}

// Store a word at addr.
func (major *Sectionheap) Store(addr api.Addr, word uint64) {
	major.mu.Lock()
	defer major.mu.Unlock()
	sec := major.mustlookup(addr)
	atomic.StoreUint64(&sec.words[sec.index(addr)], word)
}

// Load a word from addr.
func (major *Sectionheap) Load(addr api.Addr) uint64 {
	major.mu.Lock()
	defer major.mu.Unlock()
	sec := major.mustlookup(addr)
	return atomic.LoadUint64(&sec.words[sec.index(addr)])
}

// Sweep release every section without a live object. Return the
// number of sections released.
func (major *Sectionheap) Sweep(live func(addr api.Addr) bool) int64 {
	major.mu.Lock()
	defer major.mu.Unlock()

	released, kept := int64(0), major.sections[:0]
	for _, sec := range major.sections {
		objs := sec.objs[:0]
		for _, addr := range sec.objs {
			if live(addr) {
				objs = append(objs, addr)
			}
		}
		sec.objs = objs
		if len(objs) > 0 {
			kept = append(kept, sec)
			continue
		}
		if sec == major.current {
			major.current = nil
		}
		major.spacer.Releasespace(major.sectionsize)
		released++
	}
	for i := len(kept); i < len(major.sections); i++ {
		major.sections[i] = nil
	}
	major.sections = kept
	major.n_releases += released
	debugf("simheap swept major heap, released %v sections\n", released)
	return released
}

// Stats return major heap statistics.
func (major *Sectionheap) Stats() map[string]interface{} {
	major.mu.Lock()
	defer major.mu.Unlock()
	return map[string]interface{}{
		"sectionsize": major.sectionsize,
		"sections":    int64(len(major.sections)),
		"n_allocs":    major.n_allocs,
		"n_sections":  major.n_sections,
		"n_releases":  major.n_releases,
		"n_fails":     major.n_fails,
	}
}

func (major *Sectionheap) newsection() *section {
	if major.spacer == nil {
		panic("major heap is not bound to a spacer")
	} else if !major.spacer.Tryallocspace(major.sectionsize) {
		return nil
	}
	major.spacer.Registersections(1)
	sec := &section{words: make([]uint64, major.sectionsize/api.Wordsize)}
	sec.start = api.Addr(uintptr(unsafe.Pointer(&sec.words[0])))
	major.sections = append(major.sections, sec)
	major.current = sec
	major.n_sections++
	return sec
}

func (major *Sectionheap) lookup(addr api.Addr) *section {
	for _, sec := range major.sections {
		if sec.contains(addr) {
			return sec
		}
	}
	return nil
}

func (major *Sectionheap) mustlookup(addr api.Addr) *section {
	if sec := major.lookup(addr); sec != nil {
		return sec
	}
	panic(fmt.Errorf("address %x not in major heap", uintptr(addr)))
}
