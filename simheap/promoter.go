package simheap

import "sort"
import "sync"

import "github.com/bnclabs/gcalloc/api"
import "github.com/bnclabs/gcalloc/nursery"

type root struct {
	addr   api.Addr
	size   int64
	pinned bool
}

// Promoter is a tracer that keeps objects alive only through registered
// roots. Minor collection promotes rooted nursery objects to major heap,
// pinned objects stay in place. Major collection does the same and then
// sweeps major heap and large object space. Implements api.Tracer.
type Promoter struct {
	// stats
	n_minors   int64
	n_majors   int64
	n_promoted int64
	n_overflow int64

	mu        sync.Mutex
	nursery   *nursery.Nursery
	major     *Sectionheap
	los       *Largespace
	roots     map[int64]*root
	nextid    int64
	pinall    bool
	reasons   []string
	survivors []api.Range
}

// NewPromoter create a tracer over major heap and large object space.
func NewPromoter(major *Sectionheap, los *Largespace) *Promoter {
	return &Promoter{
		major: major,
		los:   los,
		roots: make(map[int64]*root),
	}
}

// Bind the nursery to be collected. Shall be called before the first
// collection.
func (p *Promoter) Bind(n *nursery.Nursery) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nursery = n
}

// Root register object of `size` bytes at addr as live, return a handle
// to it. Address of the object may change with every collection.
func (p *Promoter) Root(addr api.Addr, size int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextid++
	p.roots[p.nextid] = &root{addr: addr, size: size}
	return p.nextid
}

// Pin rooted object so that it is never moved.
func (p *Promoter) Pin(id int64, pin bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.roots[id]; ok {
		r.pinned = pin
	}
}

// Drop the root, object becomes garbage.
func (p *Promoter) Drop(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.roots, id)
}

// Lookup current address of rooted object.
func (p *Promoter) Lookup(id int64) (api.Addr, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.roots[id]; ok {
		return r.addr, true
	}
	return 0, false
}

// Pinnursery when true, every collection leaves the entire nursery in
// place, as if it were full of pinned objects.
func (p *Promoter) Pinnursery(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinall = on
}

// Reasons return the reasons of all collections so far, in order.
func (p *Promoter) Reasons() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.reasons...)
}

// Minor implement api.Tracer{} interface.
func (p *Promoter) Minor(reason string) ([]api.Range, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.n_minors++
	p.reasons = append(p.reasons, reason)
	survivors, overflow := p.evacuate()
	if overflow {
		p.n_overflow++
	}
	return survivors, overflow
}

// Major implement api.Tracer{} interface.
func (p *Promoter) Major(reason string) []api.Range {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.n_majors++
	p.reasons = append(p.reasons, reason)
	live := make(map[api.Addr]bool)
	for _, r := range p.roots {
		live[r.addr] = true
	}
	isalive := func(addr api.Addr) bool { return live[addr] }
	p.major.Sweep(isalive)
	p.los.Sweep(isalive)
	survivors, _ := p.evacuate()
	return survivors
}

// Stats return tracer statistics.
func (p *Promoter) Stats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]interface{}{
		"roots":      int64(len(p.roots)),
		"n_minors":   p.n_minors,
		"n_majors":   p.n_majors,
		"n_promoted": p.n_promoted,
		"n_overflow": p.n_overflow,
	}
}

// evacuate promote rooted nursery objects that are not pinned, return
// nursery ranges that stay occupied.
func (p *Promoter) evacuate() ([]api.Range, bool) {
	if p.nursery == nil {
		panic("promoter is not bound to a nursery")
	}
	if p.pinall {
		return []api.Range{p.nursery.Bounds()}, false
	}

	overflow := false
	inplace := p.survivors[:0]
	for _, r := range p.roots {
		if !p.nursery.Contains(r.addr) {
			continue
		} else if !r.pinned {
			if addr, ok := p.promote(r); ok {
				r.addr = addr
				continue
			}
			overflow = true
		}
		end := r.addr + api.Addr(r.size)
		inplace = append(inplace, api.Range{Start: r.addr, End: end})
	}
	sort.Slice(inplace, func(i, j int) bool {
		return inplace[i].Start < inplace[j].Start
	})
	p.survivors = inplace

	// roots registered late may point to reused memory, merge overlaps.
	survivors := []api.Range{}
	for _, rng := range inplace {
		n := len(survivors)
		if n > 0 && rng.Start < survivors[n-1].End {
			if rng.End > survivors[n-1].End {
				survivors[n-1].End = rng.End
			}
			continue
		}
		survivors = append(survivors, rng)
	}
	return survivors, overflow
}

func (p *Promoter) promote(r *root) (api.Addr, bool) {
	vt, length := p.nursery.Header(r.addr)
	addr, ok := p.major.Allocdegraded(vt, r.size, length)
	if !ok {
		return 0, false
	}
	for off := int64(2 * api.Wordsize); off < r.size; off += api.Wordsize {
		word := p.nursery.Load(r.addr + api.Addr(off))
		p.major.Store(addr+api.Addr(off), word)
	}
	p.n_promoted++
	return addr, true
}
