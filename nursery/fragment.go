// Functions and methods are not thread safe.

package nursery

import "fmt"
import "sort"

import "github.com/bnclabs/gcalloc/api"
import "github.com/bnclabs/gcalloc/lib"

// Fragment is a free range [start, end) of nursery, of which
// [start, next) is already handed out.
type Fragment struct {
	start   api.Addr
	next    api.Addr
	end     api.Addr
	link    *Fragment // allocation list
	inorder *Fragment // region list, address order
}

func (frag *Fragment) remaining() int64 {
	return int64(frag.end - frag.next)
}

// Fragments manage the free space of nursery between two collections.
type Fragments struct {
	// 64-bit aligned stats
	n_rebuilds int64
	n_allocs   int64
	n_ranges   int64
	n_retires  int64
	n_fails    int64
	wasted     int64

	bounds     api.Range
	maxwaste   int64
	allochead  *Fragment // consumable, larger fragments first
	regionhead *Fragment // all fragments carved by last rebuild
	h_fragsize *lib.HistogramSize
}

func newfragments(bounds api.Range, maxwaste int64) *Fragments {
	return &Fragments{
		bounds:     bounds,
		maxwaste:   maxwaste,
		h_fragsize: lib.NewhistogramSize(64, 64*1024*1024),
	}
}

// Alloc a contiguous range of exactly `size` bytes. Return false if
// no fragment can supply it, which means nursery is full for this
// request.
func (frags *Fragments) Alloc(size int64) (api.Addr, bool) {
	checkaligned(0, size)
	prev := &frags.allochead
	for frag := *prev; frag != nil; frag = *prev {
		if ptr, ok := frags.allocfrom(prev, frag, size); ok {
			frags.n_allocs++
			return ptr, true
		}
		prev = &frag.link
	}
	frags.n_fails++
	return 0, false
}

// Allocrange allocate a range of `desired` bytes, settling for anything
// more than `minimum` bytes when no fragment has desired bytes left.
// Return the range's start address and its actual size.
func (frags *Fragments) Allocrange(desired, minimum int64) (api.Addr, int64, bool) {
	checkaligned(0, desired)
	checkaligned(0, minimum)
	if minimum > desired {
		panicerr("minimum %v exceeds desired %v", minimum, desired)
	}

	var minprev **Fragment
	var minfrag *Fragment

	current := minimum
	prev := &frags.allochead
	for frag := *prev; frag != nil; frag = *prev {
		remaining := frag.remaining()
		if desired <= remaining {
			size := desired
			if remaining-desired < frags.maxwaste {
				size = remaining // tail is too small to track, hand it out.
			}
			ptr, _ := frags.allocfrom(prev, frag, size)
			frags.n_ranges++
			return ptr, size, true
		}
		if current <= remaining {
			minprev, minfrag, current = prev, frag, remaining
		}
		prev = &frag.link
	}
	if minfrag != nil {
		size := minfrag.remaining()
		ptr, _ := frags.allocfrom(minprev, minfrag, size)
		frags.n_ranges++
		return ptr, size, true
	}
	frags.n_fails++
	return 0, 0, false
}

// Retire an unused range, typically a TLAB's tail, back to the
// allocation list. Ranges smaller than maxwaste are abandoned.
func (frags *Fragments) Retire(start, end api.Addr) bool {
	checkaligned(start, int64(end-start))
	if start < frags.bounds.Start || end > frags.bounds.End || end < start {
		panicerr("retired range %v outside nursery %v", api.Range{Start: start, End: end}, frags.bounds)
	}
	if int64(end-start) < frags.maxwaste {
		frags.wasted += int64(end - start)
		return false
	}
	frag := &Fragment{start: start, next: start, end: end}
	frags.insert(frag)
	frags.n_retires++
	if heavyassert {
		frags.Validate()
	}
	return true
}

// Rebuild the fragment list as the complement of `survivors` inside the
// nursery. Must be called with all allocators excluded. Return the
// number of free bytes.
func (frags *Fragments) Rebuild(survivors []api.Range) int64 {
	sorted := make([]api.Range, len(survivors))
	copy(sorted, survivors)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	list := make([]*Fragment, 0, len(sorted)+1)
	cursor := frags.bounds.Start
	for i, r := range sorted {
		checkaligned(r.Start, r.Size())
		if r.Start < frags.bounds.Start || r.End > frags.bounds.End {
			panicerr("survivor %v outside nursery %v", r, frags.bounds)
		} else if r.End < r.Start {
			panicerr("survivor %v is inverted", r)
		} else if i > 0 && r.Start < sorted[i-1].End {
			panicerr("survivor %v overlaps %v", r, sorted[i-1])
		}
		if r.Start > cursor {
			list = append(list, &Fragment{start: cursor, next: cursor, end: r.Start})
		}
		cursor = r.End
	}
	if cursor < frags.bounds.End {
		end := frags.bounds.End
		list = append(list, &Fragment{start: cursor, next: cursor, end: end})
	}

	// region list in address order.
	frags.regionhead = nil
	free := int64(0)
	for i := len(list) - 1; i >= 0; i-- {
		list[i].inorder = frags.regionhead
		frags.regionhead = list[i]
		free += list[i].remaining()
		frags.h_fragsize.Add(list[i].remaining())
	}
	// allocation list, larger fragments first, earlier on ties.
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].remaining() > list[j].remaining()
	})
	frags.allochead = nil
	for i := len(list) - 1; i >= 0; i-- {
		list[i].link = frags.allochead
		frags.allochead = list[i]
	}
	frags.n_rebuilds++

	if heavyassert {
		frags.Validate()
	}
	debugf("nursery rebuilt %v fragments, %v bytes free\n", len(list), free)
	return free
}

// Canalloc return true if some fragment can supply `size` bytes.
func (frags *Fragments) Canalloc(size int64) bool {
	for frag := frags.allochead; frag != nil; frag = frag.link {
		if frag.remaining() >= size {
			return true
		}
	}
	return false
}

// Available return free bytes left in the allocation list.
func (frags *Fragments) Available() int64 {
	available := int64(0)
	for frag := frags.allochead; frag != nil; frag = frag.link {
		available += frag.remaining()
	}
	return available
}

// Freeranges return the free ranges in the allocation list, in list
// order.
func (frags *Fragments) Freeranges() []api.Range {
	ranges := []api.Range{}
	for frag := frags.allochead; frag != nil; frag = frag.link {
		ranges = append(ranges, api.Range{Start: frag.next, End: frag.end})
	}
	return ranges
}

// Walk the region list, all fragments carved by the last rebuild in
// address order, along with their allocation cursor. Walk stops when
// callback returns false.
func (frags *Fragments) Walk(callb func(start, next, end api.Addr) bool) {
	for frag := frags.regionhead; frag != nil; frag = frag.inorder {
		if !callb(frag.start, frag.next, frag.end) {
			return
		}
	}
}

// Validate fragment invariants, panics on violation.
func (frags *Fragments) Validate() {
	ranges := []api.Range{}
	for frag := frags.allochead; frag != nil; frag = frag.link {
		if frag.start > frag.next || frag.next > frag.end {
			fmsg := "fragment cursor out of order {%x,%x,%x}"
			panic(fmt.Errorf(fmsg, frag.start, frag.next, frag.end))
		} else if frag.start < frags.bounds.Start || frag.end > frags.bounds.End {
			r := api.Range{Start: frag.start, End: frag.end}
			panicerr("fragment %v outside nursery %v", r, frags.bounds)
		}
		ranges = append(ranges, api.Range{Start: frag.next, End: frag.end})
	}
	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].Start < ranges[j].Start
	})
	for i := 1; i < len(ranges); i++ {
		if ranges[i].Overlaps(ranges[i-1]) {
			panicerr("fragment %v overlaps %v", ranges[i], ranges[i-1])
		}
	}
	var prev *Fragment
	for frag := frags.regionhead; frag != nil; frag = frag.inorder {
		if prev != nil && frag.start < prev.end {
			panicerr("region list out of order at %x", uintptr(frag.start))
		}
		prev = frag
	}
}

// Stats return fragment allocator statistics.
func (frags *Fragments) Stats() map[string]interface{} {
	return map[string]interface{}{
		"n_rebuilds": frags.n_rebuilds,
		"n_allocs":   frags.n_allocs,
		"n_ranges":   frags.n_ranges,
		"n_retires":  frags.n_retires,
		"n_fails":    frags.n_fails,
		"wasted":     frags.wasted,
		"available":  frags.Available(),
		"h_fragsize": frags.h_fragsize.Fullstats(),
	}
}

//---- local functions

// allocfrom carve `size` bytes from the front of frag. A fragment left
// with less than maxwaste bytes is unlinked from the allocation list,
// its tail is wasted till next collection.
func (frags *Fragments) allocfrom(
	prev **Fragment, frag *Fragment, size int64) (api.Addr, bool) {

	ptr := frag.next
	end := ptr + api.Addr(size)
	if end > frag.end {
		return 0, false
	}
	if int64(frag.end-end) < frags.maxwaste {
		*prev = frag.link
		frag.link = nil
		frags.wasted += int64(frag.end - end)
		end = frag.end
	}
	frag.next = end
	return ptr, true
}

// insert frag in allocation list, keeping larger fragments ahead.
func (frags *Fragments) insert(frag *Fragment) {
	prev := &frags.allochead
	for next := *prev; next != nil; next = *prev {
		if next.remaining() < frag.remaining() {
			break
		}
		prev = &next.link
	}
	frag.link = *prev
	*prev = frag
}
