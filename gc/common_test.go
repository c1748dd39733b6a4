package gc

import "sync"

import s "github.com/bnclabs/gosettings"
import "github.com/bnclabs/gcalloc/api"
import "github.com/bnclabs/gcalloc/simheap"

const testvt = api.Vtable(0xc0de0)

// testtracer record collections, returns preset survivors.
type testtracer struct {
	mu        sync.Mutex
	minors    int
	majors    int
	reasons   []string
	survivors []api.Range
	overflow  bool
	done      bool
}

func (tt *testtracer) Minor(reason string) ([]api.Range, bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.minors++
	tt.reasons = append(tt.reasons, reason)
	return tt.survivors, tt.overflow
}

func (tt *testtracer) Major(reason string) []api.Range {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.majors++
	tt.reasons = append(tt.reasons, reason)
	return tt.survivors
}

func (tt *testtracer) Workersdone() bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.done
}

func (tt *testtracer) getreasons() []string {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return append([]string{}, tt.reasons...)
}

func testsettings() s.Settings {
	return s.Settings{
		"nursery.size": int64(64 * 1024),
		"maxheap":      int64(64 * 1024 * 1024),
		"section.size": int64(64 * 1024),
	}
}

func newtestheap(
	tracer api.Tracer,
	setts s.Settings) (*Heap, *simheap.Sectionheap, *simheap.Largespace) {

	setts = testsettings().Mixin(setts)
	major, los := simheap.NewSectionheap(setts), simheap.NewLargespace(setts)
	heap := NewHeap("test", setts, tracer, major, los)
	major.Bind(heap.Governor())
	los.Bind(heap.Governor())
	return heap, major, los
}

func newsimheap(
	setts s.Settings) (*Heap, *simheap.Promoter, *simheap.Sectionheap) {

	setts = testsettings().Mixin(setts)
	major, los := simheap.NewSectionheap(setts), simheap.NewLargespace(setts)
	tracer := simheap.NewPromoter(major, los)
	heap := NewHeap("sim", setts, tracer, major, los)
	major.Bind(heap.Governor())
	los.Bind(heap.Governor())
	tracer.Bind(heap.Nursery())
	return heap, tracer, major
}

// fakemajor and fakelos let tests dictate heap occupancy.
type fakemajor struct {
	sections int64
	secsize  int64
}

func (fm *fakemajor) Allocdegraded(api.Vtable, int64, uint64) (api.Addr, bool) {
	return 0, false
}

func (fm *fakemajor) Sections() int64 {
	return fm.sections
}

func (fm *fakemajor) Sectionsize() int64 {
	return fm.secsize
}

type fakelos struct {
	usage int64
}

func (fl *fakelos) Alloclarge(api.Vtable, int64, uint64) (api.Addr, bool) {
	return 0, false
}

func (fl *fakelos) Usage() int64 {
	return fl.usage
}
