package gc

import "testing"

import s "github.com/bnclabs/gosettings"
import "github.com/bnclabs/gcalloc/api"
import "github.com/stretchr/testify/require"

func TestNewHeap(t *testing.T) {
	heap, _, _ := newtestheap(&testtracer{}, nil)
	require.Equal(t, "test", heap.Name())
	require.Equal(t, int64(64*1024), heap.Nursery().Size())
	require.Equal(t, Defaulttlabsize, heap.tlabsize)
	require.Equal(t, Defaultmaxsmallobj, heap.maxsmallobj)
	require.Equal(t, int64(0), heap.Degraded())
	require.Equal(t, int64(64*1024), heap.Getsettings().Int64("nursery.size"))
	require.Equal(t, 4*heap.nurserysize, heap.Governor().Allowance())

	m1, m2 := heap.Attach(), heap.Attach()
	require.NotEqual(t, m1.ID(), m2.ID())
	m1.Detach()
	m2.Detach()
}

func TestHeapSettings(t *testing.T) {
	cases := []s.Settings{
		{"tlab.size": int64(4100)},         // unaligned
		{"tlab.size": int64(8)},            // too small
		{"tlab.size": int64(128 * 1024)},   // larger than nursery
		{"maxsmallobj": int64(8)},          // too small
		{"maxsmallobj": int64(128 * 1024)}, // larger than nursery
		{"maxheap": int64(128 * 1024)},     // less than 4 x nursery
		{"nursery.clear": "always"},        // invalid policy
	}
	for _, setts := range cases {
		func() {
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("expected panic for %v", setts)
				}
			}()
			newtestheap(&testtracer{}, setts)
		}()
	}
}

func TestNurseryFull(t *testing.T) {
	tracer := &testtracer{}
	heap, _, _ := newtestheap(tracer, nil)
	m := heap.Attach()
	defer m.Detach()

	bounds := heap.Nursery().Bounds()
	for i := 0; i < 4096; i++ {
		ptr, err := m.Alloc(testvt, 16)
		require.NoError(t, err)
		require.True(t, bounds.Contains(ptr))
	}
	require.Equal(t, int64(0), heap.Minors())
	require.Equal(t, int64(0), heap.Nursery().Fragments().Available())

	ptr, err := m.Alloc(testvt, 16)
	require.NoError(t, err)
	require.True(t, bounds.Contains(ptr))
	require.Equal(t, int64(1), heap.Minors())
	require.Equal(t, int64(0), heap.Majors())
	require.Equal(t, []string{"nursery full"}, tracer.getreasons())
	require.Equal(t, int64(0), heap.Degraded())

	stats := m.Stats()
	require.Equal(t, int64(4097), stats["n_allocs"])
	require.Equal(t, int64(17), stats["n_tlabs"])
	require.Equal(t, int64(0), stats["wasted"])
}

func TestPromotion(t *testing.T) {
	heap, tracer, major := newsimheap(nil)
	m := heap.Attach()
	defer m.Detach()

	ids := []int64{}
	for round := int64(1); round <= 6; round++ {
		for heap.Minors()+heap.Majors() < round {
			ptr, err := m.Alloc(testvt, 32)
			require.NoError(t, err)
			id := tracer.Root(ptr, 32)
			heap.Nursery().Store(ptr+16, uint64(id))
			ids = append(ids, id)
		}
	}
	require.Equal(t, int64(5), heap.Minors())
	require.Equal(t, int64(1), heap.Majors())
	refs := []string{
		"nursery full", "nursery full", "nursery full", "nursery full",
		"nursery full", "minor allowance",
	}
	require.Equal(t, refs, tracer.Reasons())
	require.Equal(t, int64(6), major.Sections())

	innursery := 0
	for _, id := range ids {
		addr, ok := tracer.Lookup(id)
		require.True(t, ok)
		if major.Contains(addr) {
			vt, _ := major.Header(addr)
			require.Equal(t, testvt, vt)
			require.Equal(t, uint64(id), major.Load(addr+16))
			continue
		}
		innursery++
		require.True(t, heap.Nursery().Contains(addr))
		require.Equal(t, uint64(id), heap.Nursery().Load(addr+16))
	}
	require.Equal(t, 1, innursery)

	// dropped roots are swept by next major.
	for _, id := range ids {
		tracer.Drop(id)
	}
	heap.Collect(GenerationOld, "test")
	require.Equal(t, int64(0), major.Sections())
	require.Equal(t, int64(0), heap.Governor().Allocatedheap())
}

func TestLargeObject(t *testing.T) {
	heap, _, los := newtestheap(&testtracer{}, nil)
	m := heap.Attach()
	defer m.Detach()

	_, err := m.Alloc(testvt, 16)
	require.NoError(t, err)
	tlab := m.Tlab()

	ptr, err := m.Allocvector(testvt, 16*1024, 2040)
	require.NoError(t, err)
	require.False(t, heap.Nursery().Contains(ptr))
	require.True(t, los.Contains(ptr))
	vt, length := los.Header(ptr)
	require.Equal(t, testvt, vt)
	require.Equal(t, uint64(2040), length)

	require.Equal(t, tlab, m.Tlab())
	require.Equal(t, int64(16*1024), los.Usage())
	require.Equal(t, int64(16*1024), heap.Governor().Allocatedheap())
	require.Equal(t, int64(1), heap.Stats()["n_large"])
	require.Equal(t, int64(0), heap.Minors()+heap.Majors())

	// just above small object threshold.
	ptr, err = m.Alloc(testvt, heap.maxsmallobj+8)
	require.NoError(t, err)
	require.True(t, los.Contains(ptr))
	require.Equal(t, int64(2), heap.Stats()["n_large"])
}

func TestOutofMemory(t *testing.T) {
	tracer := &testtracer{}
	heap, _, los := newtestheap(tracer, s.Settings{"maxheap": int64(256 * 1024)})
	m := heap.Attach()
	defer m.Detach()

	_, err := m.Alloc(testvt, 512*1024)
	require.Equal(t, api.ErrorOutofMemory, err)
	refs := []string{"LOS overflow", "LOS allocation failure"}
	require.Equal(t, refs, tracer.getreasons())
	require.Equal(t, int64(2), heap.Majors())
	require.Equal(t, int64(1), heap.Stats()["n_ooms"])
	require.Equal(t, int64(0), los.Usage())

	// heap is still usable.
	ptr, err := m.Alloc(testvt, 64*1024)
	require.NoError(t, err)
	require.True(t, los.Contains(ptr))
}

func TestMinorOverflow(t *testing.T) {
	tracer := &testtracer{overflow: true}
	heap, _, _ := newtestheap(tracer, nil)

	heap.Collect(GenerationNursery, "test")
	require.Equal(t, []string{"test", "minor overflow"}, tracer.getreasons())
	require.Equal(t, int64(1), heap.Minors())
	require.Equal(t, int64(1), heap.Majors())

	tracer.overflow = false
	heap.Collect(GenerationOld, "explicit")
	require.Equal(t, int64(1), heap.Minors())
	require.Equal(t, int64(2), heap.Majors())
}

func TestConcurrentFinish(t *testing.T) {
	tracer := &testtracer{}
	heap, _, _ := newtestheap(tracer, nil)
	m := heap.Attach()
	defer m.Detach()

	heap.Beginconcurrent()
	require.True(t, heap.Governor().Concurrent())

	// workers still marking.
	_, err := m.Alloc(testvt, 16*1024)
	require.NoError(t, err)
	require.Equal(t, 0, len(tracer.getreasons()))

	tracer.mu.Lock()
	tracer.done = true
	tracer.mu.Unlock()
	_, err = m.Alloc(testvt, 16*1024)
	require.NoError(t, err)
	require.Equal(t, []string{"finish concurrent collection"}, tracer.getreasons())
	require.False(t, heap.Governor().Concurrent())
	require.Equal(t, int64(1), heap.Majors())

	// no concurrent collection in flight.
	_, err = m.Alloc(testvt, 16*1024)
	require.NoError(t, err)
	require.Equal(t, int64(1), heap.Majors())
}

func TestDegradedMode(t *testing.T) {
	heap, tracer, major := newsimheap(nil)
	m := heap.Attach()
	defer m.Detach()

	tracer.Pinnursery(true)
	for i := 0; i < 4096; i++ {
		_, err := m.Alloc(testvt, 16)
		require.NoError(t, err)
	}
	require.Equal(t, int64(0), heap.Minors())

	// nursery stays full after minor, allocation is degraded.
	ptr, err := m.Alloc(testvt, 16)
	require.NoError(t, err)
	require.Equal(t, int64(1), heap.Minors())
	require.True(t, major.Contains(ptr))
	require.False(t, heap.Nursery().Contains(ptr))
	require.True(t, heap.Degraded() > 0)

	for heap.Degraded() < heap.Nursery().Size() {
		ptr, err := m.Alloc(testvt, 16)
		require.NoError(t, err)
		require.True(t, major.Contains(ptr))
	}
	require.Equal(t, int64(1), heap.Minors())
	require.Equal(t, int64(0), heap.Majors())

	// major collection comes first, nursery is still pinned after it.
	ptr, err = m.Alloc(testvt, 16)
	require.NoError(t, err)
	require.True(t, major.Contains(ptr))
	require.Equal(t, int64(1), heap.Majors())
	require.Equal(t, int64(2), heap.Minors())
	refs := []string{"nursery full", "degraded mode overflow", "nursery full"}
	require.Equal(t, refs, tracer.Reasons())
	require.True(t, heap.Degraded() < heap.Nursery().Size())

	stats := heap.Stats()
	require.Equal(t, int64(2), stats["n_episodes"])
	require.True(t, stats["n_degraded"].(int64) > 4096)

	// nursery is usable again once pinned objects are gone.
	tracer.Pinnursery(false)
	heap.Collect(GenerationOld, "test")
	require.Equal(t, int64(0), heap.Degraded())
	ptr, err = m.Alloc(testvt, 16)
	require.NoError(t, err)
	require.True(t, heap.Nursery().Contains(ptr))
}

func TestDirectAlloc(t *testing.T) {
	heap, _, _ := newtestheap(&testtracer{}, nil)
	m := heap.Attach()
	defer m.Detach()

	// larger than a tlab.
	ptr, err := m.Alloc(testvt, 6000)
	require.NoError(t, err)
	require.True(t, heap.Nursery().Contains(ptr))
	require.Equal(t, Tlab{}, m.Tlab())
	vt, _ := heap.Nursery().Header(ptr)
	require.Equal(t, testvt, vt)

	// tlab tail is worth keeping.
	first, err := m.Alloc(testvt, 16)
	require.NoError(t, err)
	tlab := m.Tlab()
	ptr, err = m.Alloc(testvt, heap.tlabsize-8)
	require.NoError(t, err)
	require.Equal(t, tlab, m.Tlab())
	require.Equal(t, first+16, m.Tlab().Next())
	require.False(t, tlab.Range().Contains(ptr))

	hints := map[api.Addr]bool{}
	heap.Nursery().Scanstarts(func(addr api.Addr) bool {
		hints[addr] = true
		return true
	})
	require.True(t, hints[heap.Nursery().Bounds().Start])

	stats := m.Stats()
	require.Equal(t, int64(3), stats["n_allocs"])
	require.Equal(t, int64(1), stats["n_tlabs"])
	require.Equal(t, int64(3), stats["n_slowpath"])
}

func TestClearPolicy(t *testing.T) {
	for _, policy := range []string{"gc", "tlab"} {
		heap, _, _ := newtestheap(&testtracer{}, s.Settings{"nursery.clear": policy})
		n := heap.Nursery()
		m := heap.Attach()

		ptrs := []api.Addr{}
		for i := 0; i < 100; i++ {
			ptr, err := m.Alloc(testvt, 32)
			require.NoError(t, err)
			n.Store(ptr+16, 0xdeadbeef)
			n.Store(ptr+24, 0xdeadbeef)
			ptrs = append(ptrs, ptr)
		}
		heap.Collect(GenerationNursery, "test")
		if policy == "gc" {
			for _, ptr := range ptrs {
				if x := n.Load(ptr + 16); x != 0 {
					t.Errorf("%v: expected %v, got %v", policy, 0, x)
				}
			}
		}
		for i := 0; i < 100; i++ {
			ptr, err := m.Alloc(testvt, 32)
			require.NoError(t, err)
			if x := n.Load(ptr + 16); x != 0 {
				t.Errorf("%v: expected %v, got %v", policy, 0, x)
			} else if x := n.Load(ptr + 24); x != 0 {
				t.Errorf("%v: expected %v, got %v", policy, 0, x)
			}
		}
		m.Detach()
	}
}

func TestHeapStats(t *testing.T) {
	heap, _, _ := newtestheap(&testtracer{}, nil)
	m := heap.Attach()
	defer m.Detach()

	for i := 0; i < 10000; i++ {
		_, err := m.Alloc(testvt, 32)
		require.NoError(t, err)
	}
	_, err := m.Alloc(testvt, 16*1024)
	require.NoError(t, err)

	stats := heap.Stats()
	require.Equal(t, "test", stats["name"])
	require.Equal(t, int64(1), stats["mutators"])
	require.Equal(t, heap.Minors(), stats["n_minors"])
	require.True(t, heap.Minors() > 0)
	nstats := stats["nursery"].(map[string]interface{})
	require.Equal(t, int64(64*1024), nstats["size"])
	require.Equal(t, heap.Minors()+1, nstats["n_rebuilds"]) // one at start
	pstats := stats["a_pause"].(map[string]interface{})
	require.Equal(t, heap.Minors(), pstats["samples"])
	gstats := stats["governor"].(map[string]interface{})
	require.Equal(t, int64(16*1024), gstats["allocatedheap"])

	heap.Log(true)
	heap.Log(false)
}

func BenchmarkCollect(b *testing.B) {
	heap, _, _ := newtestheap(&testtracer{}, nil)
	for i := 0; i < b.N; i++ {
		heap.Collect(GenerationNursery, "bench")
	}
}
