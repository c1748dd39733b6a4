package gc

import "sort"
import "sync"
import "testing"
import "math/rand"
import "sync/atomic"

import s "github.com/bnclabs/gosettings"
import "github.com/bnclabs/gcalloc/api"
import "github.com/stretchr/testify/require"

func TestTryalloc(t *testing.T) {
	heap, _, _ := newtestheap(&testtracer{}, nil)
	m := heap.Attach()
	defer m.Detach()

	// no tlab yet.
	if _, ok := m.Tryalloc(testvt, 16); ok {
		t.Errorf("unexpected allocation without tlab")
	}
	first, err := m.Alloc(testvt, 16)
	require.NoError(t, err)
	tlab := m.Tlab()
	require.Equal(t, first, tlab.Range().Start)
	require.Equal(t, heap.tlabsize, tlab.Range().Size())

	// bump till the tlab is exactly full.
	prev := first
	for i := 1; i < int(heap.tlabsize/16); i++ {
		ptr, ok := m.Tryalloc(testvt, 16)
		require.True(t, ok)
		require.Equal(t, prev+16, ptr)
		prev = ptr
	}
	require.Equal(t, tlab.Range().End, m.Tlab().Next())
	if _, ok := m.Tryalloc(testvt, 16); ok {
		t.Errorf("unexpected allocation beyond tlab")
	}
	require.Equal(t, tlab.Range().End, m.Tlab().Next())

	// large objects never use the fast path.
	if _, ok := m.Tryalloc(testvt, heap.maxsmallobj+8); ok {
		t.Errorf("unexpected large allocation from tlab")
	}
	stats := m.Stats()
	require.Equal(t, heap.tlabsize/16, stats["n_allocs"])
	require.Equal(t, int64(1), stats["n_tlabs"])
}

func TestTryallocStopping(t *testing.T) {
	heap, _, _ := newtestheap(&testtracer{}, nil)
	m := heap.Attach()
	defer m.Detach()

	_, err := m.Alloc(testvt, 16)
	require.NoError(t, err)
	next := m.Tlab().Next()

	atomic.StoreInt64(&heap.stopping, 1)
	if _, ok := m.Tryalloc(testvt, 16); ok {
		t.Errorf("unexpected allocation while collector is stopping")
	}
	require.Equal(t, int64(0), atomic.LoadInt64(&m.incritical))
	require.Equal(t, next, m.Tlab().Next())
	atomic.StoreInt64(&heap.stopping, 0)

	ptr, ok := m.Tryalloc(testvt, 16)
	require.True(t, ok)
	require.Equal(t, next, ptr)
}

func TestAllocAlignment(t *testing.T) {
	heap, _, _ := newtestheap(&testtracer{}, nil)
	m := heap.Attach()
	defer m.Detach()

	bounds := heap.Nursery().Bounds()
	rnd := rand.New(rand.NewSource(100))
	ranges, total := []api.Range{}, int64(0)
	for total < bounds.Size()/2 {
		size := api.Alignup(int64(rnd.Intn(240)) + 16)
		ptr, err := m.Alloc(testvt, size)
		require.NoError(t, err)
		if !api.Isaligned(ptr) {
			t.Fatalf("address %x not aligned", ptr)
		}
		r := api.Range{Start: ptr, End: ptr + api.Addr(size)}
		if r.Start < bounds.Start || r.End > bounds.End {
			t.Fatalf("object %v outside nursery %v", r, bounds)
		}
		vt, _ := heap.Nursery().Header(ptr)
		require.Equal(t, testvt, vt)
		ranges, total = append(ranges, r), total+size
	}
	require.Equal(t, int64(0), heap.Minors())

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	for i := 1; i < len(ranges); i++ {
		if ranges[i].Overlaps(ranges[i-1]) {
			t.Fatalf("%v overlaps %v", ranges[i], ranges[i-1])
		}
	}

	// invalid sizes.
	for _, size := range []int64{0, 8, 20} {
		func() {
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("expected panic for size %v", size)
				}
			}()
			m.Alloc(testvt, size)
		}()
	}
}

func TestScanstartCrossing(t *testing.T) {
	setts := s.Settings{"tlab.size": int64(32 * 1024)}
	heap, _, _ := newtestheap(&testtracer{}, setts)
	m := heap.Attach()
	defer m.Detach()

	first, err := m.Alloc(testvt, 16)
	require.NoError(t, err)
	require.Equal(t, first+8192, m.Tlab().Tempend())

	// object ending exactly at tempend does not cross.
	for i := 1; i < 8192/16; i++ {
		if _, ok := m.Tryalloc(testvt, 16); !ok {
			t.Fatalf("unexpected failure at %v", i)
		}
	}
	require.Equal(t, first+8192, m.Tlab().Tempend())
	ptr, ok := m.Tryalloc(testvt, 16)
	require.True(t, ok)
	require.Equal(t, first+8192, ptr)
	require.Equal(t, first+8192+16+8192, m.Tlab().Tempend())

	// tempend is capped at realend.
	for m.Tlab().Tempend() < m.Tlab().Range().End {
		if _, ok := m.Tryalloc(testvt, 16); !ok {
			t.Fatalf("unexpected failure at %x", m.Tlab().Next())
		}
	}
	require.Equal(t, first+24608+16, m.Tlab().Next())

	hints := []api.Addr{}
	heap.Nursery().Scanstarts(func(addr api.Addr) bool {
		hints = append(hints, addr)
		return true
	})
	refs := []api.Addr{first, first + 8192, first + 16400, first + 24608}
	require.Equal(t, refs, hints)
}

func TestMutatorsOverlap(t *testing.T) {
	n := 1000000
	if testing.Short() {
		n = 10000
	}
	setts := s.Settings{
		"nursery.size": int64(32 * 1024 * 1024),
		"maxheap":      int64(256 * 1024 * 1024),
	}
	heap, _, _ := newtestheap(&testtracer{}, setts)

	var wg sync.WaitGroup
	addrs := make([][]api.Addr, 2)
	for i := range addrs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := heap.Attach()
			defer m.Detach()
			ptrs := make([]api.Addr, 0, n)
			for j := 0; j < n; j++ {
				ptr, err := m.Alloc(testvt, 16)
				if err != nil {
					t.Errorf("unexpected %v", err)
					return
				}
				ptrs = append(ptrs, ptr)
			}
			addrs[i] = ptrs
		}(i)
	}
	wg.Wait()
	require.Equal(t, int64(0), heap.Minors())

	all := append(append([]api.Addr{}, addrs[0]...), addrs[1]...)
	require.Equal(t, 2*n, len(all))
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for i := 1; i < len(all); i++ {
		if all[i]-all[i-1] < 16 {
			t.Fatalf("objects at %x and %x overlap", all[i-1], all[i])
		}
	}
}

func TestVtableLast(t *testing.T) {
	setts := s.Settings{
		"nursery.size":      int64(4 * 1024 * 1024),
		"nursery.scanstart": int64(1024),
		"tlab.size":         int64(512),
		"nursery.maxwaste":  int64(64),
		"maxheap":           int64(64 * 1024 * 1024),
	}
	heap, _, _ := newtestheap(&testtracer{}, setts)
	n := heap.Nursery()

	var wg sync.WaitGroup
	done, violations, seen := int64(0), int64(0), int64(0)
	scandone := make(chan struct{})
	go func() {
		defer close(scandone)
		for atomic.LoadInt64(&done) == 0 {
			n.Scanstarts(func(addr api.Addr) bool {
				vt, length := n.Header(addr)
				if vt != 0 {
					atomic.AddInt64(&seen, 1)
					if length == 0 {
						atomic.AddInt64(&violations, 1)
					}
				}
				return true
			})
		}
	}()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := heap.Attach()
			defer m.Detach()
			for j := 0; j < 20000; j++ {
				length := uint64(1 + (j % 7))
				if _, err := m.Allocvector(testvt, 32, length); err != nil {
					t.Errorf("unexpected %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	atomic.StoreInt64(&done, 1)
	<-scandone
	t.Logf("scanned %v published headers", atomic.LoadInt64(&seen))

	require.Equal(t, int64(0), heap.Minors())
	require.Equal(t, int64(0), atomic.LoadInt64(&violations))
	n.Scanstarts(func(addr api.Addr) bool {
		vt, length := n.Header(addr)
		require.Equal(t, testvt, vt)
		require.NotEqual(t, uint64(0), length)
		return true
	})
}

func TestDetach(t *testing.T) {
	heap, _, _ := newtestheap(&testtracer{}, nil)
	frags := heap.Nursery().Fragments()
	available := frags.Available()

	m := heap.Attach()
	ptr, err := m.Alloc(testvt, 16)
	require.NoError(t, err)
	tlab := m.Tlab()
	require.Equal(t, available-heap.tlabsize, frags.Available())

	// tail goes back to nursery.
	m.Detach()
	require.Equal(t, available-16, frags.Available())
	found := false
	for _, r := range frags.Freeranges() {
		if r.Start == ptr+16 && r.End == tlab.Range().End {
			found = true
		}
	}
	require.True(t, found)
	require.Equal(t, int64(0), heap.Stats()["mutators"])

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("expected panic")
			}
		}()
		m.Detach()
	}()
}

func BenchmarkTryalloc(b *testing.B) {
	setts := s.Settings{"nursery.size": int64(4 * 1024 * 1024)}
	heap, _, _ := newtestheap(&testtracer{}, setts)
	m := heap.Attach()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := m.Tryalloc(testvt, 32); !ok {
			m.Alloc(testvt, 32)
		}
	}
}

func BenchmarkAlloc(b *testing.B) {
	setts := s.Settings{"nursery.size": int64(4 * 1024 * 1024)}
	heap, _, _ := newtestheap(&testtracer{}, setts)
	m := heap.Attach()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Alloc(testvt, 32)
	}
}
