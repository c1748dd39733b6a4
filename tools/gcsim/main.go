package main

import "os"
import "fmt"
import "time"
import "flag"
import "sync"
import "math/rand"

import hm "github.com/dustin/go-humanize"
import "github.com/bnclabs/gcalloc/api"
import "github.com/bnclabs/gcalloc/gc"
import "github.com/bnclabs/gcalloc/lib"
import "github.com/bnclabs/gcalloc/nursery"
import "github.com/bnclabs/gcalloc/simheap"

var options struct {
	size     [2]int // min-size, max-size
	nursery  int
	tlab     int
	section  int
	maxheap  int
	mutators int
	n        int
	live     float64
	window   int
	pin      float64
	clear    string
	logcomps string
	humanize bool
}

func argParse() {
	var size string

	flag.StringVar(&size, "size", "",
		"minsize,maxsize - allocate objects between [minsize,maxsize), like 16,1KiB")
	flag.IntVar(&options.nursery, "nursery", int(nursery.Defaultsize),
		"nursery size in bytes")
	flag.IntVar(&options.tlab, "tlab", int(gc.Defaulttlabsize),
		"nominal tlab size in bytes")
	flag.IntVar(&options.section, "section", 1024*1024,
		"major heap section size in bytes")
	flag.IntVar(&options.maxheap, "maxheap", 1024*1024*1024,
		"maximum heap size in bytes, excluding nursery")
	flag.IntVar(&options.mutators, "mutators", 4,
		"number of allocating goroutines")
	flag.IntVar(&options.n, "n", 1000000,
		"number of objects to allocate per mutator")
	flag.Float64Var(&options.live, "live", 0.1,
		"fraction of objects that stay reachable")
	flag.IntVar(&options.window, "window", 1000,
		"number of reachable objects held by each mutator")
	flag.Float64Var(&options.pin, "pin", 0.0,
		"fraction of reachable objects that are pinned")
	flag.StringVar(&options.clear, "clear", "tlab",
		"nursery clear policy, tlab or gc")
	flag.StringVar(&options.logcomps, "log", "",
		"comma separated components to log, gc,nursery,simheap,all")
	flag.BoolVar(&options.humanize, "humanize", true,
		"humanize byte counts in the report")
	flag.Parse()

	options.size = [2]int{16, 256}
	sizes, err := lib.Parsesizes(size)
	if err != nil {
		fmt.Printf("invalid -size %q: %v\n", size, err)
		os.Exit(1)
	}
	for i, ln := range sizes {
		if i < len(options.size) {
			options.size[i] = int(ln)
		}
	}
}

func main() {
	argParse()
	if comps := lib.Parsecsv(options.logcomps); len(comps) > 0 {
		gc.LogComponents(comps...)
		nursery.LogComponents(comps...)
		simheap.LogComponents(comps...)
	}

	setts := map[string]interface{}{
		"tlab.size":        int64(options.tlab),
		"maxheap":          int64(options.maxheap),
		"nursery.size":     int64(options.nursery),
		"nursery.clear":    options.clear,
		"section.size":     int64(options.section),
		"allowance.ratio":  float64(4.0),
		"savetarget.ratio": float64(0.5),
		"log.allowance":    options.logcomps != "",
	}
	major, los := simheap.NewSectionheap(setts), simheap.NewLargespace(setts)
	tracer := simheap.NewPromoter(major, los)
	heap := gc.NewHeap("gcsim", setts, tracer, major, los)
	major.Bind(heap.Governor())
	los.Bind(heap.Governor())
	tracer.Bind(heap.Nursery())

	now := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < options.mutators; i++ {
		wg.Add(1)
		go mutate(heap, tracer, i, &wg)
	}
	wg.Wait()
	total := options.n * options.mutators
	fmt.Printf("Took %v to allocate %v objects\n", time.Since(now), total)
	printstats(heap, major, los, tracer)
}

func mutate(heap *gc.Heap, tracer *simheap.Promoter, seed int, wg *sync.WaitGroup) {
	defer wg.Done()

	rnd := rand.New(rand.NewSource(int64(seed)))
	m := heap.Attach()
	defer m.Detach()

	roots := make([]int64, 0, options.window)
	vt := api.Vtable(0x1000 + seed)
	for i := 0; i < options.n; i++ {
		size := makesize(rnd)
		ptr, err := m.Alloc(vt, size)
		if err != nil {
			fmt.Printf("mutator %v: %v after %v allocations\n", seed, err, i)
			return
		}
		if rnd.Float64() >= options.live {
			continue
		}
		id := tracer.Root(ptr, size)
		if rnd.Float64() < options.pin {
			tracer.Pin(id, true)
		}
		if len(roots) == options.window {
			tracer.Drop(roots[0])
			roots = roots[1:]
		}
		roots = append(roots, id)
	}
}

func makesize(rnd *rand.Rand) int64 {
	min, max := options.size[0], options.size[1]
	size := int64(min)
	if max > min {
		size = int64(rnd.Intn(max-min) + min)
	}
	return api.Alignup(size)
}

func printstats(
	heap *gc.Heap, major *simheap.Sectionheap, los *simheap.Largespace,
	tracer *simheap.Promoter) {

	bytes := func(val interface{}) interface{} {
		if options.humanize {
			return hm.IBytes(uint64(val.(int64)))
		}
		return val
	}

	stats := heap.Stats()
	nstats := stats["nursery"].(map[string]interface{})
	gstats := stats["governor"].(map[string]interface{})
	fmsg := "Collections{minor:%v major:%v slowpath:%v degraded:%v large:%v}\n"
	fmt.Printf(
		fmsg, stats["n_minors"], stats["n_majors"], stats["n_slowpath"],
		stats["n_degraded"], stats["n_large"])

	fmsg = "Nursery{size:%v available:%v wasted:%v rebuilds:%v}\n"
	fmt.Printf(
		fmsg, bytes(nstats["size"]), bytes(nstats["available"]),
		bytes(nstats["wasted"]), nstats["n_rebuilds"])

	fmsg = "Governor{allowance:%v min:%v allocated:%v computes:%v}\n"
	fmt.Printf(
		fmsg, bytes(gstats["allowance"]), bytes(gstats["minallowance"]),
		bytes(gstats["allocatedheap"]), gstats["n_computes"])

	mstats, lstats, tstats := major.Stats(), los.Stats(), tracer.Stats()
	fmsg = "Major{sections:%v allocs:%v released:%v} LOS{usage:%v objects:%v}\n"
	fmt.Printf(
		fmsg, mstats["sections"], mstats["n_allocs"], mstats["n_releases"],
		bytes(lstats["usage"]), lstats["objects"])
	fmsg = "Tracer{roots:%v promoted:%v overflow:%v}\n"
	fmt.Printf(fmsg, tstats["roots"], tstats["n_promoted"], tstats["n_overflow"])

	heap.Log(options.humanize)
}
