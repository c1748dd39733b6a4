package nursery

import "fmt"

import s "github.com/bnclabs/gosettings"
import "github.com/bnclabs/gcalloc/api"

// Defaultsize of nursery, 4MB.
const Defaultsize = int64(4 * 1024 * 1024)

// Defaultmaxwaste fragments and TLAB tails smaller than this are not
// worth tracking.
const Defaultmaxwaste = int64(512)

// Defaultscanstart granularity of scan start hints.
const Defaultscanstart = int64(8 * 1024)

// Defaultsettings for nursery.
//
// "size" (int64, default: <Defaultsize>)
//		Size of nursery in bytes, shall be a multiple of "scanstart".
//
// "maxwaste" (int64, default: <Defaultmaxwaste>)
//		Fragments left with less than maxwaste bytes are dropped.
//
// "scanstart" (int64, default: <Defaultscanstart>)
//		Nursery is divided into sections of scanstart bytes, and for each
//		section the lowest object address allocated from a TLAB boundary
//		is remembered as scan start hint.
//
// "clear" (string, default: "tlab")
//		Zero memory when a TLAB is carved, "tlab", or zero all free
//		space right after a collection, "gc".
func Defaultsettings() s.Settings {
	return s.Settings{
		"size":      Defaultsize,
		"maxwaste":  Defaultmaxwaste,
		"scanstart": Defaultscanstart,
		"clear":     "tlab",
	}
}

func validatesettings(size, maxwaste, scanstart int64, clear string) {
	if size <= 0 || (size%api.Alignment) != 0 {
		panicerr("nursery size %v not a multiple of %v", size, api.Alignment)
	} else if scanstart <= 0 || (scanstart%api.Alignment) != 0 {
		panicerr("scanstart %v not a multiple of %v", scanstart, api.Alignment)
	} else if (size % scanstart) != 0 {
		panicerr("nursery size %v not a multiple of scanstart %v", size, scanstart)
	} else if maxwaste < 0 || (maxwaste%api.Alignment) != 0 {
		panicerr("maxwaste %v not a multiple of %v", maxwaste, api.Alignment)
	} else if maxwaste >= size {
		panicerr("maxwaste %v exceeds nursery size %v", maxwaste, size)
	}
	switch clear {
	case "tlab", "gc":
	default:
		panic(fmt.Errorf("invalid clear policy %q", clear))
	}
}
